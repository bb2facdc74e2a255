package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"credentials/internal/verifiable/models"
	dErrors "credentials/pkg/domain-errors"
)

const keyInfoPrefix = "credentials/issuer-key/"

// jwsHeader marks the payload as detached and unencoded (RFC 7797).
var jwsHeader = map[string]any{"alg": "EdDSA", "b64": false, "crit": []string{"b64"}}

// LocalSigner signs in process with an Ed25519 key derived from the issuer's
// key material.
type LocalSigner struct {
	now func() time.Time
}

// LocalOption configures a LocalSigner.
type LocalOption func(*LocalSigner)

// WithClock sets the proof creation clock.
func WithClock(now func() time.Time) LocalOption {
	return func(s *LocalSigner) {
		s.now = now
	}
}

// NewLocal creates an in-process signer.
func NewLocal(opts ...LocalOption) *LocalSigner {
	s := &LocalSigner{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign returns a copy of doc carrying a JsonWebSignature2020 proof.
func (s *LocalSigner) Sign(_ context.Context, doc models.Document, issuer models.IssuanceConfiguration) (models.Document, error) {
	if err := checkDocument(doc); err != nil {
		return nil, IssuanceFailed(CauseDocumentInvalid, err)
	}
	key, err := DeriveKey(issuer)
	if err != nil {
		return nil, IssuanceFailed(CauseIdentifierInvalid, err)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, IssuanceFailed(CauseDocumentInvalid, err)
	}
	jws, err := detachedJWS(payload, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign credential")
	}

	signed := maps.Clone(doc)
	signed["proof"] = map[string]any{
		"type":               ProofType,
		"created":            s.now().UTC().Format(time.RFC3339),
		"verificationMethod": VerificationMethod(issuer.IssuerID),
		"proofPurpose":       "assertionMethod",
		"jws":                jws,
	}
	return signed, nil
}

// DeriveKey derives the issuer's Ed25519 key with HKDF-SHA256 over its key
// material, bound to the issuer identifier.
func DeriveKey(issuer models.IssuanceConfiguration) (ed25519.PrivateKey, error) {
	if !strings.HasPrefix(issuer.IssuerID, "did:") {
		return nil, fmt.Errorf("issuer %q is not a DID", issuer.IssuerID)
	}
	if issuer.IssuerKey == "" {
		return nil, fmt.Errorf("issuer %s has no key material", issuer.IssuerID)
	}
	seed := make([]byte, ed25519.SeedSize)
	r := hkdf.New(sha256.New, []byte(issuer.IssuerKey), nil, []byte(keyInfoPrefix+issuer.IssuerID))
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive issuer key: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func detachedJWS(payload []byte, key ed25519.PrivateKey) (string, error) {
	header, err := json.Marshal(jwsHeader)
	if err != nil {
		return "", err
	}
	encHeader := base64.RawURLEncoding.EncodeToString(header)
	sig, err := jwt.SigningMethodEdDSA.Sign(encHeader+"."+string(payload), key)
	if err != nil {
		return "", err
	}
	return encHeader + ".." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Verify checks the proof of a document signed by LocalSigner.
func Verify(signed models.Document, pub ed25519.PublicKey) error {
	proof, ok := signed["proof"].(map[string]any)
	if !ok {
		return errors.New("document has no proof")
	}
	jws, _ := proof["jws"].(string)
	encHeader, encSig, found := strings.Cut(jws, "..")
	if !found {
		return errors.New("proof is not a detached jws")
	}
	sig, err := base64.RawURLEncoding.DecodeString(encSig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}

	unsigned := maps.Clone(signed)
	delete(unsigned, "proof")
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return err
	}
	return jwt.SigningMethodEdDSA.Verify(encHeader+"."+string(payload), sig, pub)
}
