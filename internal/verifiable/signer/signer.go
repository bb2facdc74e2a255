// Package signer attaches proofs to composed credential documents.
package signer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"credentials/internal/verifiable/composition"
	"credentials/internal/verifiable/models"
	dErrors "credentials/pkg/domain-errors"
)

// Failure causes reported with issuance_failed errors.
const (
	CauseDocumentInvalid   = "document-invalid"
	CauseIdentifierInvalid = "identifier-invalid"
)

// ProofType is the linked-data proof suite attached by every signer.
const ProofType = "JsonWebSignature2020"

// Signer signs a document with the issuer's key.
type Signer interface {
	Sign(ctx context.Context, doc models.Document, issuer models.IssuanceConfiguration) (models.Document, error)
}

// IssuanceFailed wraps a signing failure with its cause tag.
func IssuanceFailed(cause string, err error) error {
	return &dErrors.Error{
		Code:    dErrors.CodeIssuanceFailed,
		Message: "failed to sign the verifiable credential: " + cause,
		Fields:  map[string]string{"cause": cause},
		Err:     err,
	}
}

// Cause returns the cause tag of an issuance_failed error, or "".
func Cause(err error) string {
	if !dErrors.HasCode(err, dErrors.CodeIssuanceFailed) {
		return ""
	}
	return dErrors.FieldsOf(err)["cause"]
}

var errExpansion = errors.New("expansion failed")

// checkDocument verifies the document only uses known vocabularies and has
// the shape of a verifiable credential.
func checkDocument(doc models.Document) error {
	contexts, ok := stringList(doc["@context"])
	if !ok || len(contexts) == 0 || contexts[0] != composition.ContextVC {
		return fmt.Errorf("%w: @context must start with %s", errExpansion, composition.ContextVC)
	}
	for _, c := range contexts {
		if !slices.Contains(composition.KnownContexts, c) {
			return fmt.Errorf("%w: unknown context %s", errExpansion, c)
		}
	}
	types, ok := stringList(doc["type"])
	if !ok || !slices.Contains(types, composition.TypeVC) {
		return fmt.Errorf("%w: type must include %s", errExpansion, composition.TypeVC)
	}
	for _, field := range []string{"issuer", "issuanceDate", "credentialSubject"} {
		if _, ok := doc[field]; !ok {
			return fmt.Errorf("%w: missing %s", errExpansion, field)
		}
	}
	return nil
}

func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// VerificationMethod is the key reference placed in proofs.
func VerificationMethod(issuerID string) string {
	return issuerID + "#key-1"
}
