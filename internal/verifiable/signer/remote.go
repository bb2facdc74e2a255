package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"credentials/internal/platform/metrics"
	"credentials/internal/verifiable/models"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/circuit"
)

// RemoteSigner delegates signing to an external signing service.
type RemoteSigner struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuit.Breaker
	metrics    *metrics.Metrics
}

// RemoteOption configures a RemoteSigner.
type RemoteOption func(*RemoteSigner)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(s *RemoteSigner) {
		s.httpClient = client
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) RemoteOption {
	return func(s *RemoteSigner) {
		s.breaker = b
	}
}

// WithMetrics records signer latency.
func WithMetrics(m *metrics.Metrics) RemoteOption {
	return func(s *RemoteSigner) {
		s.metrics = m
	}
}

// NewRemote creates a signer calling {baseURL}/credentials/issue.
func NewRemote(baseURL string, timeout time.Duration, opts ...RemoteOption) *RemoteSigner {
	s := &RemoteSigner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuit.New("vc-signer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type issueRequest struct {
	Credential models.Document `json:"credential"`
	Options    issueOptions    `json:"options"`
}

type issueOptions struct {
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	Key                string `json:"key"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Sign posts the document and returns the signed credential.
// Timeouts, transport failures and 5xx responses are retryable.
func (s *RemoteSigner) Sign(ctx context.Context, doc models.Document, issuer models.IssuanceConfiguration) (models.Document, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSignLatency(time.Since(start)) }()

	var signed models.Document
	err := s.breaker.Execute(func() error {
		var err error
		signed, err = s.post(ctx, doc, issuer)
		return err
	}, dErrors.IsRetryable)
	if errors.Is(err, circuit.ErrOpen) {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "signer circuit open")
	}
	return signed, err
}

func (s *RemoteSigner) post(ctx context.Context, doc models.Document, issuer models.IssuanceConfiguration) (models.Document, error) {
	body, err := json.Marshal(issueRequest{
		Credential: doc,
		Options: issueOptions{
			VerificationMethod: VerificationMethod(issuer.IssuerID),
			ProofPurpose:       "assertionMethod",
			Key:                issuer.IssuerKey,
		},
	})
	if err != nil {
		return nil, IssuanceFailed(CauseDocumentInvalid, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/credentials/issue", bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create signer request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "signer request timeout")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "signer request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read signer response")
	}

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusCreated:
	case resp.StatusCode >= 500:
		return nil, dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("signer unavailable: status %d", resp.StatusCode))
	default:
		return nil, classify(respBody)
	}

	var signed models.Document
	if err := json.Unmarshal(respBody, &signed); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to parse signer response")
	}
	return signed, nil
}

// classify maps a 4xx signer response onto a failure cause.
func classify(body []byte) error {
	var resp errorResponse
	_ = json.Unmarshal(body, &resp)
	detail := strings.ToLower(resp.Error + " " + resp.Message)
	if detail == " " {
		detail = strings.ToLower(string(body))
	}
	cause := CauseDocumentInvalid
	if strings.Contains(detail, "identifier") || strings.Contains(detail, "verification method") || strings.Contains(detail, "key") {
		cause = CauseIdentifierInvalid
	}
	return IssuanceFailed(cause, errors.New(strings.TrimSpace(detail)))
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
