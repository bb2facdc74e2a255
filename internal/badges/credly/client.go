package credly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/circuit"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxElapsed = 30 * time.Second
	maxPages          = 100
)

// Organization is the subset of the Credly organization resource the service reads.
type Organization struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// BadgeTemplate is one Credly badge template.
type BadgeTemplate struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	ImageURL    string    `json:"image_url"`
}

// Event is a webhook event as returned by the events endpoint.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	EventType      string         `json:"event_type"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	OccurredAt     time.Time      `json:"occurred_at"`
	BadgeTemplate  *BadgeTemplate `json:"badge_template,omitempty"`
}

type envelope[T any] struct {
	Data     T `json:"data"`
	Metadata struct {
		NextPageURL string `json:"next_page_url"`
	} `json:"metadata"`
}

// Client calls the Credly REST API on behalf of one organization at a time.
// Calls are bounded by a timeout, retried with exponential backoff on
// timeouts and outages, and guarded by a circuit breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuit.Breaker
	maxElapsed time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = b
	}
}

// WithMaxElapsed bounds the total time spent retrying one call.
func WithMaxElapsed(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxElapsed = d
	}
}

// NewClient creates a Credly API client.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuit.New("credly"),
		maxElapsed: defaultMaxElapsed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Organization fetches the organization; it doubles as a credentials check.
func (c *Client) Organization(ctx context.Context, orgID uuid.UUID, apiKey string) (*Organization, error) {
	var out envelope[Organization]
	if err := c.get(ctx, c.url("/organizations/%s", orgID), apiKey, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// BadgeTemplates lists every badge template of the organization, following pagination.
func (c *Client) BadgeTemplates(ctx context.Context, orgID uuid.UUID, apiKey string) ([]BadgeTemplate, error) {
	var templates []BadgeTemplate
	next := c.url("/organizations/%s/badge_templates", orgID)
	for page := 0; next != "" && page < maxPages; page++ {
		var out envelope[[]BadgeTemplate]
		if err := c.get(ctx, next, apiKey, &out); err != nil {
			return nil, err
		}
		templates = append(templates, out.Data...)
		next = out.Metadata.NextPageURL
	}
	return templates, nil
}

// Event fetches one webhook event with its badge template.
func (c *Client) Event(ctx context.Context, orgID, eventID uuid.UUID, apiKey string) (*Event, error) {
	var out envelope[Event]
	if err := c.get(ctx, c.url("/organizations/%s/events/%s", orgID, eventID), apiKey, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *Client) url(format string, args ...any) string {
	return c.baseURL + fmt.Sprintf(format, args...)
}

func (c *Client) get(ctx context.Context, url, apiKey string, target any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed

	op := func() error {
		err := c.breaker.Execute(func() error {
			return c.do(ctx, url, apiKey, target)
		}, dErrors.IsRetryable)
		if errors.Is(err, circuit.ErrOpen) {
			return backoff.Permanent(dErrors.Wrap(err, dErrors.CodeUnavailable, "credly circuit open"))
		}
		if err != nil && !dErrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func (c *Client) do(ctx context.Context, url, apiKey string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create credly request")
	}
	req.SetBasicAuth(apiKey, "")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "credly request timeout")
		}
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "credly request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read credly response")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return dErrors.New(dErrors.CodeBadRequest, "credly rejected the organization credentials")
	case resp.StatusCode == http.StatusNotFound:
		return dErrors.New(dErrors.CodeNotFound, "credly resource not found")
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("credly unavailable: status %d", resp.StatusCode))
	default:
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unexpected credly status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(body, target); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to parse credly response")
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
