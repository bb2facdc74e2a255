package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"credentials/internal/app"
	badgeconsumer "credentials/internal/badges/consumer"
	credmodels "credentials/internal/credentials/models"
	"credentials/internal/platform/config"
	"credentials/internal/platform/kafka/consumer"
	"credentials/internal/platform/logger"
	"credentials/internal/seeder"
)

// IssuerID is the default issuer of the in-process service.
const IssuerID = "did:key:z6MkpTHR8VNsBxYAAWHut2Geadd9jSwuBV8xRoAnwWsdvktH"

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	app    *app.App
	server *httptest.Server
	events *badgeconsumer.Handler
	offset int64
}

// NewTestContext starts the service in process with in-memory stores.
func NewTestContext(statusDir string) (*TestContext, error) {
	cfg := config.FromEnv()
	cfg.Server.Environment = "test"
	cfg.Stores = config.Stores{DatabaseURL: os.Getenv("E2E_DATABASE_URL")}
	cfg.Kafka.Brokers = ""
	cfg.Verifiable.DefaultIssuerID = IssuerID
	cfg.Verifiable.DefaultIssuerKey = "e2e-issuer-key"
	cfg.Verifiable.DefaultIssuerName = "Open University"
	cfg.Verifiable.SignerURL = ""
	cfg.Verifiable.StatusListDir = statusDir

	a, err := app.New(context.Background(), cfg, logger.Discard(), app.WithRegistry(prometheus.NewRegistry()))
	if err != nil {
		return nil, fmt.Errorf("failed to start service: %w", err)
	}
	server := httptest.NewServer(a.Router())

	return &TestContext{
		BaseURL:    server.URL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		app:        a,
		server:     server,
		events:     badgeconsumer.NewHandler(a.Badges, cfg.Badges.EventTypes, logger.Discard()),
	}, nil
}

// Close stops the in-process service.
func (tc *TestContext) Close() error {
	tc.server.Close()
	return tc.app.Close(context.Background())
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a field from the JSON response
func (tc *TestContext) GetResponseField(field string) (interface{}, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}

	var data map[string]interface{}
	if err := json.Unmarshal(tc.LastResponseBody, &data); err == nil {
		if _, ok := data[text]; ok {
			return true
		}
	}
	return false
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}

// Seed creates badge templates from a TOML document.
func (tc *TestContext) Seed(ctx context.Context, doc string) error {
	f, err := seeder.Decode(strings.NewReader(doc))
	if err != nil {
		return err
	}
	_, err = tc.app.Seeder.Seed(ctx, f)
	return err
}

// Deliver hands a learning event to the badge consumer as the event bus would.
func (tc *TestContext) Deliver(ctx context.Context, eventType string, payload []byte) error {
	tc.offset++
	return tc.events.Handle(ctx, &consumer.Message{
		Topic:     "learning-course-passing-status",
		Offset:    tc.offset,
		Value:     payload,
		Headers:   map[string]string{badgeconsumer.HeaderEventType: eventType},
		Timestamp: time.Now(),
	})
}

// Credentials lists the user credentials of username.
func (tc *TestContext) Credentials(ctx context.Context, username string) ([]*credmodels.UserCredential, error) {
	return tc.app.Credentials.ListForUser(ctx, username)
}

// RegenerateStatusList rebuilds the status list of issuerID out of band.
func (tc *TestContext) RegenerateStatusList(ctx context.Context, issuerID string) error {
	return tc.app.StatusLists.Regenerate(ctx, issuerID)
}

// DefaultIssuerID returns the issuer used when a request names none.
func (tc *TestContext) DefaultIssuerID() string {
	return IssuerID
}
