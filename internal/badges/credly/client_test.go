package credly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/circuit"
)

func writeData(w http.ResponseWriter, data any, next string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":     data,
		"metadata": map[string]any{"next_page_url": next},
	})
}

func TestClient_OrganizationUsesBasicAuth(t *testing.T) {
	orgID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "secret" || pass != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/organizations/"+orgID.String(), r.URL.Path)
		writeData(w, map[string]any{"id": orgID, "name": "Acme"}, "")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	org, err := c.Organization(context.Background(), orgID, "secret")
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)

	_, err = c.Organization(context.Background(), orgID, "wrong")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestClient_BadgeTemplatesFollowsPagination(t *testing.T) {
	orgID := uuid.New()
	first, second := uuid.New(), uuid.New()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeData(w, []map[string]any{{"id": second, "name": "Second", "state": "active"}}, "")
			return
		}
		next := fmt.Sprintf("%s/organizations/%s/badge_templates?page=2", srv.URL, orgID)
		writeData(w, []map[string]any{{"id": first, "name": "First", "state": "draft"}}, next)
	}))
	defer srv.Close()

	templates, err := NewClient(srv.URL, time.Second).BadgeTemplates(context.Background(), orgID, "key")
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, first, templates[0].ID)
	assert.Equal(t, second, templates[1].ID)
}

func TestClient_RetriesOutages(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeData(w, map[string]any{"name": "Acme"}, "")
	}))
	defer srv.Close()

	org, err := NewClient(srv.URL, time.Second).Organization(context.Background(), uuid.New(), "key")
	require.NoError(t, err)
	assert.Equal(t, "Acme", org.Name)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Event(context.Background(), uuid.New(), uuid.New(), "key")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond, WithMaxElapsed(50*time.Millisecond))
	_, err := c.Organization(context.Background(), uuid.New(), "key")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestClient_BreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	breaker := circuit.New("credly-test", circuit.WithFailureThreshold(1), circuit.WithCoolDown(time.Hour))
	c := NewClient(srv.URL, time.Second, WithBreaker(breaker), WithMaxElapsed(time.Second))

	_, err := c.Organization(context.Background(), uuid.New(), "key")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.Equal(t, circuit.StateOpen, breaker.State())

	_, err = c.Organization(context.Background(), uuid.New(), "key")
	require.ErrorIs(t, err, circuit.ErrOpen)
	assert.Equal(t, int32(1), calls.Load())
}
