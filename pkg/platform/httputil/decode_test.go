package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "credentials/pkg/domain-errors"
)

var discard = slog.New(slog.DiscardHandler)

type initBody struct {
	StorageID  string `json:"storage_id"`
	normalized bool
}

func (b *initBody) Normalize() {
	b.StorageID = strings.ToLower(strings.TrimSpace(b.StorageID))
	b.normalized = true
}

func (b *initBody) Validate() error {
	if b.StorageID == "" {
		return errors.New("storage_id is required")
	}
	if b.StorageID == "status_list" {
		return dErrors.NewValidation("invalid init request", map[string]string{"storage_id": "is reserved"})
	}
	return nil
}

func post(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/credentials/init/", strings.NewReader(body))
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestDecode_RejectsBadBodies(t *testing.T) {
	tests := []struct {
		name        string
		req         *http.Request
		description string
	}{
		{name: "malformed", req: post(`{"storage_id":`), description: "invalid request body"},
		{name: "empty", req: post(""), description: "request body is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			got, ok := Decode[map[string]any](w, tt.req, discard)

			assert.False(t, ok)
			assert.Nil(t, got)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := errorBody(t, w)
			assert.Equal(t, "bad_request", resp.Error)
			assert.Equal(t, tt.description, resp.ErrorDescription)
		})
	}
}

func TestDecode_OversizedBody(t *testing.T) {
	req := post(`{"holder_id":"` + strings.Repeat("z", 64) + `"}`)
	w := httptest.NewRecorder()
	req.Body = http.MaxBytesReader(w, req.Body, 16)

	_, ok := Decode[map[string]any](w, req, discard)

	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "request body exceeds 16 bytes", errorBody(t, w).ErrorDescription)
}

func TestDecodeAndPrepare(t *testing.T) {
	t.Run("normalizes before validating", func(t *testing.T) {
		w := httptest.NewRecorder()
		got, ok := DecodeAndPrepare[initBody](w, post(`{"storage_id":"  LC_Wallet "}`), discard)

		require.True(t, ok)
		assert.True(t, got.normalized)
		assert.Equal(t, "lc_wallet", got.StorageID)
	})

	t.Run("plain validation error becomes validation_error", func(t *testing.T) {
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[initBody](w, post(`{"storage_id":" "}`), discard)

		assert.False(t, ok)
		resp := errorBody(t, w)
		assert.Equal(t, "validation_error", resp.Error)
		assert.Equal(t, "storage_id is required", resp.ErrorDescription)
	})

	t.Run("domain error keeps its fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[initBody](w, post(`{"storage_id":"status_list"}`), discard)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "is reserved", errorBody(t, w).Fields["storage_id"])
	})
}

func TestPrepare_IgnoresPlainTypes(t *testing.T) {
	assert.NoError(t, Prepare(&map[string]any{}))
}

func TestWriteError_ValidationFields(t *testing.T) {
	w := httptest.NewRecorder()

	WriteError(w, dErrors.NewValidation("invalid issuance request", map[string]string{
		"storage_id": "is required",
	}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error)
	assert.Equal(t, "is required", resp.Fields["storage_id"])
}

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		code   dErrors.Code
		status int
		body   string
	}{
		{dErrors.CodeNotFound, http.StatusNotFound, "not_found"},
		{dErrors.CodeUnexpectedCredentialType, http.StatusBadRequest, "unexpected_credential_type"},
		{dErrors.CodeIssuanceFailed, http.StatusUnprocessableEntity, "issuance_failed"},
		{dErrors.CodeInvalidState, http.StatusConflict, "invalid_state"},
		{dErrors.CodeUnavailable, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, dErrors.New(tc.code, "boom"))
			assert.Equal(t, tc.status, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.body, resp.Error)
		})
	}

	w := httptest.NewRecorder()
	WriteError(w, errors.New("plain"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
