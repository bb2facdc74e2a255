package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	dErrors "credentials/pkg/domain-errors"
)

// Normalizable request bodies are normalized before validation.
type Normalizable interface {
	Normalize()
}

// Validatable request bodies validate and may cache parsed fields.
type Validatable interface {
	Validate() error
}

// Decode reads the JSON body into a T. On failure it answers the request with
// bad_request and returns false.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		logger.WarnContext(r.Context(), "rejected request body", "path", r.URL.Path, "error", err)
		WriteError(w, decodeError(err))
		return nil, false
	}
	return &v, true
}

// DecodeAndPrepare decodes the body, then runs Normalize and Validate when T
// implements them. Validation errors that are not domain errors are reported
// as validation_error.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	v, ok := Decode[T](w, r, logger)
	if !ok {
		return nil, false
	}
	if err := Prepare(v); err != nil {
		logger.WarnContext(r.Context(), "invalid request", "path", r.URL.Path, "error", err)
		var domainErr *dErrors.Error
		if !errors.As(err, &domainErr) {
			err = dErrors.New(dErrors.CodeValidation, err.Error())
		}
		WriteError(w, err)
		return nil, false
	}
	return v, true
}

// Prepare normalizes then validates v.
func Prepare(v any) error {
	if n, ok := v.(Normalizable); ok {
		n.Normalize()
	}
	if val, ok := v.(Validatable); ok {
		return val.Validate()
	}
	return nil
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	case errors.Is(err, io.EOF):
		return dErrors.New(dErrors.CodeBadRequest, "request body is empty")
	default:
		return dErrors.New(dErrors.CodeBadRequest, "invalid request body")
	}
}
