package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"credentials/internal/platform/middleware"
	"credentials/internal/verifiable/models"
	vcservice "credentials/internal/verifiable/service"
	"credentials/internal/verifiable/storages"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/httputil"
	"credentials/pkg/validation"
)

// BasePath prefixes every verifiable-credential endpoint.
const BasePath = "/verifiable_credentials/api/v1"

// Service defines the issuance operations used by the handler.
type Service interface {
	Init(ctx context.Context, req vcservice.InitRequest) (*models.IssuanceLine, error)
	ProcessRequest(ctx context.Context, lineID uuid.UUID, body map[string]any) (*models.IssuanceLine, error)
	ComposeAndSign(ctx context.Context, lineID uuid.UUID) (*models.IssueResult, error)
	Line(ctx context.Context, id uuid.UUID) (*models.IssuanceLine, error)
	LinesForCredential(ctx context.Context, credentialID uuid.UUID) ([]*models.IssuanceLine, error)
	Storages() []storages.Storage
}

// StatusLists reads published status-list documents.
type StatusLists interface {
	Read(ctx context.Context, issuerID string) ([]byte, error)
}

// Handler wires issuance endpoints to the issuance service.
type Handler struct {
	service     Service
	statusLists StatusLists
	logger      *slog.Logger
}

// New constructs an issuance handler with its dependencies.
func New(service Service, statusLists StatusLists, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{service: service, statusLists: statusLists, logger: logger}
}

// Register mounts the issuance endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route(BasePath, func(r chi.Router) {
		r.Get("/storages/", h.HandleStorages)
		r.Post("/credentials/init/", h.HandleInit)
		r.Get("/credentials/{id}/", h.HandleLine)
		r.Post("/credentials/{id}/request/", h.HandleRequest)
		r.Post("/credentials/{id}/issue/", h.HandleIssue)
		r.Get("/user_credentials/{id}/lines/", h.HandleCredentialLines)
		r.Get("/status-list/2021/v1/{issuer_id}/", h.HandleStatusList)
	})
}

// InitRequest is the request body for starting an issuance.
type InitRequest struct {
	StorageID    string `json:"storage_id" validate:"required"`
	CredentialID string `json:"credential_id" validate:"omitempty,uuid"`
	IssuerID     string `json:"issuer_id" validate:"omitempty,did"`

	parsedCredentialID *uuid.UUID
}

// Validate validates and parses the init request.
func (r *InitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if r.CredentialID != "" {
		id := uuid.MustParse(r.CredentialID)
		r.parsedCredentialID = &id
	}
	return nil
}

// LineResponse describes an issuance line.
type LineResponse struct {
	ID               string     `json:"id"`
	State            string     `json:"state"`
	StorageID        string     `json:"storage_id"`
	IssuerID         string     `json:"issuer_id"`
	UserCredentialID string     `json:"credential_id,omitempty"`
	SubjectID        string     `json:"subject_id,omitempty"`
	DataModelID      string     `json:"data_model_id,omitempty"`
	StatusIndex      *int       `json:"status_index,omitempty"`
	ExpirationDate   *time.Time `json:"expiration_date,omitempty"`
	Processed        bool       `json:"processed"`
}

func toLineResponse(l *models.IssuanceLine) LineResponse {
	resp := LineResponse{
		ID:             l.ID.String(),
		State:          string(l.State()),
		StorageID:      l.StorageID,
		IssuerID:       l.IssuerID,
		SubjectID:      l.SubjectID,
		DataModelID:    l.DataModelID,
		StatusIndex:    l.StatusIndex,
		ExpirationDate: l.ExpirationDate,
		Processed:      l.Processed,
	}
	if l.UserCredentialID != nil {
		resp.UserCredentialID = l.UserCredentialID.String()
	}
	return resp
}

// StorageResponse describes an enabled storage.
type StorageResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	PreferredDataModel string `json:"preferred_data_model"`
}

// HandleStorages handles GET /storages/ requests.
func (h *Handler) HandleStorages(w http.ResponseWriter, _ *http.Request) {
	list := h.service.Storages()
	out := make([]StorageResponse, 0, len(list))
	for _, s := range list {
		out = append(out, StorageResponse{ID: s.ID, Name: s.Name, PreferredDataModel: s.PreferredDataModel})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleInit handles POST /credentials/init/ requests.
func (h *Handler) HandleInit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[InitRequest](w, r, h.logger)
	if !ok {
		return
	}

	line, err := h.service.Init(ctx, vcservice.InitRequest{
		StorageID:        req.StorageID,
		UserCredentialID: req.parsedCredentialID,
		IssuerID:         req.IssuerID,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to initiate issuance",
			"request_id", requestID,
			"storage_id", req.StorageID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toLineResponse(line))
}

// HandleLine handles GET /credentials/{id}/ requests.
func (h *Handler) HandleLine(w http.ResponseWriter, r *http.Request) {
	id, ok := lineID(w, r)
	if !ok {
		return
	}
	line, err := h.service.Line(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLineResponse(line))
}

// HandleCredentialLines handles GET /user_credentials/{id}/lines/ requests
// and lists every issuance of a credential, oldest first.
func (h *Handler) HandleCredentialLines(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid credential id"))
		return
	}
	lines, err := h.service.LinesForCredential(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]LineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, toLineResponse(l))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleRequest handles POST /credentials/{id}/request/ requests. The body is
// storage specific and validated by the storage's schema.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id, ok := lineID(w, r)
	if !ok {
		return
	}

	body, ok := httputil.Decode[map[string]any](w, r, h.logger)
	if !ok {
		return
	}

	line, err := h.service.ProcessRequest(ctx, id, *body)
	if err != nil {
		h.logger.WarnContext(ctx, "issuance request rejected",
			"request_id", requestID,
			"line_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toLineResponse(line))
}

// HandleIssue handles POST /credentials/{id}/issue/ requests and returns the
// signed credential document.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	id, ok := lineID(w, r)
	if !ok {
		return
	}

	result, err := h.service.ComposeAndSign(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue verifiable credential",
			"request_id", requestID,
			"line_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result.Document)
}

// HandleStatusList handles GET /status-list/2021/v1/{issuer_id}/ requests.
func (h *Handler) HandleStatusList(w http.ResponseWriter, r *http.Request) {
	issuerID, err := url.PathUnescape(chi.URLParam(r, "issuer_id"))
	if err != nil || issuerID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid issuer id"))
		return
	}
	data, err := h.statusLists.Read(r.Context(), issuerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func lineID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid issuance line id"))
		return uuid.Nil, false
	}
	return id, true
}
