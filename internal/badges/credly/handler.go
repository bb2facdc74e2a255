package credly

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"credentials/internal/platform/middleware"
)

// WebhookService applies Credly webhook deliveries.
type WebhookService interface {
	HandleWebhook(ctx context.Context, event WebhookEvent) error
}

// Handler exposes the Credly webhook endpoint.
type Handler struct {
	service WebhookService
	logger  *slog.Logger
}

// NewHandler constructs the webhook handler.
func NewHandler(service WebhookService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the webhook endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/credly-badges/api/webhook/", h.HandleWebhook)
}

// HandleWebhook answers 204 for every delivery except those for unregistered
// organizations, which get 404.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var event WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.logger.WarnContext(ctx, "failed to decode credly webhook", "error", err, "request_id", requestID)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	err := h.service.HandleWebhook(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownOrganization):
		h.logger.WarnContext(ctx, "credly webhook for unknown organization",
			"organization_id", event.OrganizationID,
			"request_id", requestID,
		)
		w.WriteHeader(http.StatusNotFound)
		return
	default:
		h.logger.ErrorContext(ctx, "failed to apply credly webhook",
			"error", err,
			"event_type", event.EventType,
			"event_id", event.ID,
			"request_id", requestID,
		)
	}
	w.WriteHeader(http.StatusNoContent)
}
