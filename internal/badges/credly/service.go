package credly

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"credentials/internal/badges/models"
	"credentials/internal/platform/metrics"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/sentinel"
)

// Webhook event types delivered by Credly.
const (
	EventTemplateCreated = "badge_template.created"
	EventTemplateChanged = "badge_template.changed"
	EventTemplateDeleted = "badge_template.deleted"
)

// API is the subset of the Credly REST API the service calls.
type API interface {
	Organization(ctx context.Context, orgID uuid.UUID, apiKey string) (*Organization, error)
	BadgeTemplates(ctx context.Context, orgID uuid.UUID, apiKey string) ([]BadgeTemplate, error)
	Event(ctx context.Context, orgID, eventID uuid.UUID, apiKey string) (*Event, error)
}

// Templates is the badge configuration surface synced templates go through.
type Templates interface {
	UpsertExternalTemplate(ctx context.Context, in models.BadgeTemplate) (*models.BadgeTemplate, error)
	FindTemplateByExternalID(ctx context.Context, externalID uuid.UUID) (*models.BadgeTemplate, error)
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
}

// Organizations persists Credly organization credentials.
//
// Error Contract:
//   - FindOrganization returns sentinel.ErrNotFound when the organization is unknown
type Organizations interface {
	SaveOrganization(ctx context.Context, org *models.CredlyOrganization) error
	FindOrganization(ctx context.Context, id uuid.UUID) (*models.CredlyOrganization, error)
}

// ErrUnknownOrganization marks webhook deliveries and syncs for organizations
// that were never registered.
var ErrUnknownOrganization = errors.New("credly organization not found")

// WebhookEvent is the body Credly posts to the webhook endpoint. Data may be
// omitted, in which case the event is fetched from the API.
type WebhookEvent struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	EventType      string       `json:"event_type"`
	OccurredAt     time.Time    `json:"occurred_at"`
	Data           *WebhookData `json:"data,omitempty"`
}

// WebhookData carries the resource the webhook event is about.
type WebhookData struct {
	BadgeTemplate *BadgeTemplate `json:"badge_template,omitempty"`
}

// Service keeps local badge templates in step with Credly.
type Service struct {
	api       API
	orgs      Organizations
	templates Templates
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates the Credly sync service.
func NewService(api API, orgs Organizations, templates Templates, opts ...Option) *Service {
	s := &Service{
		api:       api,
		orgs:      orgs,
		templates: templates,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterOrganization checks the API key against Credly and stores the organization.
func (s *Service) RegisterOrganization(ctx context.Context, orgID uuid.UUID, apiKey string) (*models.CredlyOrganization, error) {
	if orgID == uuid.Nil || apiKey == "" {
		return nil, dErrors.NewValidation("organization id and api key are required", map[string]string{
			"organization_id": "required",
			"api_key":         "required",
		})
	}
	remote, err := s.api.Organization(ctx, orgID, apiKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to verify credly organization")
	}
	org := &models.CredlyOrganization{
		ID:        orgID,
		Name:      remote.Name,
		APIKey:    apiKey,
		CreatedAt: s.now().UTC(),
	}
	if err := s.orgs.SaveOrganization(ctx, org); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to save credly organization")
	}
	return org, nil
}

// SyncTemplates upserts every template of the organization and returns how many were synced.
func (s *Service) SyncTemplates(ctx context.Context, orgID uuid.UUID) (int, error) {
	org, err := s.organization(ctx, orgID)
	if err != nil {
		return 0, err
	}
	remote, err := s.api.BadgeTemplates(ctx, org.ID, org.APIKey)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to list credly badge templates")
	}
	synced := 0
	for _, rt := range remote {
		if _, err := s.templates.UpsertExternalTemplate(ctx, toTemplate(rt, org.ID)); err != nil {
			return synced, err
		}
		synced++
	}
	s.logger.InfoContext(ctx, "credly templates synced", "organization_id", org.ID, "count", synced)
	return synced, nil
}

// HandleWebhook applies one webhook delivery. It fails with not_found when
// the organization is unknown; unknown event types are ignored.
func (s *Service) HandleWebhook(ctx context.Context, event WebhookEvent) error {
	org, err := s.organization(ctx, event.OrganizationID)
	if err != nil {
		return err
	}
	s.metrics.IncrementCredlyWebhooks(event.EventType)

	switch event.EventType {
	case EventTemplateCreated, EventTemplateChanged, EventTemplateDeleted:
	default:
		s.logger.WarnContext(ctx, "unknown credly webhook event type",
			"event_type", event.EventType,
			"event_id", event.ID,
		)
		return nil
	}

	rt, err := s.badgeTemplate(ctx, org, event)
	if err != nil {
		return err
	}
	if rt == nil {
		s.logger.WarnContext(ctx, "credly event carries no badge template", "event_id", event.ID)
		return nil
	}

	if event.EventType == EventTemplateDeleted {
		return s.deleteTemplate(ctx, rt.ID)
	}
	t, err := s.templates.UpsertExternalTemplate(ctx, toTemplate(*rt, org.ID))
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "credly template upserted",
		"event_type", event.EventType,
		"template_id", t.ID,
		"external_id", t.ExternalID,
	)
	return nil
}

func (s *Service) badgeTemplate(ctx context.Context, org *models.CredlyOrganization, event WebhookEvent) (*BadgeTemplate, error) {
	if event.Data != nil && event.Data.BadgeTemplate != nil {
		return event.Data.BadgeTemplate, nil
	}
	remote, err := s.api.Event(ctx, org.ID, event.ID, org.APIKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to fetch credly event")
	}
	return remote.BadgeTemplate, nil
}

func (s *Service) deleteTemplate(ctx context.Context, externalID uuid.UUID) error {
	t, err := s.templates.FindTemplateByExternalID(ctx, externalID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.templates.DeleteTemplate(ctx, t.ID)
}

func (s *Service) organization(ctx context.Context, id uuid.UUID) (*models.CredlyOrganization, error) {
	org, err := s.orgs.FindOrganization(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(ErrUnknownOrganization, dErrors.CodeNotFound, "credly organization not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load credly organization")
	}
	return org, nil
}

func toTemplate(rt BadgeTemplate, orgID uuid.UUID) models.BadgeTemplate {
	return models.BadgeTemplate{
		ExternalID:     rt.ID,
		Name:           rt.Name,
		Description:    rt.Description,
		IconURL:        rt.ImageURL,
		Origin:         models.OriginCredly,
		State:          templateState(rt.State),
		OrganizationID: &orgID,
	}
}

func templateState(state string) models.TemplateState {
	switch state {
	case "active":
		return models.TemplateActive
	case "archived":
		return models.TemplateArchived
	default:
		return models.TemplateDraft
	}
}
