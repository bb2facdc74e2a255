package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks Notifier,CredentialIssuer

import (
	"context"

	"github.com/google/uuid"

	"credentials/internal/badges/models"
	credmodels "credentials/internal/credentials/models"
)

// TemplateStore persists badge templates.
// Error Contract: Find methods, UpdateTemplate and DeleteTemplate return sentinel.ErrNotFound
// for unknown templates; CreateTemplate returns sentinel.ErrConflict on a duplicate external ID.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, t *models.BadgeTemplate) error
	UpdateTemplate(ctx context.Context, t *models.BadgeTemplate) error
	DeleteTemplate(ctx context.Context, id uuid.UUID) error
	FindTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error)
	FindTemplateByExternalID(ctx context.Context, externalID uuid.UUID) (*models.BadgeTemplate, error)
	ListTemplates(ctx context.Context) ([]*models.BadgeTemplate, error)
}

// RuleStore persists requirements and penalties with their data rules.
// Error Contract: FindRequirements returns sentinel.ErrNotFound when any ID is unknown.
// The ByEventType queries only return active rules of active templates.
type RuleStore interface {
	CreateRequirement(ctx context.Context, r *models.BadgeRequirement) error
	CreatePenalty(ctx context.Context, p *models.BadgePenalty) error
	FindRequirements(ctx context.Context, ids []uuid.UUID) ([]models.BadgeRequirement, error)
	RequirementsByTemplate(ctx context.Context, templateID uuid.UUID) ([]models.BadgeRequirement, error)
	RequirementsByEventType(ctx context.Context, eventType string) ([]models.BadgeRequirement, error)
	PenaltiesByEventType(ctx context.Context, eventType string) ([]models.BadgePenalty, error)
}

// ProgressStore persists per-user progress and fulfillments.
// Error Contract: FindProgress returns sentinel.ErrNotFound when no progress exists;
// CreateProgress returns sentinel.ErrConflict when (username, template) already has one.
type ProgressStore interface {
	FindProgress(ctx context.Context, username string, templateID uuid.UUID) (*models.BadgeProgress, error)
	CreateProgress(ctx context.Context, p *models.BadgeProgress) error
	SaveProgress(ctx context.Context, p *models.BadgeProgress) error
	Fulfillments(ctx context.Context, progressID uuid.UUID) ([]uuid.UUID, error)
	AddFulfillment(ctx context.Context, f *models.Fulfillment) (bool, error)
	DeleteFulfillments(ctx context.Context, progressID uuid.UUID, requirementIDs []uuid.UUID) (int, error)
}

// OrganizationStore persists Credly organization credentials.
type OrganizationStore interface {
	SaveOrganization(ctx context.Context, org *models.CredlyOrganization) error
	FindOrganization(ctx context.Context, id uuid.UUID) (*models.CredlyOrganization, error)
}

// Store is the full badge persistence surface.
type Store interface {
	TemplateStore
	RuleStore
	ProgressStore
}

// CredentialIssuer creates or updates the user credential backing a badge.
// Apply runs inside the caller's transaction; Publish runs after commit.
type CredentialIssuer interface {
	Apply(ctx context.Context, username string, ref credmodels.Reference, status credmodels.Status, desc credmodels.Descriptor) (credmodels.StatusChange, error)
	Publish(ctx context.Context, change credmodels.StatusChange) error
}

// Notifier emits badge award and revoke notifications to the event bus.
type Notifier interface {
	BadgeAwarded(ctx context.Context, n models.BadgeNotification) error
	BadgeRevoked(ctx context.Context, n models.BadgeNotification) error
}
