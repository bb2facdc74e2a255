package service

import (
	"context"

	"credentials/internal/badges/models"
)

// Registry answers which requirements and penalties an event type triggers.
type Registry struct {
	rules RuleStore
}

// NewRegistry builds a registry over rules.
func NewRegistry(rules RuleStore) *Registry {
	return &Registry{rules: rules}
}

// RequirementsFor returns the active award rules of active templates for eventType.
func (r *Registry) RequirementsFor(ctx context.Context, eventType string) ([]models.BadgeRequirement, error) {
	return r.rules.RequirementsByEventType(ctx, eventType)
}

// PenaltiesFor returns the active revoke rules of active templates for eventType.
func (r *Registry) PenaltiesFor(ctx context.Context, eventType string) ([]models.BadgePenalty, error) {
	return r.rules.PenaltiesByEventType(ctx, eventType)
}
