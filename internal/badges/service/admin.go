package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"credentials/internal/badges/models"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/sentinel"
	"credentials/pkg/validation"
)

// CreateTemplateCommand describes a new badge template.
type CreateTemplateCommand struct {
	ExternalID     uuid.UUID `validate:"required"`
	Name           string    `validate:"notblank,max=255"`
	Description    string
	IconURL        string        `validate:"omitempty,url"`
	Origin         models.Origin `validate:"required,oneof=openedx credly"`
	OrganizationID *uuid.UUID
}

// RuleSpec is one data rule as written by an administrator.
type RuleSpec struct {
	Path     string `validate:"dotpath"`
	Operator string `validate:"omitempty,oneof=eq"`
	Value    string
}

// RequirementSpec describes a requirement to attach to a template.
type RequirementSpec struct {
	EventType   string `validate:"notblank"`
	Description string
	Group       string
	Rules       []RuleSpec `validate:"dive"`
}

// PenaltySpec describes a penalty over existing requirements.
type PenaltySpec struct {
	RequirementIDs []uuid.UUID `validate:"min=1"`
	Description    string
	Rules          []RuleSpec `validate:"dive"`
}

// CreateTemplate stores a draft, inactive template.
func (s *Service) CreateTemplate(ctx context.Context, cmd CreateTemplateCommand) (*models.BadgeTemplate, error) {
	if err := validation.Validate(cmd); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t := &models.BadgeTemplate{
		ID:             uuid.New(),
		ExternalID:     cmd.ExternalID,
		Name:           cmd.Name,
		Description:    cmd.Description,
		IconURL:        cmd.IconURL,
		Origin:         cmd.Origin,
		State:          models.TemplateDraft,
		OrganizationID: cmd.OrganizationID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "badge template external id already exists")
		}
		return nil, wrapStoreErr(err, "failed to create badge template")
	}
	s.logger.InfoContext(ctx, "badge template created", "template_id", t.ID, "origin", t.Origin)
	return t, nil
}

// ActivateTemplate makes the template earnable and freezes its rules.
// A template without active requirements could never complete and is rejected.
func (s *Service) ActivateTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error) {
	t, err := s.loadTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	reqs, err := s.store.RequirementsByTemplate(ctx, id)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load template requirements")
	}
	if !hasActive(reqs) {
		return nil, dErrors.NewValidation("badge template has no active requirements", map[string]string{
			"requirements": "at least one active requirement is required",
		})
	}
	t.State = models.TemplateActive
	t.IsActive = true
	return s.saveTemplate(ctx, t)
}

// ArchiveTemplate stops the template from being earned.
func (s *Service) ArchiveTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error) {
	t, err := s.loadTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	t.State = models.TemplateArchived
	t.IsActive = false
	return s.saveTemplate(ctx, t)
}

// DeleteTemplate removes a template. Active templates with requirements cannot
// be deleted; progress rows keep existing with a cleared template reference.
func (s *Service) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	t, err := s.loadTemplate(ctx, id)
	if err != nil {
		return err
	}
	if t.IsActive {
		reqs, err := s.store.RequirementsByTemplate(ctx, id)
		if err != nil {
			return wrapStoreErr(err, "failed to load template requirements")
		}
		if len(reqs) > 0 {
			return dErrors.NewValidation("active badge template has requirements", map[string]string{
				"template": "deactivate the template before deleting it",
			})
		}
	}
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return wrapStoreErr(err, "failed to delete badge template")
	}
	s.logger.InfoContext(ctx, "badge template deleted", "template_id", id)
	return nil
}

// UpsertExternalTemplate creates or refreshes a template keyed by its external
// ID. The active flag of an existing template is kept unless the incoming
// state takes it out of service.
func (s *Service) UpsertExternalTemplate(ctx context.Context, in models.BadgeTemplate) (*models.BadgeTemplate, error) {
	existing, err := s.store.FindTemplateByExternalID(ctx, in.ExternalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		now := s.now().UTC()
		in.ID = uuid.New()
		in.IsActive = false
		in.CreatedAt = now
		in.UpdatedAt = now
		if err := s.store.CreateTemplate(ctx, &in); err != nil {
			return nil, wrapStoreErr(err, "failed to create badge template")
		}
		return &in, nil
	}
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load badge template")
	}

	existing.Name = in.Name
	existing.Description = in.Description
	existing.IconURL = in.IconURL
	existing.State = in.State
	existing.OrganizationID = in.OrganizationID
	if in.State != models.TemplateActive {
		existing.IsActive = false
	}
	return s.saveTemplate(ctx, existing)
}

// FindTemplateByExternalID returns the template synced under externalID.
func (s *Service) FindTemplateByExternalID(ctx context.Context, externalID uuid.UUID) (*models.BadgeTemplate, error) {
	t, err := s.store.FindTemplateByExternalID(ctx, externalID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load badge template")
	}
	return t, nil
}

// ListTemplates returns every template ordered by creation time.
func (s *Service) ListTemplates(ctx context.Context) ([]*models.BadgeTemplate, error) {
	out, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to list badge templates")
	}
	return out, nil
}

// AddRequirement attaches an award rule to an inactive template.
func (s *Service) AddRequirement(ctx context.Context, templateID uuid.UUID, spec RequirementSpec) (*models.BadgeRequirement, error) {
	if err := validation.Validate(spec); err != nil {
		return nil, err
	}
	if _, ok := s.eventTypes[spec.EventType]; !ok {
		return nil, dErrors.NewValidation("event type is not allowed", map[string]string{
			"event_type": fmt.Sprintf("%s is not in the badge event type allowlist", spec.EventType),
		})
	}
	t, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if t.RulesFrozen() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "rules of an active badge template cannot change")
	}

	r := &models.BadgeRequirement{
		ID:          uuid.New(),
		TemplateID:  templateID,
		EventType:   spec.EventType,
		Effect:      models.EffectAward,
		Description: spec.Description,
		Group:       spec.Group,
		IsActive:    true,
		Rules:       buildRules(spec.Rules),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateRequirement(ctx, r); err != nil {
		return nil, wrapStoreErr(err, "failed to create badge requirement")
	}
	return r, nil
}

// AddPenalty attaches a revoke rule over requirements of one template. The
// penalty listens on the event type its requirements share.
func (s *Service) AddPenalty(ctx context.Context, spec PenaltySpec) (*models.BadgePenalty, error) {
	if err := validation.Validate(spec); err != nil {
		return nil, err
	}
	reqs, err := s.store.FindRequirements(ctx, spec.RequirementIDs)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.NewValidation("unknown badge requirement", map[string]string{
				"requirement_ids": "every requirement must exist",
			})
		}
		return nil, wrapStoreErr(err, "failed to load badge requirements")
	}

	templateID := reqs[0].TemplateID
	eventType := reqs[0].EventType
	for _, r := range reqs[1:] {
		if r.TemplateID != templateID {
			return nil, dErrors.NewValidation("penalty requirements span templates", map[string]string{
				"requirement_ids": "all requirements must belong to the same badge template",
			})
		}
		if r.EventType != eventType {
			return nil, dErrors.NewValidation("penalty requirements span event types", map[string]string{
				"requirement_ids": "all requirements must share one event type",
			})
		}
	}

	t, err := s.loadTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if t.RulesFrozen() {
		return nil, dErrors.New(dErrors.CodeInvalidState, "rules of an active badge template cannot change")
	}

	p := &models.BadgePenalty{
		ID:             uuid.New(),
		TemplateID:     templateID,
		EventType:      eventType,
		Effect:         models.EffectRevoke,
		Description:    spec.Description,
		IsActive:       true,
		RequirementIDs: append([]uuid.UUID(nil), spec.RequirementIDs...),
		Rules:          buildRules(spec.Rules),
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreatePenalty(ctx, p); err != nil {
		return nil, wrapStoreErr(err, "failed to create badge penalty")
	}
	return p, nil
}

func (s *Service) loadTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error) {
	t, err := s.store.FindTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "badge template not found")
		}
		return nil, wrapStoreErr(err, "failed to load badge template")
	}
	return t, nil
}

func (s *Service) saveTemplate(ctx context.Context, t *models.BadgeTemplate) (*models.BadgeTemplate, error) {
	t.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateTemplate(ctx, t); err != nil {
		return nil, wrapStoreErr(err, "failed to update badge template")
	}
	return t, nil
}

func buildRules(specs []RuleSpec) []models.DataRule {
	out := make([]models.DataRule, 0, len(specs))
	for _, spec := range specs {
		op := models.Operator(spec.Operator)
		if op == "" {
			op = models.OperatorEq
		}
		out = append(out, models.DataRule{ID: uuid.New(), Path: spec.Path, Operator: op, Value: spec.Value})
	}
	return out
}

func hasActive(reqs []models.BadgeRequirement) bool {
	for _, r := range reqs {
		if r.IsActive {
			return true
		}
	}
	return false
}
