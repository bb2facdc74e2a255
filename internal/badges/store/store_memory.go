package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"credentials/internal/badges/models"
	"credentials/pkg/platform/sentinel"
)

// InMemoryStore keeps badge configuration and progress in maps.
// It is safe for concurrent access but does not persist across process restarts.
type InMemoryStore struct {
	mu            sync.RWMutex
	templates     map[uuid.UUID]*models.BadgeTemplate
	requirements  map[uuid.UUID]*models.BadgeRequirement
	penalties     map[uuid.UUID]*models.BadgePenalty
	progress      map[progressKey]*models.BadgeProgress
	fulfillments  map[uuid.UUID]map[uuid.UUID]models.Fulfillment
	organizations map[uuid.UUID]*models.CredlyOrganization
}

type progressKey struct {
	username   string
	templateID uuid.UUID
}

// NewInMemoryStore constructs an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		templates:     make(map[uuid.UUID]*models.BadgeTemplate),
		requirements:  make(map[uuid.UUID]*models.BadgeRequirement),
		penalties:     make(map[uuid.UUID]*models.BadgePenalty),
		progress:      make(map[progressKey]*models.BadgeProgress),
		fulfillments:  make(map[uuid.UUID]map[uuid.UUID]models.Fulfillment),
		organizations: make(map[uuid.UUID]*models.CredlyOrganization),
	}
}

// Templates

func (s *InMemoryStore) CreateTemplate(_ context.Context, t *models.BadgeTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.templates {
		if existing.ExternalID == t.ExternalID {
			return fmt.Errorf("badge template %s: %w", t.ExternalID, sentinel.ErrConflict)
		}
	}
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *InMemoryStore) UpdateTemplate(_ context.Context, t *models.BadgeTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; !ok {
		return fmt.Errorf("badge template %s: %w", t.ID, sentinel.ErrNotFound)
	}
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

// DeleteTemplate removes the template with its rules; progress keeps a nil template reference.
func (s *InMemoryStore) DeleteTemplate(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("badge template %s: %w", id, sentinel.ErrNotFound)
	}
	delete(s.templates, id)
	for rid, r := range s.requirements {
		if r.TemplateID == id {
			delete(s.requirements, rid)
		}
	}
	for pid, p := range s.penalties {
		if p.TemplateID == id {
			delete(s.penalties, pid)
		}
	}
	for key, p := range s.progress {
		if key.templateID == id {
			p.TemplateID = nil
		}
	}
	return nil
}

func (s *InMemoryStore) FindTemplate(_ context.Context, id uuid.UUID) (*models.BadgeTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, fmt.Errorf("badge template %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *InMemoryStore) FindTemplateByExternalID(_ context.Context, externalID uuid.UUID) (*models.BadgeTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.templates {
		if t.ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("badge template %s: %w", externalID, sentinel.ErrNotFound)
}

func (s *InMemoryStore) ListTemplates(_ context.Context) ([]*models.BadgeTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.BadgeTemplate, 0, len(s.templates))
	for _, t := range s.templates {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Requirements and penalties

func (s *InMemoryStore) CreateRequirement(_ context.Context, r *models.BadgeRequirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[r.TemplateID]; !ok {
		return fmt.Errorf("badge template %s: %w", r.TemplateID, sentinel.ErrNotFound)
	}
	cp := *r
	cp.Rules = slices.Clone(r.Rules)
	s.requirements[r.ID] = &cp
	return nil
}

func (s *InMemoryStore) CreatePenalty(_ context.Context, p *models.BadgePenalty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rid := range p.RequirementIDs {
		if _, ok := s.requirements[rid]; !ok {
			return fmt.Errorf("badge requirement %s: %w", rid, sentinel.ErrNotFound)
		}
	}
	cp := *p
	cp.Rules = slices.Clone(p.Rules)
	cp.RequirementIDs = slices.Clone(p.RequirementIDs)
	s.penalties[p.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindRequirements(_ context.Context, ids []uuid.UUID) ([]models.BadgeRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BadgeRequirement, 0, len(ids))
	for _, id := range ids {
		r, ok := s.requirements[id]
		if !ok {
			return nil, fmt.Errorf("badge requirement %s: %w", id, sentinel.ErrNotFound)
		}
		out = append(out, copyRequirement(r))
	}
	return out, nil
}

func (s *InMemoryStore) RequirementsByTemplate(_ context.Context, templateID uuid.UUID) ([]models.BadgeRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BadgeRequirement
	for _, r := range s.requirements {
		if r.TemplateID == templateID {
			out = append(out, copyRequirement(r))
		}
	}
	sortRequirements(out)
	return out, nil
}

// RequirementsByEventType returns active requirements of active templates for eventType.
func (s *InMemoryStore) RequirementsByEventType(_ context.Context, eventType string) ([]models.BadgeRequirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BadgeRequirement
	for _, r := range s.requirements {
		if r.IsActive && r.EventType == eventType && s.templateActive(r.TemplateID) {
			out = append(out, copyRequirement(r))
		}
	}
	sortRequirements(out)
	return out, nil
}

// PenaltiesByEventType returns active penalties of active templates for eventType.
func (s *InMemoryStore) PenaltiesByEventType(_ context.Context, eventType string) ([]models.BadgePenalty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.BadgePenalty
	for _, p := range s.penalties {
		if p.IsActive && p.EventType == eventType && s.templateActive(p.TemplateID) {
			cp := *p
			cp.Rules = slices.Clone(p.Rules)
			cp.RequirementIDs = slices.Clone(p.RequirementIDs)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) templateActive(id uuid.UUID) bool {
	t, ok := s.templates[id]
	return ok && t.IsActive
}

func copyRequirement(r *models.BadgeRequirement) models.BadgeRequirement {
	cp := *r
	cp.Rules = slices.Clone(r.Rules)
	return cp
}

func sortRequirements(reqs []models.BadgeRequirement) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].CreatedAt.Before(reqs[j].CreatedAt) })
}

// Progress

func (s *InMemoryStore) FindProgress(_ context.Context, username string, templateID uuid.UUID) (*models.BadgeProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.progress[progressKey{username, templateID}]
	if !ok {
		return nil, fmt.Errorf("badge progress for %s: %w", username, sentinel.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *InMemoryStore) CreateProgress(_ context.Context, p *models.BadgeProgress) error {
	if p.TemplateID == nil {
		return fmt.Errorf("badge progress without template: %w", sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := progressKey{p.Username, *p.TemplateID}
	if _, ok := s.progress[key]; ok {
		return fmt.Errorf("badge progress for %s: %w", p.Username, sentinel.ErrConflict)
	}
	cp := *p
	s.progress[key] = &cp
	return nil
}

func (s *InMemoryStore) SaveProgress(_ context.Context, p *models.BadgeProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, existing := range s.progress {
		if existing.ID == p.ID {
			cp := *p
			s.progress[key] = &cp
			return nil
		}
	}
	return fmt.Errorf("badge progress %s: %w", p.ID, sentinel.ErrNotFound)
}

func (s *InMemoryStore) Fulfillments(_ context.Context, progressID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(s.fulfillments[progressID]))
	for rid := range s.fulfillments[progressID] {
		out = append(out, rid)
	}
	return out, nil
}

// AddFulfillment inserts f and reports false when the requirement was already fulfilled.
func (s *InMemoryStore) AddFulfillment(_ context.Context, f *models.Fulfillment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byReq, ok := s.fulfillments[f.ProgressID]
	if !ok {
		byReq = make(map[uuid.UUID]models.Fulfillment)
		s.fulfillments[f.ProgressID] = byReq
	}
	if _, exists := byReq[f.RequirementID]; exists {
		return false, nil
	}
	byReq[f.RequirementID] = *f
	return true, nil
}

func (s *InMemoryStore) DeleteFulfillments(_ context.Context, progressID uuid.UUID, requirementIDs []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, rid := range requirementIDs {
		if _, ok := s.fulfillments[progressID][rid]; ok {
			delete(s.fulfillments[progressID], rid)
			removed++
		}
	}
	return removed, nil
}

// Credly organizations

func (s *InMemoryStore) SaveOrganization(_ context.Context, org *models.CredlyOrganization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *org
	s.organizations[org.ID] = &cp
	return nil
}

func (s *InMemoryStore) FindOrganization(_ context.Context, id uuid.UUID) (*models.CredlyOrganization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.organizations[id]
	if !ok {
		return nil, fmt.Errorf("credly organization %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *org
	return &cp, nil
}
