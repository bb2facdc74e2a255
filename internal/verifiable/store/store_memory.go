package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	credmodels "credentials/internal/credentials/models"
	"credentials/internal/verifiable/models"
	"credentials/pkg/platform/sentinel"
)

// InMemoryStore is an in-memory implementation of the issuance store for tests or local use.
type InMemoryStore struct {
	mu      sync.RWMutex
	lines   map[uuid.UUID]*models.IssuanceLine
	issuers map[string]*models.IssuanceConfiguration
}

// NewInMemoryStore constructs an empty in-memory issuance store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		lines:   make(map[uuid.UUID]*models.IssuanceLine),
		issuers: make(map[string]*models.IssuanceConfiguration),
	}
}

// GetOrCreateLine returns the open line matching candidate, or stores candidate.
func (s *InMemoryStore) GetOrCreateLine(_ context.Context, candidate *models.IssuanceLine) (*models.IssuanceLine, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.lines {
		if l.Processed || l.StorageID != candidate.StorageID {
			continue
		}
		if sameOpenKey(l, candidate) {
			return copyLine(l), false, nil
		}
	}
	s.lines[candidate.ID] = copyLine(candidate)
	return copyLine(candidate), true, nil
}

func sameOpenKey(a, b *models.IssuanceLine) bool {
	if a.UserCredentialID == nil || b.UserCredentialID == nil {
		return a.UserCredentialID == nil && b.UserCredentialID == nil && a.IssuerID == b.IssuerID
	}
	return *a.UserCredentialID == *b.UserCredentialID
}

func (s *InMemoryStore) FindLine(_ context.Context, id uuid.UUID) (*models.IssuanceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lines[id]
	if !ok {
		return nil, fmt.Errorf("issuance line %s: %w", id, sentinel.ErrNotFound)
	}
	return copyLine(l), nil
}

func (s *InMemoryStore) SaveLine(_ context.Context, line *models.IssuanceLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lines[line.ID]; !ok {
		return fmt.Errorf("issuance line %s: %w", line.ID, sentinel.ErrNotFound)
	}
	s.lines[line.ID] = copyLine(line)
	return nil
}

// AssignStatusIndex gives the line the next free index of its issuer below
// limit unless it already holds one.
func (s *InMemoryStore) AssignStatusIndex(_ context.Context, lineID uuid.UUID, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lines[lineID]
	if !ok {
		return 0, fmt.Errorf("issuance line %s: %w", lineID, sentinel.ErrNotFound)
	}
	if l.StatusIndex != nil {
		return *l.StatusIndex, nil
	}
	next := 0
	for _, other := range s.lines {
		if other.IssuerID == l.IssuerID && other.StatusIndex != nil && *other.StatusIndex >= next {
			next = *other.StatusIndex + 1
		}
	}
	if next >= limit {
		return 0, fmt.Errorf("status list of %s holds %d entries: %w", l.IssuerID, limit, sentinel.ErrExhausted)
	}
	l.StatusIndex = &next
	return next, nil
}

func (s *InMemoryStore) UpdateStatusForCredential(_ context.Context, credentialID uuid.UUID, status credmodels.Status) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var issuers []string
	for _, l := range s.lines {
		if l.UserCredentialID == nil || *l.UserCredentialID != credentialID {
			continue
		}
		l.Status = status
		if l.StatusIndex == nil {
			continue
		}
		if _, ok := seen[l.IssuerID]; !ok {
			seen[l.IssuerID] = struct{}{}
			issuers = append(issuers, l.IssuerID)
		}
	}
	sort.Strings(issuers)
	return issuers, nil
}

func (s *InMemoryStore) RevokedStatusIndexes(_ context.Context, issuerID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int
	for _, l := range s.lines {
		if l.IssuerID == issuerID && l.Processed && l.StatusIndex != nil && l.Status == credmodels.StatusRevoked {
			out = append(out, *l.StatusIndex)
		}
	}
	sort.Ints(out)
	return out, nil
}

// ListLines returns every line of a credential, oldest first.
func (s *InMemoryStore) ListLines(_ context.Context, credentialID uuid.UUID) ([]*models.IssuanceLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.IssuanceLine
	for _, l := range s.lines {
		if l.UserCredentialID != nil && *l.UserCredentialID == credentialID {
			out = append(out, copyLine(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SaveIssuer(_ context.Context, cfg *models.IssuanceConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	if existing, ok := s.issuers[cfg.IssuerID]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.issuers[cfg.IssuerID] = &cp
	return nil
}

func (s *InMemoryStore) FindIssuer(_ context.Context, issuerID string) (*models.IssuanceConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.issuers[issuerID]
	if !ok {
		return nil, fmt.Errorf("issuer %s: %w", issuerID, sentinel.ErrNotFound)
	}
	cp := *cfg
	return &cp, nil
}

func (s *InMemoryStore) ListIssuers(_ context.Context) ([]*models.IssuanceConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.IssuanceConfiguration, 0, len(s.issuers))
	for _, cfg := range s.issuers {
		cp := *cfg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuerID < out[j].IssuerID })
	return out, nil
}

func copyLine(l *models.IssuanceLine) *models.IssuanceLine {
	cp := *l
	if l.UserCredentialID != nil {
		id := *l.UserCredentialID
		cp.UserCredentialID = &id
	}
	if l.StatusIndex != nil {
		idx := *l.StatusIndex
		cp.StatusIndex = &idx
	}
	if l.ExpirationDate != nil {
		exp := *l.ExpirationDate
		cp.ExpirationDate = &exp
	}
	return &cp
}
