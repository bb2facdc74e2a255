package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"credentials/internal/credentials/models"
	"credentials/pkg/platform/sentinel"
)

// InMemoryStore is an in-memory implementation of Store for tests or local use.
type InMemoryStore struct {
	mu          sync.RWMutex
	credentials map[uuid.UUID]*models.UserCredential
	byRef       map[refKey]uuid.UUID
}

type refKey struct {
	username string
	kind     models.Kind
	typeRef  string
}

// NewInMemoryStore constructs an empty in-memory credential store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		credentials: make(map[uuid.UUID]*models.UserCredential),
		byRef:       make(map[refKey]uuid.UUID),
	}
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (*models.UserCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[id]
	if !ok {
		return nil, fmt.Errorf("user credential %s: %w", id, sentinel.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) FindByReference(_ context.Context, username string, ref models.Reference) (*models.UserCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[refKey{username, ref.Kind, ref.ID}]
	if !ok {
		return nil, fmt.Errorf("user credential for %s: %w", username, sentinel.ErrNotFound)
	}
	cp := *s.credentials[id]
	return &cp, nil
}

func (s *InMemoryStore) ListByUsername(_ context.Context, username string) ([]*models.UserCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.UserCredential
	for _, c := range s.credentials {
		if c.Username == username {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Save(_ context.Context, credential *models.UserCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := refKey{credential.Username, credential.Kind, credential.TypeRef}
	if existing, ok := s.byRef[key]; ok && existing != credential.ID {
		return fmt.Errorf("user credential %s: %w", credential.ID, sentinel.ErrConflict)
	}
	cp := *credential
	s.credentials[credential.ID] = &cp
	s.byRef[key] = credential.ID
	return nil
}
