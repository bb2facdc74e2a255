package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"credentials/internal/credentials/models"
	"credentials/internal/events"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/sentinel"
)

// Store defines the persistence interface for user credentials.
// Error Contract:
// - FindByID and FindByReference return sentinel.ErrNotFound when no record exists
// - Save returns sentinel.ErrConflict when the (username, kind, reference) key is taken by another ID
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.UserCredential, error)
	FindByReference(ctx context.Context, username string, ref models.Reference) (*models.UserCredential, error)
	ListByUsername(ctx context.Context, username string) ([]*models.UserCredential, error)
	Save(ctx context.Context, credential *models.UserCredential) error
}

type Option func(*Service)

// Service owns the create-or-update of user credentials and the status hooks.
type Service struct {
	store  Store
	hooks  *events.Dispatcher[models.StatusChange]
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a credential service. hooks may be nil when no component
// reacts to status changes.
func NewService(store Store, hooks *events.Dispatcher[models.StatusChange], opts ...Option) *Service {
	svc := &Service{
		store:  store,
		hooks:  hooks,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithLogger sets the logger instance for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Apply creates the credential for (username, ref) or updates its status and
// display fields. It does not fire hooks; callers Publish the returned change
// once their transaction has committed.
func (s *Service) Apply(ctx context.Context, username string, ref models.Reference, status models.Status, desc models.Descriptor) (models.StatusChange, error) {
	if username == "" {
		return models.StatusChange{}, dErrors.New(dErrors.CodeBadRequest, "username is required")
	}
	if !status.IsValid() {
		return models.StatusChange{}, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid credential status: %s", status))
	}

	now := s.now().UTC()
	existing, err := s.store.FindByReference(ctx, username, ref)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		credential := models.UserCredential{
			ID:          uuid.New(),
			Username:    username,
			Status:      status,
			Kind:        ref.Kind,
			TypeRef:     ref.ID,
			Title:       desc.Title,
			Description: desc.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.Save(ctx, &credential); err != nil {
			return models.StatusChange{}, wrapStoreErr(err, "create user credential")
		}
		return models.StatusChange{Credential: credential, Created: true}, nil
	case err != nil:
		return models.StatusChange{}, wrapStoreErr(err, "load user credential")
	}

	previous := existing.Status
	existing.Status = status
	if desc.Title != "" {
		existing.Title = desc.Title
	}
	if desc.Description != "" {
		existing.Description = desc.Description
	}
	existing.UpdatedAt = now
	if err := s.store.Save(ctx, existing); err != nil {
		return models.StatusChange{}, wrapStoreErr(err, "update user credential")
	}
	return models.StatusChange{Credential: *existing, Previous: previous}, nil
}

// Publish runs the status hooks for a committed change. Unchanged statuses are skipped.
func (s *Service) Publish(ctx context.Context, change models.StatusChange) error {
	if s.hooks == nil || !change.Changed() {
		return nil
	}
	if err := s.hooks.Dispatch(ctx, change.EventType(), change); err != nil {
		s.logger.ErrorContext(ctx, "credential status hook failed",
			"credential_id", change.Credential.ID,
			"status", change.Credential.Status,
			"error", err,
		)
		return err
	}
	return nil
}

// Get returns a user credential by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.UserCredential, error) {
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, wrapStoreErr(err, "load user credential")
	}
	return c, nil
}

// ListForUser returns every credential issued to username.
func (s *Service) ListForUser(ctx context.Context, username string) ([]*models.UserCredential, error) {
	out, err := s.store.ListByUsername(ctx, username)
	if err != nil {
		return nil, wrapStoreErr(err, "list user credentials")
	}
	return out, nil
}

func wrapStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "user credential not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
