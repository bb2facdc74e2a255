package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"credentials/internal/credentials/models"
	"credentials/internal/credentials/store"
	"credentials/internal/events"
	"credentials/internal/platform/logger"
	dErrors "credentials/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	hooks   *events.Dispatcher[models.StatusChange]
	service *Service
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemoryStore()
	s.hooks = events.NewDispatcher[models.StatusChange]()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.service = NewService(s.store, s.hooks,
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return s.now }),
	)
}

var badgeRef = models.Reference{Kind: models.KindBadge, ID: "c5b9d7e4-7d7b-4a0c-9a39-0c8f4e8d7a11"}

func (s *ServiceSuite) TestApply_CreatesCredential() {
	change, err := s.service.Apply(context.Background(), "alice", badgeRef, models.StatusAwarded,
		models.Descriptor{Title: "Python Basics"})

	s.Require().NoError(err)
	s.True(change.Created)
	s.True(change.Changed())
	s.Equal(models.EventStatusAwarded, change.EventType())
	s.Equal("Python Basics", change.Credential.Title)
	s.Equal(s.now, change.Credential.CreatedAt)

	stored, err := s.service.Get(context.Background(), change.Credential.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusAwarded, stored.Status)
}

func (s *ServiceSuite) TestApply_UpdatesExistingCredential() {
	ctx := context.Background()
	first, err := s.service.Apply(ctx, "alice", badgeRef, models.StatusAwarded, models.Descriptor{Title: "Python Basics"})
	s.Require().NoError(err)

	second, err := s.service.Apply(ctx, "alice", badgeRef, models.StatusRevoked, models.Descriptor{})

	s.Require().NoError(err)
	s.False(second.Created)
	s.Equal(first.Credential.ID, second.Credential.ID)
	s.Equal(models.StatusAwarded, second.Previous)
	s.Equal(models.EventStatusRevoked, second.EventType())
	s.Equal("Python Basics", second.Credential.Title, "empty descriptor keeps the stored title")

	list, err := s.service.ListForUser(ctx, "alice")
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *ServiceSuite) TestApply_SameStatusIsUnchanged() {
	ctx := context.Background()
	_, err := s.service.Apply(ctx, "alice", badgeRef, models.StatusAwarded, models.Descriptor{})
	s.Require().NoError(err)

	change, err := s.service.Apply(ctx, "alice", badgeRef, models.StatusAwarded, models.Descriptor{})

	s.Require().NoError(err)
	s.False(change.Changed())
}

func (s *ServiceSuite) TestApply_RejectsBadInput() {
	_, err := s.service.Apply(context.Background(), "", badgeRef, models.StatusAwarded, models.Descriptor{})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))

	_, err = s.service.Apply(context.Background(), "alice", badgeRef, models.Status("pending"), models.Descriptor{})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ServiceSuite) TestPublish_DispatchesByStatus() {
	ctx := context.Background()
	var revoked, awarded int
	s.hooks.Register(models.EventStatusRevoked, func(context.Context, models.StatusChange) error {
		revoked++
		return nil
	})
	s.hooks.Register(models.EventStatusAwarded, func(context.Context, models.StatusChange) error {
		awarded++
		return nil
	})

	created, err := s.service.Apply(ctx, "alice", badgeRef, models.StatusAwarded, models.Descriptor{})
	s.Require().NoError(err)
	s.Require().NoError(s.service.Publish(ctx, created))

	same, err := s.service.Apply(ctx, "alice", badgeRef, models.StatusAwarded, models.Descriptor{})
	s.Require().NoError(err)
	s.Require().NoError(s.service.Publish(ctx, same))

	flipped, err := s.service.Apply(ctx, "alice", badgeRef, models.StatusRevoked, models.Descriptor{})
	s.Require().NoError(err)
	s.Require().NoError(s.service.Publish(ctx, flipped))

	s.Equal(1, awarded)
	s.Equal(1, revoked)
}

func (s *ServiceSuite) TestGet_NotFound() {
	_, err := s.service.Get(context.Background(), uuid.New())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
