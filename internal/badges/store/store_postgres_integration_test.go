//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"credentials/internal/badges/models"
	"credentials/internal/badges/store"
	"credentials/pkg/platform/sentinel"
	"credentials/pkg/testutil"
	"credentials/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Reset(context.Background()))
}

func (s *PostgresStoreSuite) TestRequirementsByEventTypeFiltersInactiveTemplates() {
	ctx := context.Background()
	active := s.createTemplate(ctx, true)
	inactive := s.createTemplate(ctx, false)
	req := s.createRequirement(ctx, active.ID, "course.passing.status")
	s.createRequirement(ctx, inactive.ID, "course.passing.status")

	got, err := s.store.RequirementsByEventType(ctx, "course.passing.status")

	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(req.ID, got[0].ID)
	s.Require().Len(got[0].Rules, 2)
	s.Equal("course.course_key", got[0].Rules[0].Path)
	s.Equal("is_passing", got[0].Rules[1].Path)
}

func (s *PostgresStoreSuite) TestPenaltiesCarryRequirementLinks() {
	ctx := context.Background()
	tmpl := s.createTemplate(ctx, true)
	req := s.createRequirement(ctx, tmpl.ID, "course.passing.status")
	penalty := &models.BadgePenalty{
		ID:             uuid.New(),
		TemplateID:     tmpl.ID,
		EventType:      "course.passing.status",
		Effect:         models.EffectRevoke,
		IsActive:       true,
		RequirementIDs: []uuid.UUID{req.ID},
		Rules:          []models.DataRule{{ID: uuid.New(), Path: "is_passing", Operator: models.OperatorEq, Value: "false"}},
		CreatedAt:      time.Now().UTC(),
	}
	s.Require().NoError(s.store.CreatePenalty(ctx, penalty))

	got, err := s.store.PenaltiesByEventType(ctx, "course.passing.status")

	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal([]uuid.UUID{req.ID}, got[0].RequirementIDs)
	s.Len(got[0].Rules, 1)
}

func (s *PostgresStoreSuite) TestFulfillmentsAreIdempotent() {
	ctx := context.Background()
	tmpl := s.createTemplate(ctx, true)
	req := s.createRequirement(ctx, tmpl.ID, "course.passing.status")
	now := time.Now().UTC()
	progress := &models.BadgeProgress{
		ID: uuid.New(), Username: "alice", TemplateID: &tmpl.ID,
		State: models.ProgressNew, CreatedAt: now, UpdatedAt: now,
	}
	s.Require().NoError(s.store.CreateProgress(ctx, progress))

	f := &models.Fulfillment{ID: uuid.New(), ProgressID: progress.ID, RequirementID: req.ID, CreatedAt: now}
	created, err := s.store.AddFulfillment(ctx, f)
	s.Require().NoError(err)
	s.True(created)

	f.ID = uuid.New()
	created, err = s.store.AddFulfillment(ctx, f)
	s.Require().NoError(err)
	s.False(created)

	n, err := s.store.DeleteFulfillments(ctx, progress.ID, []uuid.UUID{req.ID})
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresStoreSuite) TestProgressUniquePerUserAndTemplate() {
	ctx := context.Background()
	tmpl := s.createTemplate(ctx, true)
	now := time.Now().UTC()
	p := &models.BadgeProgress{ID: uuid.New(), Username: "alice", TemplateID: &tmpl.ID, State: models.ProgressNew, CreatedAt: now, UpdatedAt: now}
	s.Require().NoError(s.store.CreateProgress(ctx, p))

	dup := *p
	dup.ID = uuid.New()
	s.ErrorIs(s.store.CreateProgress(ctx, &dup), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestDeleteTemplateKeepsProgress() {
	ctx := context.Background()
	tmpl := s.createTemplate(ctx, false)
	now := time.Now().UTC()
	p := &models.BadgeProgress{ID: uuid.New(), Username: "alice", TemplateID: &tmpl.ID, State: models.ProgressInProgress, CreatedAt: now, UpdatedAt: now}
	s.Require().NoError(s.store.CreateProgress(ctx, p))

	s.Require().NoError(s.store.DeleteTemplate(ctx, tmpl.ID))

	_, err := s.store.FindTemplate(ctx, tmpl.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	var templateID *uuid.UUID
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT template_id FROM badge_progress WHERE id = $1`, p.ID).Scan(&templateID))
	s.Nil(templateID)
}

func (s *PostgresStoreSuite) createTemplate(ctx context.Context, active bool) *models.BadgeTemplate {
	b := testutil.NewBadgeTemplateBuilder().WithName("Passed course")
	if active {
		b.Active()
	}
	t := b.Build()
	now := time.Now().UTC().Truncate(time.Microsecond)
	t.CreatedAt, t.UpdatedAt = now, now
	s.Require().NoError(s.store.CreateTemplate(ctx, t))
	return t
}

func (s *PostgresStoreSuite) createRequirement(ctx context.Context, templateID uuid.UUID, eventType string) *models.BadgeRequirement {
	r := &models.BadgeRequirement{
		ID: uuid.New(), TemplateID: templateID, EventType: eventType,
		Effect: models.EffectAward, IsActive: true, CreatedAt: time.Now().UTC(),
		Rules: []models.DataRule{
			{ID: uuid.New(), Path: "course.course_key", Operator: models.OperatorEq, Value: "course-v1:edX+DemoX"},
			{ID: uuid.New(), Path: "is_passing", Operator: models.OperatorEq, Value: "true"},
		},
	}
	s.Require().NoError(s.store.CreateRequirement(ctx, r))
	return r
}
