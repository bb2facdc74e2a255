package seeder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgeservice "credentials/internal/badges/service"
	badgestore "credentials/internal/badges/store"
	credmodels "credentials/internal/credentials/models"
	credservice "credentials/internal/credentials/service"
	credstore "credentials/internal/credentials/store"
	"credentials/internal/events"
	"credentials/internal/platform/logger"
	dErrors "credentials/pkg/domain-errors"
)

const passingEvent = "org.openedx.learning.course.passing.status.updated.v1"

const seed = `
[[templates]]
external_id = "0b7d2c52-1f4e-4a7a-9c1e-6f6d5f1d0a01"
name = "Course passed"
description = "Passed the demo course"
activate = true

  [[templates.requirements]]
  key = "passed"
  event_type = "org.openedx.learning.course.passing.status.updated.v1"
  description = "Pass the course"

    [[templates.requirements.rules]]
    path = "course_passing_status.status"
    value = "passing"

  [[templates.penalties]]
  requirements = ["passed"]
  description = "Failing revokes the badge"

    [[templates.penalties.rules]]
    path = "course_passing_status.status"
    value = "failing"

[[templates]]
external_id = "0b7d2c52-1f4e-4a7a-9c1e-6f6d5f1d0a02"
name = "Draft badge"
`

func newBadgeService(t *testing.T) (*badgeservice.Service, *badgestore.InMemoryStore) {
	t.Helper()
	store := badgestore.NewInMemoryStore()
	creds := credservice.NewService(credstore.NewInMemoryStore(), events.NewDispatcher[credmodels.StatusChange]())
	svc, err := badgeservice.New(store, creds, []string{passingEvent}, badgeservice.WithLogger(logger.Discard()))
	require.NoError(t, err)
	return svc, store
}

func TestSeed_CreatesTemplatesWithRules(t *testing.T) {
	ctx := context.Background()
	svc, store := newBadgeService(t)

	f, err := Decode(strings.NewReader(seed))
	require.NoError(t, err)
	require.Len(t, f.Templates, 2)

	res, err := New(svc, logger.Discard()).Seed(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2}, res)

	passed, err := svc.FindTemplateByExternalID(ctx, uuid.MustParse("0b7d2c52-1f4e-4a7a-9c1e-6f6d5f1d0a01"))
	require.NoError(t, err)
	assert.True(t, passed.IsActive)

	reqs, err := store.RequirementsByTemplate(ctx, passed.ID)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	assert.Equal(t, passingEvent, reqs[0].EventType)
	require.Len(t, reqs[0].Rules, 1)
	assert.Equal(t, "course_passing_status.status", reqs[0].Rules[0].Path)

	penalties, err := svc.Registry().PenaltiesFor(ctx, passingEvent)
	require.NoError(t, err)
	require.Len(t, penalties, 1)
	assert.Equal(t, []uuid.UUID{reqs[0].ID}, penalties[0].RequirementIDs)

	draft, err := svc.FindTemplateByExternalID(ctx, uuid.MustParse("0b7d2c52-1f4e-4a7a-9c1e-6f6d5f1d0a02"))
	require.NoError(t, err)
	assert.False(t, draft.IsActive)
}

func TestSeed_IsRepeatable(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBadgeService(t)
	f, err := Decode(strings.NewReader(seed))
	require.NoError(t, err)

	s := New(svc, nil)
	_, err = s.Seed(ctx, f)
	require.NoError(t, err)
	res, err := s.Seed(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 2}, res)
}

func TestSeed_UnknownPenaltyKey(t *testing.T) {
	svc, _ := newBadgeService(t)
	f := &File{Templates: []Template{{
		ExternalID: uuid.New(),
		Name:       "Broken",
		Penalties:  []Penalty{{Requirements: []string{"missing"}}},
	}}}

	_, err := New(svc, nil).Seed(context.Background(), f)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "badges.toml")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Templates, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
