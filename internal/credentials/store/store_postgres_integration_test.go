//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"credentials/internal/credentials/models"
	"credentials/internal/credentials/store"
	"credentials/pkg/platform/sentinel"
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

func newCredential(username, ref string) *models.UserCredential {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.UserCredential{
		ID:        uuid.New(),
		Username:  username,
		Status:    models.StatusAwarded,
		Kind:      models.KindProgram,
		TypeRef:   ref,
		Title:     "Data Science MicroMasters",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *PostgresStoreSuite) TestSaveAndFind() {
	ctx := context.Background()
	c := newCredential("alice", "program-1")
	s.Require().NoError(s.store.Save(ctx, c))

	byID, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.Title, byID.Title)

	byRef, err := s.store.FindByReference(ctx, "alice", c.Reference())
	s.Require().NoError(err)
	s.Equal(c.ID, byRef.ID)
}

func (s *PostgresStoreSuite) TestSaveUpdatesStatus() {
	ctx := context.Background()
	c := newCredential("alice", "program-1")
	s.Require().NoError(s.store.Save(ctx, c))

	c.Status = models.StatusRevoked
	s.Require().NoError(s.store.Save(ctx, c))

	got, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusRevoked, got.Status)
}

func (s *PostgresStoreSuite) TestDuplicateReferenceConflicts() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, newCredential("alice", "program-1")))

	err := s.store.Save(ctx, newCredential("alice", "program-1"))

	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestFindMissing() {
	_, err := s.store.FindByID(context.Background(), uuid.New())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
