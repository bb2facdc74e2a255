package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks Signer,Credentials

import (
	"context"

	"github.com/google/uuid"

	credmodels "credentials/internal/credentials/models"
	"credentials/internal/verifiable/models"
)

// Store persists issuance lines and issuer configurations.
// Error Contract:
// - FindLine, SaveLine, AssignStatusIndex and FindIssuer return sentinel.ErrNotFound for unknown keys
// - AssignStatusIndex returns sentinel.ErrConflict when a concurrent assignment took the same index
//   and sentinel.ErrExhausted when the next index would reach limit; the line is then left without one
// - GetOrCreateLine returns sentinel.ErrConflict when the open line it collided with was finalized concurrently
type Store interface {
	GetOrCreateLine(ctx context.Context, candidate *models.IssuanceLine) (*models.IssuanceLine, bool, error)
	FindLine(ctx context.Context, id uuid.UUID) (*models.IssuanceLine, error)
	SaveLine(ctx context.Context, line *models.IssuanceLine) error
	AssignStatusIndex(ctx context.Context, lineID uuid.UUID, limit int) (int, error)
	ListLines(ctx context.Context, credentialID uuid.UUID) ([]*models.IssuanceLine, error)
	SaveIssuer(ctx context.Context, cfg *models.IssuanceConfiguration) error
	FindIssuer(ctx context.Context, issuerID string) (*models.IssuanceConfiguration, error)
	ListIssuers(ctx context.Context) ([]*models.IssuanceConfiguration, error)
}

// Signer attaches a proof to a composed document.
type Signer interface {
	Sign(ctx context.Context, doc models.Document, issuer models.IssuanceConfiguration) (models.Document, error)
}

// Credentials looks up the user credentials lines prove.
type Credentials interface {
	Get(ctx context.Context, id uuid.UUID) (*credmodels.UserCredential, error)
}
