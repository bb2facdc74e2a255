package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"credentials/internal/credentials/models"
	"credentials/pkg/platform/sentinel"
	txcontext "credentials/pkg/platform/tx"
)

// PostgresStore persists user credentials in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed credential store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const credentialColumns = `id, username, status, kind, type_ref, title, description, created_at, updated_at`

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*models.UserCredential, error) {
	row := txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM user_credentials WHERE id = $1`, id)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user credential %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find user credential: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindByReference(ctx context.Context, username string, ref models.Reference) (*models.UserCredential, error) {
	row := txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+credentialColumns+` FROM user_credentials WHERE username = $1 AND kind = $2 AND type_ref = $3`,
		username, string(ref.Kind), ref.ID)
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user credential for %s: %w", username, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find user credential by reference: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByUsername(ctx context.Context, username string) ([]*models.UserCredential, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT `+credentialColumns+` FROM user_credentials WHERE username = $1 ORDER BY created_at`, username)
	if err != nil {
		return nil, fmt.Errorf("list user credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.UserCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Save(ctx context.Context, c *models.UserCredential) error {
	_, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO user_credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.Username, string(c.Status), string(c.Kind), c.TypeRef, c.Title, c.Description, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user credential %s: %w", c.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("save user credential: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*models.UserCredential, error) {
	var c models.UserCredential
	var status, kind string
	if err := row.Scan(&c.ID, &c.Username, &status, &kind, &c.TypeRef, &c.Title, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = models.Status(status)
	c.Kind = models.Kind(kind)
	return &c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
