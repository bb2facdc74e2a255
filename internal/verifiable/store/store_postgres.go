package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	credmodels "credentials/internal/credentials/models"
	"credentials/internal/verifiable/models"
	"credentials/pkg/platform/sentinel"
	txcontext "credentials/pkg/platform/tx"
)

// PostgresStore persists issuance lines and issuer configurations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed issuance store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const lineColumns = `id, user_credential_id, processed, issuer_id, storage_id, subject_id, data_model_id,
	expiration_date, status_index, status, created_at, updated_at`

// GetOrCreateLine inserts candidate unless an open line already holds its key.
// The partial unique indexes make concurrent initiators converge on one row.
func (s *PostgresStore) GetOrCreateLine(ctx context.Context, candidate *models.IssuanceLine) (*models.IssuanceLine, bool, error) {
	conn := txcontext.Conn(ctx, s.db)
	res, err := conn.ExecContext(ctx, `
		INSERT INTO issuance_lines (`+lineColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING
	`, candidate.ID, candidate.UserCredentialID, candidate.Processed, candidate.IssuerID, candidate.StorageID,
		candidate.SubjectID, candidate.DataModelID, candidate.ExpirationDate, candidate.StatusIndex,
		string(candidate.Status), candidate.CreatedAt, candidate.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert issuance line: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		line := *candidate
		return &line, true, nil
	}

	var row *sql.Row
	if candidate.UserCredentialID != nil {
		row = conn.QueryRowContext(ctx, `SELECT `+lineColumns+` FROM issuance_lines
			WHERE user_credential_id = $1 AND storage_id = $2 AND NOT processed`,
			*candidate.UserCredentialID, candidate.StorageID)
	} else {
		row = conn.QueryRowContext(ctx, `SELECT `+lineColumns+` FROM issuance_lines
			WHERE user_credential_id IS NULL AND storage_id = $1 AND issuer_id = $2 AND NOT processed`,
			candidate.StorageID, candidate.IssuerID)
	}
	line, err := scanLine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// the open line was finalized between the insert and the read
			return nil, false, fmt.Errorf("issuance line for storage %s: %w", candidate.StorageID, sentinel.ErrConflict)
		}
		return nil, false, fmt.Errorf("find open issuance line: %w", err)
	}
	return line, false, nil
}

func (s *PostgresStore) FindLine(ctx context.Context, id uuid.UUID) (*models.IssuanceLine, error) {
	row := txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+lineColumns+` FROM issuance_lines WHERE id = $1`, id)
	line, err := scanLine(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("issuance line %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find issuance line: %w", err)
	}
	return line, nil
}

func (s *PostgresStore) SaveLine(ctx context.Context, line *models.IssuanceLine) error {
	res, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		UPDATE issuance_lines SET
			processed = $2,
			subject_id = $3,
			data_model_id = $4,
			expiration_date = $5,
			status = $6,
			updated_at = $7
		WHERE id = $1
	`, line.ID, line.Processed, line.SubjectID, line.DataModelID, line.ExpirationDate, string(line.Status), line.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save issuance line: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("issuance line %s: %w", line.ID, sentinel.ErrNotFound)
	}
	return nil
}

// AssignStatusIndex sets max+1 for the line's issuer in one statement. Two
// concurrent assignments computing the same value trip the
// (issuer_id, status_index) constraint and surface as sentinel.ErrConflict.
// The line is left untouched when max+1 reaches limit.
func (s *PostgresStore) AssignStatusIndex(ctx context.Context, lineID uuid.UUID, limit int) (int, error) {
	conn := txcontext.Conn(ctx, s.db)
	var idx int
	err := conn.QueryRowContext(ctx, `
		WITH next AS (
			SELECT COALESCE(MAX(o.status_index) + 1, 0) AS idx
			FROM issuance_lines o
			WHERE o.issuer_id = (SELECT issuer_id FROM issuance_lines WHERE id = $1)
		)
		UPDATE issuance_lines l SET status_index = COALESCE(l.status_index, next.idx)
		FROM next
		WHERE l.id = $1 AND (l.status_index IS NOT NULL OR next.idx < $2)
		RETURNING l.status_index
	`, lineID, limit).Scan(&idx)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			var exists bool
			if err := conn.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM issuance_lines WHERE id = $1)`, lineID).Scan(&exists); err != nil {
				return 0, fmt.Errorf("assign status index: %w", err)
			}
			if exists {
				return 0, fmt.Errorf("status list holds %d entries: %w", limit, sentinel.ErrExhausted)
			}
			return 0, fmt.Errorf("issuance line %s: %w", lineID, sentinel.ErrNotFound)
		case isUniqueViolation(err):
			return 0, fmt.Errorf("status index for line %s: %w", lineID, sentinel.ErrConflict)
		}
		return 0, fmt.Errorf("assign status index: %w", err)
	}
	return idx, nil
}

func (s *PostgresStore) UpdateStatusForCredential(ctx context.Context, credentialID uuid.UUID, status credmodels.Status) ([]string, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, `
		WITH updated AS (
			UPDATE issuance_lines SET status = $2, updated_at = NOW()
			WHERE user_credential_id = $1
			RETURNING issuer_id, status_index
		)
		SELECT DISTINCT issuer_id FROM updated WHERE status_index IS NOT NULL ORDER BY issuer_id
	`, credentialID, string(status))
	if err != nil {
		return nil, fmt.Errorf("update issuance line status: %w", err)
	}
	defer rows.Close()

	var issuers []string
	for rows.Next() {
		var issuerID string
		if err := rows.Scan(&issuerID); err != nil {
			return nil, fmt.Errorf("scan issuer: %w", err)
		}
		issuers = append(issuers, issuerID)
	}
	return issuers, rows.Err()
}

func (s *PostgresStore) RevokedStatusIndexes(ctx context.Context, issuerID string) ([]int, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT status_index FROM issuance_lines
		WHERE issuer_id = $1 AND processed AND status_index IS NOT NULL AND status = $2
		ORDER BY status_index
	`, issuerID, string(credmodels.StatusRevoked))
	if err != nil {
		return nil, fmt.Errorf("list revoked status indexes: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan status index: %w", err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListLines(ctx context.Context, credentialID uuid.UUID) ([]*models.IssuanceLine, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT `+lineColumns+` FROM issuance_lines WHERE user_credential_id = $1 ORDER BY created_at`, credentialID)
	if err != nil {
		return nil, fmt.Errorf("list issuance lines: %w", err)
	}
	defer rows.Close()

	var out []*models.IssuanceLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issuance line: %w", err)
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveIssuer(ctx context.Context, cfg *models.IssuanceConfiguration) error {
	_, err := txcontext.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO issuance_configurations (issuer_id, issuer_key, issuer_name, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (issuer_id) DO UPDATE SET
			issuer_key = EXCLUDED.issuer_key,
			issuer_name = EXCLUDED.issuer_name,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`, cfg.IssuerID, cfg.IssuerKey, cfg.IssuerName, cfg.Enabled, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save issuer: %w", err)
	}
	return nil
}

const issuerColumns = `issuer_id, issuer_key, issuer_name, enabled, created_at, updated_at`

func (s *PostgresStore) FindIssuer(ctx context.Context, issuerID string) (*models.IssuanceConfiguration, error) {
	var cfg models.IssuanceConfiguration
	err := txcontext.Conn(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+issuerColumns+` FROM issuance_configurations WHERE issuer_id = $1`, issuerID,
	).Scan(&cfg.IssuerID, &cfg.IssuerKey, &cfg.IssuerName, &cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("issuer %s: %w", issuerID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find issuer: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresStore) ListIssuers(ctx context.Context) ([]*models.IssuanceConfiguration, error) {
	rows, err := txcontext.Conn(ctx, s.db).QueryContext(ctx,
		`SELECT `+issuerColumns+` FROM issuance_configurations ORDER BY issuer_id`)
	if err != nil {
		return nil, fmt.Errorf("list issuers: %w", err)
	}
	defer rows.Close()

	var out []*models.IssuanceConfiguration
	for rows.Next() {
		var cfg models.IssuanceConfiguration
		if err := rows.Scan(&cfg.IssuerID, &cfg.IssuerKey, &cfg.IssuerName, &cfg.Enabled, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan issuer: %w", err)
		}
		out = append(out, &cfg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLine(row rowScanner) (*models.IssuanceLine, error) {
	var (
		l          models.IssuanceLine
		credID     uuid.NullUUID
		expiration sql.NullTime
		index      sql.NullInt32
		status     string
	)
	if err := row.Scan(&l.ID, &credID, &l.Processed, &l.IssuerID, &l.StorageID, &l.SubjectID, &l.DataModelID,
		&expiration, &index, &status, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if credID.Valid {
		id := credID.UUID
		l.UserCredentialID = &id
	}
	if expiration.Valid {
		t := expiration.Time
		l.ExpirationDate = &t
	}
	if index.Valid {
		i := int(index.Int32)
		l.StatusIndex = &i
	}
	l.Status = credmodels.Status(status)
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
