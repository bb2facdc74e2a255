package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"credentials/internal/badges/models"
	"credentials/pkg/platform/sentinel"
	txcontext "credentials/pkg/platform/tx"
)

// PostgresStore persists badge configuration and progress in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed badge store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) txcontext.Executor {
	return txcontext.Conn(ctx, s.db)
}

// Templates

const templateColumns = `id, external_id, name, description, icon_url, origin, state, is_active, organization_id, created_at, updated_at`

func (s *PostgresStore) CreateTemplate(ctx context.Context, t *models.BadgeTemplate) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO badge_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.ExternalID, t.Name, t.Description, t.IconURL, string(t.Origin), string(t.State), t.IsActive,
		nullUUID(t.OrganizationID), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("badge template %s: %w", t.ExternalID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create badge template: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, t *models.BadgeTemplate) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE badge_templates
		SET name = $2, description = $3, icon_url = $4, state = $5, is_active = $6, organization_id = $7, updated_at = $8
		WHERE id = $1
	`, t.ID, t.Name, t.Description, t.IconURL, string(t.State), t.IsActive, nullUUID(t.OrganizationID), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update badge template: %w", err)
	}
	return requireAffected(res, "badge template", t.ID)
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM badge_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete badge template: %w", err)
	}
	return requireAffected(res, "badge template", id)
}

func (s *PostgresStore) FindTemplate(ctx context.Context, id uuid.UUID) (*models.BadgeTemplate, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+templateColumns+` FROM badge_templates WHERE id = $1`, id)
	return s.scanOneTemplate(row, id.String())
}

func (s *PostgresStore) FindTemplateByExternalID(ctx context.Context, externalID uuid.UUID) (*models.BadgeTemplate, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+templateColumns+` FROM badge_templates WHERE external_id = $1`, externalID)
	return s.scanOneTemplate(row, externalID.String())
}

func (s *PostgresStore) scanOneTemplate(row rowScanner, key string) (*models.BadgeTemplate, error) {
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("badge template %s: %w", key, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find badge template: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]*models.BadgeTemplate, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+templateColumns+` FROM badge_templates ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list badge templates: %w", err)
	}
	defer rows.Close()
	var out []*models.BadgeTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan badge template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*models.BadgeTemplate, error) {
	var t models.BadgeTemplate
	var origin, state string
	var org uuid.NullUUID
	if err := row.Scan(&t.ID, &t.ExternalID, &t.Name, &t.Description, &t.IconURL, &origin, &state, &t.IsActive,
		&org, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Origin = models.Origin(origin)
	t.State = models.TemplateState(state)
	t.OrganizationID = fromNullUUID(org)
	return &t, nil
}

// Requirements and penalties

func (s *PostgresStore) CreateRequirement(ctx context.Context, r *models.BadgeRequirement) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO badge_requirements (id, template_id, event_type, effect, description, group_tag, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.TemplateID, r.EventType, string(r.Effect), r.Description, r.Group, r.IsActive, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create badge requirement: %w", err)
	}
	return s.insertRules(ctx, "requirement_id", r.ID, r.Rules)
}

func (s *PostgresStore) CreatePenalty(ctx context.Context, p *models.BadgePenalty) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO badge_penalties (id, template_id, event_type, effect, description, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.TemplateID, p.EventType, string(p.Effect), p.Description, p.IsActive, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create badge penalty: %w", err)
	}
	for _, rid := range p.RequirementIDs {
		if _, err := s.conn(ctx).ExecContext(ctx,
			`INSERT INTO badge_penalty_requirements (penalty_id, requirement_id) VALUES ($1, $2)`, p.ID, rid); err != nil {
			return fmt.Errorf("link badge penalty requirement: %w", err)
		}
	}
	return s.insertRules(ctx, "penalty_id", p.ID, p.Rules)
}

// insertRules writes rules owned by ownerColumn, which is a fixed column name.
func (s *PostgresStore) insertRules(ctx context.Context, ownerColumn string, ownerID uuid.UUID, rules []models.DataRule) error {
	for i, rule := range rules {
		_, err := s.conn(ctx).ExecContext(ctx, `
			INSERT INTO data_rules (id, `+ownerColumn+`, position, data_path, operator, value)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, rule.ID, ownerID, i, rule.Path, string(rule.Operator), rule.Value)
		if err != nil {
			return fmt.Errorf("create data rule: %w", err)
		}
	}
	return nil
}

const requirementSelect = `
	SELECT r.id, r.template_id, r.event_type, r.effect, r.description, r.group_tag, r.is_active, r.created_at
	FROM badge_requirements r`

func (s *PostgresStore) FindRequirements(ctx context.Context, ids []uuid.UUID) ([]models.BadgeRequirement, error) {
	reqs, err := s.queryRequirements(ctx, requirementSelect+` WHERE r.id = ANY($1::uuid[]) ORDER BY r.created_at`, uuidStrings(ids))
	if err != nil {
		return nil, err
	}
	if len(reqs) != len(ids) {
		return nil, fmt.Errorf("badge requirements: %w", sentinel.ErrNotFound)
	}
	return reqs, nil
}

func (s *PostgresStore) RequirementsByTemplate(ctx context.Context, templateID uuid.UUID) ([]models.BadgeRequirement, error) {
	return s.queryRequirements(ctx, requirementSelect+` WHERE r.template_id = $1 ORDER BY r.created_at`, templateID)
}

// RequirementsByEventType returns active requirements of active templates for eventType.
func (s *PostgresStore) RequirementsByEventType(ctx context.Context, eventType string) ([]models.BadgeRequirement, error) {
	return s.queryRequirements(ctx, requirementSelect+`
		JOIN badge_templates t ON t.id = r.template_id
		WHERE r.event_type = $1 AND r.is_active AND t.is_active
		ORDER BY r.created_at`, eventType)
}

func (s *PostgresStore) queryRequirements(ctx context.Context, query string, args ...any) ([]models.BadgeRequirement, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query badge requirements: %w", err)
	}
	defer rows.Close()

	var out []models.BadgeRequirement
	for rows.Next() {
		var r models.BadgeRequirement
		var effect string
		if err := rows.Scan(&r.ID, &r.TemplateID, &r.EventType, &effect, &r.Description, &r.Group, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan badge requirement: %w", err)
		}
		r.Effect = models.Effect(effect)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate badge requirements: %w", err)
	}

	ids := make([]uuid.UUID, len(out))
	for i, r := range out {
		ids[i] = r.ID
	}
	rules, err := s.rulesFor(ctx, "requirement_id", ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Rules = rules[out[i].ID]
	}
	return out, nil
}

// PenaltiesByEventType returns active penalties of active templates for eventType.
func (s *PostgresStore) PenaltiesByEventType(ctx context.Context, eventType string) ([]models.BadgePenalty, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT p.id, p.template_id, p.event_type, p.effect, p.description, p.is_active, p.created_at
		FROM badge_penalties p
		JOIN badge_templates t ON t.id = p.template_id
		WHERE p.event_type = $1 AND p.is_active AND t.is_active
		ORDER BY p.created_at
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("query badge penalties: %w", err)
	}
	defer rows.Close()

	var out []models.BadgePenalty
	for rows.Next() {
		var p models.BadgePenalty
		var effect string
		if err := rows.Scan(&p.ID, &p.TemplateID, &p.EventType, &effect, &p.Description, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan badge penalty: %w", err)
		}
		p.Effect = models.Effect(effect)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate badge penalties: %w", err)
	}

	ids := make([]uuid.UUID, len(out))
	for i, p := range out {
		ids[i] = p.ID
	}
	rules, err := s.rulesFor(ctx, "penalty_id", ids)
	if err != nil {
		return nil, err
	}
	links, err := s.penaltyRequirements(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Rules = rules[out[i].ID]
		out[i].RequirementIDs = links[out[i].ID]
	}
	return out, nil
}

func (s *PostgresStore) rulesFor(ctx context.Context, ownerColumn string, ownerIDs []uuid.UUID) (map[uuid.UUID][]models.DataRule, error) {
	out := make(map[uuid.UUID][]models.DataRule, len(ownerIDs))
	if len(ownerIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT id, `+ownerColumn+`, data_path, operator, value
		FROM data_rules
		WHERE `+ownerColumn+` = ANY($1::uuid[])
		ORDER BY position
	`, uuidStrings(ownerIDs))
	if err != nil {
		return nil, fmt.Errorf("query data rules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rule models.DataRule
		var owner uuid.UUID
		var op string
		if err := rows.Scan(&rule.ID, &owner, &rule.Path, &op, &rule.Value); err != nil {
			return nil, fmt.Errorf("scan data rule: %w", err)
		}
		rule.Operator = models.Operator(op)
		out[owner] = append(out[owner], rule)
	}
	return out, rows.Err()
}

func (s *PostgresStore) penaltyRequirements(ctx context.Context, penaltyIDs []uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	out := make(map[uuid.UUID][]uuid.UUID, len(penaltyIDs))
	if len(penaltyIDs) == 0 {
		return out, nil
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT penalty_id, requirement_id FROM badge_penalty_requirements WHERE penalty_id = ANY($1::uuid[])
	`, uuidStrings(penaltyIDs))
	if err != nil {
		return nil, fmt.Errorf("query penalty requirements: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pid, rid uuid.UUID
		if err := rows.Scan(&pid, &rid); err != nil {
			return nil, fmt.Errorf("scan penalty requirement: %w", err)
		}
		out[pid] = append(out[pid], rid)
	}
	return out, rows.Err()
}

// Progress

const progressColumns = `id, username, template_id, user_credential_id, state, created_at, updated_at`

func (s *PostgresStore) FindProgress(ctx context.Context, username string, templateID uuid.UUID) (*models.BadgeProgress, error) {
	var p models.BadgeProgress
	var tmpl, cred uuid.NullUUID
	var state string
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+progressColumns+` FROM badge_progress WHERE username = $1 AND template_id = $2
	`, username, templateID).Scan(&p.ID, &p.Username, &tmpl, &cred, &state, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("badge progress for %s: %w", username, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find badge progress: %w", err)
	}
	p.TemplateID = fromNullUUID(tmpl)
	p.CredentialID = fromNullUUID(cred)
	p.State = models.ProgressState(state)
	return &p, nil
}

func (s *PostgresStore) CreateProgress(ctx context.Context, p *models.BadgeProgress) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO badge_progress (`+progressColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.Username, nullUUID(p.TemplateID), nullUUID(p.CredentialID), string(p.State), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("badge progress for %s: %w", p.Username, sentinel.ErrConflict)
		}
		return fmt.Errorf("create badge progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveProgress(ctx context.Context, p *models.BadgeProgress) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE badge_progress SET user_credential_id = $2, state = $3, updated_at = $4 WHERE id = $1
	`, p.ID, nullUUID(p.CredentialID), string(p.State), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save badge progress: %w", err)
	}
	return requireAffected(res, "badge progress", p.ID)
}

func (s *PostgresStore) Fulfillments(ctx context.Context, progressID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT requirement_id FROM fulfillments WHERE progress_id = $1`, progressID)
	if err != nil {
		return nil, fmt.Errorf("query fulfillments: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan fulfillment: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddFulfillment inserts f and reports false when the requirement was already fulfilled.
func (s *PostgresStore) AddFulfillment(ctx context.Context, f *models.Fulfillment) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO fulfillments (id, progress_id, requirement_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (progress_id, requirement_id) DO NOTHING
	`, f.ID, f.ProgressID, f.RequirementID, f.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create fulfillment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create fulfillment: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) DeleteFulfillments(ctx context.Context, progressID uuid.UUID, requirementIDs []uuid.UUID) (int, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM fulfillments WHERE progress_id = $1 AND requirement_id = ANY($2::uuid[])
	`, progressID, uuidStrings(requirementIDs))
	if err != nil {
		return 0, fmt.Errorf("delete fulfillments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete fulfillments: %w", err)
	}
	return int(n), nil
}

// Credly organizations

func (s *PostgresStore) SaveOrganization(ctx context.Context, org *models.CredlyOrganization) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO credly_organizations (id, name, api_key, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, api_key = EXCLUDED.api_key
	`, org.ID, org.Name, org.APIKey, org.CreatedAt)
	if err != nil {
		return fmt.Errorf("save credly organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindOrganization(ctx context.Context, id uuid.UUID) (*models.CredlyOrganization, error) {
	var org models.CredlyOrganization
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, api_key, created_at FROM credly_organizations WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.APIKey, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credly organization %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find credly organization: %w", err)
	}
	return &org, nil
}

// helpers

func requireAffected(res sql.Result, entity string, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, sentinel.ErrNotFound)
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
