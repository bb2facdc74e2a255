package models

import (
	"time"

	"github.com/google/uuid"
)

// Origin tags where a template comes from and selects its capabilities.
type Origin string

const (
	OriginOpenEdx Origin = "openedx"
	OriginCredly  Origin = "credly"
)

// TemplateState is the lifecycle state of a badge template.
type TemplateState string

const (
	TemplateDraft    TemplateState = "draft"
	TemplateActive   TemplateState = "active"
	TemplateArchived TemplateState = "archived"
	TemplateRevoked  TemplateState = "revoked"
)

// Effect of a rule when it matches.
type Effect string

const (
	EffectAward  Effect = "award"
	EffectRevoke Effect = "revoke"
)

// Operator compares a resolved payload value with a rule value.
type Operator string

const (
	OperatorEq Operator = "eq"
)

// BadgeTemplate is an earnable badge definition.
type BadgeTemplate struct {
	ID             uuid.UUID
	ExternalID     uuid.UUID
	Name           string
	Description    string
	IconURL        string
	Origin         Origin
	State          TemplateState
	IsActive       bool
	OrganizationID *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RulesFrozen reports whether requirements and penalties can no longer change.
func (t *BadgeTemplate) RulesFrozen() bool {
	return t.IsActive
}

// DataRule is one predicate on the event payload.
type DataRule struct {
	ID       uuid.UUID
	Path     string
	Operator Operator
	Value    string
}

// BadgeRequirement is one award rule for a template.
type BadgeRequirement struct {
	ID          uuid.UUID
	TemplateID  uuid.UUID
	EventType   string
	Effect      Effect
	Description string
	// Group is carried for completion policies that combine grouped requirements.
	Group     string
	IsActive  bool
	Rules     []DataRule
	CreatedAt time.Time
}

// BadgePenalty is one revoke rule over requirements of a single template.
type BadgePenalty struct {
	ID             uuid.UUID
	TemplateID     uuid.UUID
	EventType      string
	Effect         Effect
	Description    string
	IsActive       bool
	RequirementIDs []uuid.UUID
	Rules          []DataRule
	CreatedAt      time.Time
}

// ProgressState is the per (username, template) state.
type ProgressState string

const (
	ProgressNew        ProgressState = "new"
	ProgressInProgress ProgressState = "in_progress"
	ProgressComplete   ProgressState = "complete"
	ProgressRegressed  ProgressState = "regressed"
)

// BadgeProgress aggregates fulfillments of one user towards one template.
type BadgeProgress struct {
	ID           uuid.UUID
	Username     string
	TemplateID   *uuid.UUID
	CredentialID *uuid.UUID
	State        ProgressState
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsComplete reports whether the template has been earned.
func (p *BadgeProgress) IsComplete() bool {
	return p != nil && p.State == ProgressComplete
}

// Fulfillment records one satisfied requirement within a progress.
type Fulfillment struct {
	ID            uuid.UUID
	ProgressID    uuid.UUID
	RequirementID uuid.UUID
	CreatedAt     time.Time
}

// CredlyOrganization holds API credentials for one Credly organization.
type CredlyOrganization struct {
	ID        uuid.UUID
	Name      string
	APIKey    string
	CreatedAt time.Time
}

// UserData identifies the learner an event is about.
type UserData struct {
	ID       int64
	IsActive bool
	Username string
	Email    string
	Name     string
}

// BadgeNotification is the outbound award or revoke message for one credential.
type BadgeNotification struct {
	CredentialID uuid.UUID
	User         UserData
	Template     BadgeTemplate
}
