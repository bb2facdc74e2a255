package models

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates what a user credential certifies.
type Kind string

const (
	KindProgram Kind = "program"
	KindCourse  Kind = "course"
	KindBadge   Kind = "badge"
)

// Status is the lifecycle status of an issued credential.
type Status string

const (
	StatusAwarded Status = "awarded"
	StatusRevoked Status = "revoked"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusAwarded || s == StatusRevoked
}

// Hook event types dispatched after a credential status is committed.
const (
	EventStatusAwarded = "credential.status.awarded"
	EventStatusRevoked = "credential.status.revoked"
)

// Reference points at the credential type a user credential proves,
// e.g. a program UUID, a course key or a badge template ID.
type Reference struct {
	Kind Kind
	ID   string
}

// Descriptor carries display fields copied onto the credential.
type Descriptor struct {
	Title       string
	Description string
}

// UserCredential is the record of a credential issued to one learner.
type UserCredential struct {
	ID          uuid.UUID
	Username    string
	Status      Status
	Kind        Kind
	TypeRef     string
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reference returns the credential type reference.
func (c *UserCredential) Reference() Reference {
	return Reference{Kind: c.Kind, ID: c.TypeRef}
}

// IsRevoked reports whether the credential is currently revoked.
func (c *UserCredential) IsRevoked() bool {
	return c.Status == StatusRevoked
}

// StatusChange describes the effect of one create-or-update.
type StatusChange struct {
	Credential UserCredential
	// Previous is empty when the credential was created.
	Previous Status
	Created  bool
}

// Changed reports whether the status differs from before the update.
func (c StatusChange) Changed() bool {
	return c.Created || c.Previous != c.Credential.Status
}

// EventType returns the hook event type for the new status.
func (c StatusChange) EventType() string {
	if c.Credential.Status == StatusRevoked {
		return EventStatusRevoked
	}
	return EventStatusAwarded
}
