package models

import (
	"time"

	"github.com/google/uuid"

	credmodels "credentials/internal/credentials/models"
)

// Data model identifiers.
const (
	DataModelVC11       = "vc"
	DataModelOBv3       = "obv3"
	DataModelStatusList = "status_list"
)

// StorageStatusList is the storage of status-list self-issuance lines.
const StorageStatusList = "status_list"

// LineState is the issuance progress of one line.
type LineState string

const (
	StateInitiated LineState = "initiated"
	StateValidated LineState = "validated"
	StateComposed  LineState = "composed"
	StateSigned    LineState = "signed"
	StateFinalized LineState = "finalized"
)

// IssuanceLine is one attempt to issue a verifiable credential into a storage.
// Lines are never deleted; finalized lines form the issuance log.
type IssuanceLine struct {
	ID uuid.UUID
	// UserCredentialID is nil for status-list self-issuance.
	UserCredentialID *uuid.UUID
	Processed        bool
	IssuerID         string
	StorageID        string
	SubjectID        string
	DataModelID      string
	ExpirationDate   *time.Time
	// StatusIndex is the position in the issuer's revocation bitmap.
	StatusIndex *int
	// Status mirrors the status of the user credential.
	Status    credmodels.Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the persisted state. Composed and signed documents are not
// stored, so a line at rest is initiated, validated or finalized.
func (l *IssuanceLine) State() LineState {
	switch {
	case l.Processed:
		return StateFinalized
	case l.SubjectID != "":
		return StateValidated
	default:
		return StateInitiated
	}
}

// IsStatusList reports whether the line issues the issuer's status list.
func (l *IssuanceLine) IsStatusList() bool {
	return l.UserCredentialID == nil
}

// IssuanceConfiguration holds one issuer's identity and key material.
type IssuanceConfiguration struct {
	IssuerID   string
	IssuerKey  string
	IssuerName string
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Document is a JSON-LD credential document.
type Document map[string]any

// IssueResult is the outcome of composing and signing one line.
type IssueResult struct {
	Line     IssuanceLine
	Document Document
}
