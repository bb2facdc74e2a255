package testutil

import (
	"time"

	"github.com/google/uuid"

	badgemodels "credentials/internal/badges/models"
	credmodels "credentials/internal/credentials/models"
	vcmodels "credentials/internal/verifiable/models"
)

// TestIDs provides convenient pre-generated IDs for tests.
// Use these for deterministic test data.
var TestIDs = struct {
	IssuerID        string
	HolderID        string
	CredentialID1   uuid.UUID
	OrganizationID1 uuid.UUID
}{
	IssuerID:        "did:key:z6MkpTHR8VNsBxYAAWHut2Geadd9jSwuBV8xRoAnwWsdvktH",
	HolderID:        "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK",
	CredentialID1:   uuid.MustParse("11111111-1111-1111-1111-111111111111"),
	OrganizationID1: uuid.MustParse("cccc0000-0000-0000-0000-000000000001"),
}

// UserCredentialBuilder provides a fluent interface for building user credentials.
type UserCredentialBuilder struct {
	cred *credmodels.UserCredential
}

// NewUserCredentialBuilder creates a new UserCredentialBuilder with sensible defaults.
func NewUserCredentialBuilder() *UserCredentialBuilder {
	now := time.Now().UTC()
	return &UserCredentialBuilder{
		cred: &credmodels.UserCredential{
			ID:        uuid.New(),
			Username:  "alice",
			Status:    credmodels.StatusAwarded,
			Kind:      credmodels.KindProgram,
			TypeRef:   uuid.NewString(),
			Title:     "Data Science",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (b *UserCredentialBuilder) WithID(id uuid.UUID) *UserCredentialBuilder {
	b.cred.ID = id
	return b
}

func (b *UserCredentialBuilder) WithUsername(username string) *UserCredentialBuilder {
	b.cred.Username = username
	return b
}

func (b *UserCredentialBuilder) WithKind(kind credmodels.Kind) *UserCredentialBuilder {
	b.cred.Kind = kind
	return b
}

func (b *UserCredentialBuilder) Revoked() *UserCredentialBuilder {
	b.cred.Status = credmodels.StatusRevoked
	return b
}

func (b *UserCredentialBuilder) Build() *credmodels.UserCredential {
	return b.cred
}

// IssuanceLineBuilder provides a fluent interface for building issuance lines.
type IssuanceLineBuilder struct {
	line *vcmodels.IssuanceLine
}

// NewIssuanceLineBuilder creates an initiated line of the default issuer.
func NewIssuanceLineBuilder() *IssuanceLineBuilder {
	now := time.Now().UTC()
	return &IssuanceLineBuilder{
		line: &vcmodels.IssuanceLine{
			ID:        uuid.New(),
			IssuerID:  TestIDs.IssuerID,
			StorageID: "lc_wallet",
			Status:    credmodels.StatusAwarded,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func (b *IssuanceLineBuilder) ForCredential(id uuid.UUID) *IssuanceLineBuilder {
	b.line.UserCredentialID = &id
	return b
}

func (b *IssuanceLineBuilder) WithIssuer(issuerID string) *IssuanceLineBuilder {
	b.line.IssuerID = issuerID
	return b
}

func (b *IssuanceLineBuilder) WithStorage(storageID string) *IssuanceLineBuilder {
	b.line.StorageID = storageID
	return b
}

// StatusList turns the line into the issuer's status-list self-issuance line.
func (b *IssuanceLineBuilder) StatusList() *IssuanceLineBuilder {
	b.line.UserCredentialID = nil
	b.line.StorageID = vcmodels.StorageStatusList
	b.line.DataModelID = vcmodels.DataModelStatusList
	return b
}

func (b *IssuanceLineBuilder) Validated() *IssuanceLineBuilder {
	b.line.SubjectID = TestIDs.HolderID
	return b
}

func (b *IssuanceLineBuilder) WithStatusIndex(index int) *IssuanceLineBuilder {
	b.line.StatusIndex = &index
	return b
}

func (b *IssuanceLineBuilder) Build() *vcmodels.IssuanceLine {
	return b.line
}

// BadgeTemplateBuilder provides a fluent interface for building badge templates.
type BadgeTemplateBuilder struct {
	template *badgemodels.BadgeTemplate
}

// NewBadgeTemplateBuilder creates a draft local template.
func NewBadgeTemplateBuilder() *BadgeTemplateBuilder {
	now := time.Now().UTC()
	return &BadgeTemplateBuilder{
		template: &badgemodels.BadgeTemplate{
			ID:         uuid.New(),
			ExternalID: uuid.New(),
			Name:       "Course passed",
			Origin:     badgemodels.OriginOpenEdx,
			State:      badgemodels.TemplateDraft,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
}

func (b *BadgeTemplateBuilder) WithName(name string) *BadgeTemplateBuilder {
	b.template.Name = name
	return b
}

// FromCredly marks the template as synced from a Credly organization.
func (b *BadgeTemplateBuilder) FromCredly(orgID uuid.UUID) *BadgeTemplateBuilder {
	b.template.Origin = badgemodels.OriginCredly
	b.template.OrganizationID = &orgID
	return b
}

func (b *BadgeTemplateBuilder) Active() *BadgeTemplateBuilder {
	b.template.State = badgemodels.TemplateActive
	b.template.IsActive = true
	return b
}

func (b *BadgeTemplateBuilder) Build() *badgemodels.BadgeTemplate {
	return b.template
}
