package service

import (
	"context"

	"github.com/google/uuid"

	"credentials/internal/badges/models"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/testutil"
)

func (s *ServiceSuite) TestNew_RequiresEventTypes() {
	_, err := New(s.store, s.credentials, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func (s *ServiceSuite) TestCreateTemplate_Validation() {
	_, err := s.service.CreateTemplate(context.Background(), CreateTemplateCommand{
		ExternalID: uuid.New(),
		Name:       "  ",
		Origin:     "accredible",
	})

	s.Require().True(dErrors.HasCode(err, dErrors.CodeValidation))
	fields := dErrors.FieldsOf(err)
	s.Contains(fields, "name")
	s.Contains(fields, "origin")
}

func (s *ServiceSuite) TestCreateTemplate_DuplicateExternalID() {
	ctx := context.Background()
	tmpl := s.newTemplate("Original")

	_, err := s.service.CreateTemplate(ctx, CreateTemplateCommand{
		ExternalID: tmpl.ExternalID,
		Name:       "Copy",
		Origin:     models.OriginOpenEdx,
	})

	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestAddRequirement_EventTypeAllowlist() {
	tmpl := s.newTemplate("Allowlist")

	_, err := s.service.AddRequirement(context.Background(), tmpl.ID, RequirementSpec{
		EventType: "org.openedx.learning.unknown.v1",
	})

	s.Require().True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(dErrors.FieldsOf(err), "event_type")
}

func (s *ServiceSuite) TestAddRequirement_RejectsBadPath() {
	tmpl := s.newTemplate("Paths")

	_, err := s.service.AddRequirement(context.Background(), tmpl.ID, RequirementSpec{
		EventType: eventPassing,
		Rules:     []RuleSpec{{Path: "user..username", Value: "alice"}},
	})

	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestAddRequirement_FrozenWhenActive() {
	tmpl := s.newTemplate("Frozen")
	s.addRequirement(tmpl.ID, eventPassing)
	s.activate(tmpl.ID)

	_, err := s.service.AddRequirement(context.Background(), tmpl.ID, RequirementSpec{EventType: eventCert})

	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestAddPenalty_RejectsCrossTemplate() {
	a := s.newTemplate("A")
	b := s.newTemplate("B")
	ra := s.addRequirement(a.ID, eventPassing)
	rb := s.addRequirement(b.ID, eventPassing)

	_, err := s.service.AddPenalty(context.Background(), PenaltySpec{
		RequirementIDs: []uuid.UUID{ra.ID, rb.ID},
	})

	s.Require().True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Contains(dErrors.FieldsOf(err), "requirement_ids")
}

func (s *ServiceSuite) TestAddPenalty_DerivesEventType() {
	tmpl := s.newTemplate("Derived")
	r := s.addRequirement(tmpl.ID, eventCert)

	p, err := s.service.AddPenalty(context.Background(), PenaltySpec{RequirementIDs: []uuid.UUID{r.ID}})

	s.Require().NoError(err)
	s.Equal(eventCert, p.EventType)
	s.Equal(tmpl.ID, p.TemplateID)
	s.Equal(models.EffectRevoke, p.Effect)
}

func (s *ServiceSuite) TestAddPenalty_UnknownRequirement() {
	_, err := s.service.AddPenalty(context.Background(), PenaltySpec{RequirementIDs: []uuid.UUID{uuid.New()}})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestActivateTemplate_RequiresRequirements() {
	tmpl := s.newTemplate("Empty")

	_, err := s.service.ActivateTemplate(context.Background(), tmpl.ID)

	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestDeleteTemplate() {
	ctx := context.Background()

	s.Run("active template with requirements fails validation", func() {
		tmpl := s.newTemplate("Busy")
		s.addRequirement(tmpl.ID, eventPassing)
		s.activate(tmpl.ID)

		err := s.service.DeleteTemplate(ctx, tmpl.ID)

		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("archived template is removed", func() {
		tmpl := s.newTemplate("Old")
		s.addRequirement(tmpl.ID, eventPassing)
		s.activate(tmpl.ID)
		_, err := s.service.ArchiveTemplate(ctx, tmpl.ID)
		s.Require().NoError(err)

		s.Require().NoError(s.service.DeleteTemplate(ctx, tmpl.ID))

		err = s.service.DeleteTemplate(ctx, tmpl.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestUpsertExternalTemplate() {
	ctx := context.Background()
	synced := testutil.NewBadgeTemplateBuilder().
		WithName("Credly badge").
		FromCredly(testutil.TestIDs.OrganizationID1).
		Active().
		Build()

	created, err := s.service.UpsertExternalTemplate(ctx, *synced)
	s.Require().NoError(err)
	s.False(created.IsActive)
	s.Equal(models.OriginCredly, created.Origin)

	synced.Name = "Credly badge v2"
	synced.State = models.TemplateArchived
	updated, err := s.service.UpsertExternalTemplate(ctx, *synced)
	s.Require().NoError(err)
	s.Equal(created.ID, updated.ID)
	s.Equal("Credly badge v2", updated.Name)
	s.Equal(models.TemplateArchived, updated.State)
	s.Require().NotNil(updated.OrganizationID)
	s.Equal(testutil.TestIDs.OrganizationID1, *updated.OrganizationID)
}

func (s *ServiceSuite) TestAllRequirementsPolicy() {
	r1 := models.BadgeRequirement{ID: uuid.New(), IsActive: true}
	r2 := models.BadgeRequirement{ID: uuid.New(), IsActive: true}
	inactive := models.BadgeRequirement{ID: uuid.New()}

	s.False(AllRequirements.Complete(nil, nil))
	s.False(AllRequirements.Complete([]models.BadgeRequirement{r1, r2}, map[uuid.UUID]struct{}{r1.ID: {}}))
	s.True(AllRequirements.Complete([]models.BadgeRequirement{r1, r2, inactive}, map[uuid.UUID]struct{}{r1.ID: {}, r2.ID: {}}))
}
