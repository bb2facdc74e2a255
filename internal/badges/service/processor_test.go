package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"credentials/internal/badges/models"
	credmodels "credentials/internal/credentials/models"
	"credentials/pkg/testutil"
)

func (s *ServiceSuite) TestProcess_TwoRequirementsCompleteTemplate() {
	ctx := context.Background()
	tmpl := s.newTemplate("Demo learner")
	r1 := s.addRequirement(tmpl.ID, eventPassing, aliceRule())
	r2 := s.addRequirement(tmpl.ID, eventCert)
	s.activate(tmpl.ID)

	s.Require().NoError(s.service.Process(ctx, eventPassing, payloadFor(s.T(), "alice")))

	progress := s.progressOf("alice", tmpl.ID)
	s.Equal(models.ProgressInProgress, progress.State)
	fulfilled, err := s.store.Fulfillments(ctx, progress.ID)
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{r1.ID}, fulfilled)
	s.Empty(s.credentialsOf("alice"))

	s.notifier.EXPECT().BadgeAwarded(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n models.BadgeNotification) error {
			s.Equal("alice", n.User.Username)
			s.Equal(int64(17), n.User.ID)
			s.Equal(tmpl.ID, n.Template.ID)
			return nil
		})

	s.Require().NoError(s.service.Process(ctx, eventCert, payloadFor(s.T(), "alice")))

	progress = s.progressOf("alice", tmpl.ID)
	s.Equal(models.ProgressComplete, progress.State)
	creds := s.credentialsOf("alice")
	s.Require().Len(creds, 1)
	s.Equal(credmodels.StatusAwarded, creds[0].Status)
	s.Equal(credmodels.KindBadge, creds[0].Kind)
	s.Equal(tmpl.ID.String(), creds[0].TypeRef)
	s.Equal(creds[0].ID, *progress.CredentialID)
	s.Require().Len(s.hookEvents, 1)
	s.Equal(credmodels.EventStatusAwarded, s.hookEvents[0].EventType())

	fulfilled, err = s.store.Fulfillments(ctx, progress.ID)
	s.Require().NoError(err)
	s.ElementsMatch([]uuid.UUID{r1.ID, r2.ID}, fulfilled)
}

func (s *ServiceSuite) TestProcess_RedeliveryIsIdempotent() {
	ctx := context.Background()
	tmpl := s.newTemplate("Single step")
	s.addRequirement(tmpl.ID, eventPassing, aliceRule())
	s.activate(tmpl.ID)

	s.notifier.EXPECT().BadgeAwarded(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	s.Require().NoError(s.service.Process(ctx, eventPassing, payloadFor(s.T(), "alice")))
	s.Require().NoError(s.service.Process(ctx, eventPassing, payloadFor(s.T(), "alice")))

	progress := s.progressOf("alice", tmpl.ID)
	fulfilled, err := s.store.Fulfillments(ctx, progress.ID)
	s.Require().NoError(err)
	s.Len(fulfilled, 1)
	s.Len(s.credentialsOf("alice"), 1)
	s.Len(s.hookEvents, 1)
}

func (s *ServiceSuite) TestProcess_ConcurrentDuplicateDeliveryAwardsOnce() {
	ctx := context.Background()
	tmpl := s.newTemplate("Concurrent")
	s.addRequirement(tmpl.ID, eventPassing)
	s.activate(tmpl.ID)

	s.notifier.EXPECT().BadgeAwarded(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	payload := payloadFor(s.T(), "alice")
	result := testutil.RunConcurrent(20, func(int) error {
		return s.service.Process(ctx, eventPassing, payload)
	})

	s.Equal(int32(20), result.Successes)
	creds := s.credentialsOf("alice")
	s.Require().Len(creds, 1)
	s.Equal(credmodels.StatusAwarded, creds[0].Status)
}

func (s *ServiceSuite) TestProcess_UnidentifiableUserMutatesNothing() {
	ctx := context.Background()
	tmpl := s.newTemplate("No user")
	s.addRequirement(tmpl.ID, eventPassing)
	s.activate(tmpl.ID)

	payloads := []map[string]any{
		{},
		{"course": map[string]any{"course_key": "course-v1:edX+DemoX"}},
		{"user": map[string]any{"pii": map[string]any{"username": ""}}},
		{"user": "alice"},
	}
	for _, payload := range payloads {
		s.Require().NoError(s.service.Process(ctx, eventPassing, payload))
	}

	_, err := s.store.FindProgress(ctx, "alice", tmpl.ID)
	s.Error(err)
	s.Empty(s.credentialsOf("alice"))
}

func (s *ServiceSuite) TestProcess_RulesMustAllMatch() {
	ctx := context.Background()
	tmpl := s.newTemplate("Passing Demo")
	s.addRequirement(tmpl.ID, eventPassing,
		RuleSpec{Path: "course.course_key", Value: "course-v1:edX+DemoX+Demo_Course"},
		RuleSpec{Path: "is_passing", Value: "false"},
	)
	s.activate(tmpl.ID)

	s.Require().NoError(s.service.Process(ctx, eventPassing, payloadFor(s.T(), "alice")))

	_, err := s.store.FindProgress(ctx, "alice", tmpl.ID)
	s.Error(err)
}

func (s *ServiceSuite) TestProcess_InactiveTemplateIgnored() {
	ctx := context.Background()
	tmpl := s.newTemplate("Draft")
	s.addRequirement(tmpl.ID, eventPassing)

	s.Require().NoError(s.service.Process(ctx, eventPassing, payloadFor(s.T(), "alice")))

	_, err := s.store.FindProgress(ctx, "alice", tmpl.ID)
	s.Error(err)
}

func (s *ServiceSuite) TestProcess_PenaltyRegressesCompletedTemplate() {
	ctx := context.Background()
	tmpl := s.newTemplate("Demo learner")
	r1 := s.addRequirement(tmpl.ID, eventPassing, aliceRule())
	r2 := s.addRequirement(tmpl.ID, eventCert)
	_, err := s.service.AddPenalty(ctx, PenaltySpec{
		RequirementIDs: []uuid.UUID{r1.ID},
		Rules:          []RuleSpec{aliceRule()},
	})
	s.Require().NoError(err)
	s.activate(tmpl.ID)

	s.notifier.EXPECT().BadgeAwarded(gomock.Any(), gomock.Any()).Return(nil)
	s.Require().NoError(s.service.Process(ctx, eventPassing, payloadFor(s.T(), "alice")))
	s.Require().NoError(s.service.Process(ctx, eventCert, payloadFor(s.T(), "alice")))
	s.Require().Equal(models.ProgressComplete, s.progressOf("alice", tmpl.ID).State)

	s.notifier.EXPECT().BadgeRevoked(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n models.BadgeNotification) error {
			s.Equal(tmpl.ID, n.Template.ID)
			return nil
		})
	s.Require().NoError(s.service.Process(ctx, eventPassing, payloadFor(s.T(), "alice")))

	progress := s.progressOf("alice", tmpl.ID)
	s.Equal(models.ProgressRegressed, progress.State)
	fulfilled, err := s.store.Fulfillments(ctx, progress.ID)
	s.Require().NoError(err)
	s.Equal([]uuid.UUID{r2.ID}, fulfilled)

	creds := s.credentialsOf("alice")
	s.Require().Len(creds, 1)
	s.Equal(credmodels.StatusRevoked, creds[0].Status)

	revocations := 0
	for _, e := range s.hookEvents {
		if e.EventType() == credmodels.EventStatusRevoked {
			revocations++
		}
	}
	s.Equal(1, revocations)
}

func (s *ServiceSuite) TestProcess_RegressedTemplateCanBeEarnedAgain() {
	ctx := context.Background()
	tmpl := s.newTemplate("Second chance")
	r1 := s.addRequirement(tmpl.ID, eventCert)
	_, err := s.service.AddPenalty(ctx, PenaltySpec{
		RequirementIDs: []uuid.UUID{r1.ID},
		Rules:          []RuleSpec{{Path: "revoked", Value: "true"}},
	})
	s.Require().NoError(err)
	s.activate(tmpl.ID)

	s.notifier.EXPECT().BadgeAwarded(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	s.notifier.EXPECT().BadgeRevoked(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	s.Require().NoError(s.service.Process(ctx, eventCert, payloadFor(s.T(), "alice")))
	revoke := payloadFor(s.T(), "alice")
	revoke["revoked"] = true
	s.Require().NoError(s.service.Process(ctx, eventCert, revoke))
	s.Equal(models.ProgressRegressed, s.progressOf("alice", tmpl.ID).State)

	s.Require().NoError(s.service.Process(ctx, eventCert, payloadFor(s.T(), "alice")))

	s.Equal(models.ProgressComplete, s.progressOf("alice", tmpl.ID).State)
	creds := s.credentialsOf("alice")
	s.Require().Len(creds, 1)
	s.Equal(credmodels.StatusAwarded, creds[0].Status)
}

func (s *ServiceSuite) TestProcess_PenaltyWithoutProgressIsNoop() {
	ctx := context.Background()
	tmpl := s.newTemplate("Never started")
	r1 := s.addRequirement(tmpl.ID, eventCert, RuleSpec{Path: "never.present", Value: "x"})
	_, err := s.service.AddPenalty(ctx, PenaltySpec{RequirementIDs: []uuid.UUID{r1.ID}})
	s.Require().NoError(err)
	s.activate(tmpl.ID)

	s.Require().NoError(s.service.Process(ctx, eventCert, payloadFor(s.T(), "alice")))

	s.Empty(s.credentialsOf("alice"))
}

func (s *ServiceSuite) TestProcess_NotificationFailureDoesNotFailEvent() {
	ctx := context.Background()
	tmpl := s.newTemplate("Flaky bus")
	s.addRequirement(tmpl.ID, eventPassing)
	s.activate(tmpl.ID)

	s.notifier.EXPECT().BadgeAwarded(gomock.Any(), gomock.Any()).Return(errors.New("broker unavailable"))

	s.NoError(s.service.Process(ctx, eventPassing, payloadFor(s.T(), "alice")))
	s.Equal(models.ProgressComplete, s.progressOf("alice", tmpl.ID).State)
}
