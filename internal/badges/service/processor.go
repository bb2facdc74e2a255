package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"credentials/internal/badges/models"
	"credentials/internal/badges/rules"
	credmodels "credentials/internal/credentials/models"
	"credentials/internal/platform/metrics"
	"credentials/internal/platform/privacy"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/sentinel"
	"credentials/pkg/platform/tracer"
)

// transition is a committed award or revoke waiting for post-commit side effects.
type transition struct {
	change   credmodels.StatusChange
	template models.BadgeTemplate
	user     models.UserData
}

func (t transition) revoked() bool {
	return t.change.Credential.Status == credmodels.StatusRevoked
}

type processResult struct {
	transitions []transition
	progressed  bool
}

// Process evaluates one learning event. Unidentifiable users and events that
// match nothing are dropped without error. Store and credential failures are
// returned so the event can be redelivered; work already committed for other
// templates stays committed and is skipped on redelivery.
func (s *Service) Process(ctx context.Context, eventType string, payload map[string]any) (err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanBadgeProcess, tracer.String(tracer.AttrEventType, eventType))
	defer func() { span.End(err) }()

	user, err := rules.ExtractUser(payload)
	if errors.Is(err, rules.ErrCannotIdentifyUser) {
		s.logger.DebugContext(ctx, "badge event dropped: cannot identify user", "event_type", eventType)
		s.metrics.IncrementEventsProcessed(eventType, metrics.OutcomeDropped)
		return nil
	}
	if err != nil {
		return err
	}
	span.SetAttributes(tracer.String(tracer.AttrUserHash, privacy.HashUsername(user.Username)))

	var result processResult
	var errs []error
	touched := make(map[uuid.UUID]struct{})

	requirements, err := s.registry.RequirementsFor(ctx, eventType)
	if err != nil {
		s.metrics.IncrementEventsProcessed(eventType, metrics.OutcomeFailed)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load badge requirements")
	}
	for _, group := range groupByTemplate(requirements) {
		t, progressed, err := s.award(ctx, user, group.templateID, group.requirements, payload)
		if err != nil {
			s.logger.ErrorContext(ctx, "badge award pass failed",
				"event_type", eventType,
				"username", user.Username,
				"template_id", group.templateID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		if progressed {
			result.progressed = true
			touched[group.templateID] = struct{}{}
		}
		if t != nil {
			result.transitions = append(result.transitions, *t)
		}
	}

	penalties, err := s.registry.PenaltiesFor(ctx, eventType)
	if err != nil {
		errs = append(errs, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load badge penalties"))
		penalties = nil
	}
	for _, penalty := range penalties {
		// A progress advanced by this event is not regressed by the same event.
		if _, ok := touched[penalty.TemplateID]; ok {
			s.logger.DebugContext(ctx, "badge penalty skipped: progress advanced by this event",
				"username", user.Username,
				"template_id", penalty.TemplateID,
			)
			continue
		}
		t, progressed, err := s.penalize(ctx, user, penalty, payload)
		if err != nil {
			s.logger.ErrorContext(ctx, "badge penalty pass failed",
				"event_type", eventType,
				"username", user.Username,
				"template_id", penalty.TemplateID,
				"penalty_id", penalty.ID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		result.progressed = result.progressed || progressed
		if t != nil {
			result.transitions = append(result.transitions, *t)
		}
	}

	for _, t := range result.transitions {
		s.afterCommit(ctx, t)
	}

	s.metrics.IncrementEventsProcessed(eventType, outcomeOf(result, len(errs) > 0))
	if !result.progressed && len(result.transitions) == 0 && len(errs) == 0 {
		s.logger.DebugContext(ctx, "badge event matched no rules",
			"event_type", eventType,
			"username", user.Username,
		)
	}
	return errors.Join(errs...)
}

type templateRequirements struct {
	templateID   uuid.UUID
	requirements []models.BadgeRequirement
}

// groupByTemplate keeps first-seen template order.
func groupByTemplate(requirements []models.BadgeRequirement) []templateRequirements {
	index := make(map[uuid.UUID]int)
	var out []templateRequirements
	for _, r := range requirements {
		i, ok := index[r.TemplateID]
		if !ok {
			i = len(out)
			index[r.TemplateID] = i
			out = append(out, templateRequirements{templateID: r.TemplateID})
		}
		out[i].requirements = append(out[i].requirements, r)
	}
	return out
}

// award runs the fulfill, completeness check and credential issue for one
// template as a single unit under the (username, template) lock.
func (s *Service) award(ctx context.Context, user models.UserData, templateID uuid.UUID, requirements []models.BadgeRequirement, payload map[string]any) (*transition, bool, error) {
	var result *transition
	var progressed bool

	key := progressLockKey(user.Username, templateID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		progress, err := s.findProgress(ctx, user.Username, templateID)
		if err != nil {
			return err
		}
		if progress.IsComplete() {
			s.logger.DebugContext(ctx, "badge already complete", "username", user.Username, "template_id", templateID)
			return nil
		}

		fulfilled := map[uuid.UUID]struct{}{}
		if progress != nil {
			if fulfilled, err = s.fulfilledSet(ctx, progress.ID); err != nil {
				return err
			}
		}

		var matched []models.BadgeRequirement
		for _, r := range requirements {
			if _, done := fulfilled[r.ID]; done {
				continue
			}
			if rules.Matches(r.Rules, payload) {
				matched = append(matched, r)
			}
		}
		if len(matched) == 0 {
			return nil
		}

		now := s.now().UTC()
		if progress == nil {
			progress = &models.BadgeProgress{
				ID:         uuid.New(),
				Username:   user.Username,
				TemplateID: &templateID,
				State:      models.ProgressNew,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := s.store.CreateProgress(ctx, progress); err != nil {
				return wrapStoreErr(err, "failed to create badge progress")
			}
		}

		for _, r := range matched {
			created, err := s.store.AddFulfillment(ctx, &models.Fulfillment{
				ID:            uuid.New(),
				ProgressID:    progress.ID,
				RequirementID: r.ID,
				CreatedAt:     now,
			})
			if err != nil {
				return wrapStoreErr(err, "failed to record fulfillment")
			}
			if created {
				fulfilled[r.ID] = struct{}{}
				progressed = true
			}
		}
		if !progressed {
			return nil
		}

		all, err := s.store.RequirementsByTemplate(ctx, templateID)
		if err != nil {
			return wrapStoreErr(err, "failed to load template requirements")
		}
		progress.UpdatedAt = now
		if !s.policy.Complete(all, fulfilled) {
			progress.State = models.ProgressInProgress
			return wrapStoreErr(s.store.SaveProgress(ctx, progress), "failed to save badge progress")
		}

		template, err := s.store.FindTemplate(ctx, templateID)
		if err != nil {
			return wrapStoreErr(err, "failed to load badge template")
		}
		change, err := s.credentials.Apply(ctx, user.Username, badgeReference(templateID), credmodels.StatusAwarded, credmodels.Descriptor{
			Title:       template.Name,
			Description: template.Description,
		})
		if err != nil {
			return err
		}
		progress.State = models.ProgressComplete
		progress.CredentialID = &change.Credential.ID
		if err := s.store.SaveProgress(ctx, progress); err != nil {
			return wrapStoreErr(err, "failed to save badge progress")
		}
		result = &transition{change: change, template: *template, user: user}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, progressed, nil
}

// penalize resets the penalty's requirements and revokes the credential when
// the template was complete.
func (s *Service) penalize(ctx context.Context, user models.UserData, penalty models.BadgePenalty, payload map[string]any) (*transition, bool, error) {
	if !rules.Matches(penalty.Rules, payload) {
		return nil, false, nil
	}

	var result *transition
	var regressed bool

	key := progressLockKey(user.Username, penalty.TemplateID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		progress, err := s.findProgress(ctx, user.Username, penalty.TemplateID)
		if err != nil || progress == nil {
			return err
		}

		removed, err := s.store.DeleteFulfillments(ctx, progress.ID, penalty.RequirementIDs)
		if err != nil {
			return wrapStoreErr(err, "failed to reset fulfillments")
		}
		wasComplete := progress.IsComplete()
		if removed == 0 && !wasComplete {
			s.logger.DebugContext(ctx, "badge penalty has nothing to reset",
				"username", user.Username,
				"template_id", penalty.TemplateID,
			)
			return nil
		}
		regressed = true
		progress.UpdatedAt = s.now().UTC()

		if !wasComplete {
			progress.State = models.ProgressInProgress
			return wrapStoreErr(s.store.SaveProgress(ctx, progress), "failed to save badge progress")
		}

		template, err := s.store.FindTemplate(ctx, penalty.TemplateID)
		if err != nil {
			return wrapStoreErr(err, "failed to load badge template")
		}
		change, err := s.credentials.Apply(ctx, user.Username, badgeReference(penalty.TemplateID), credmodels.StatusRevoked, credmodels.Descriptor{})
		if err != nil {
			return err
		}
		progress.State = models.ProgressRegressed
		if err := s.store.SaveProgress(ctx, progress); err != nil {
			return wrapStoreErr(err, "failed to save badge progress")
		}
		result = &transition{change: change, template: *template, user: user}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, regressed, nil
}

// afterCommit runs status hooks and notifications. Failures are logged only:
// the state change is committed and a redelivered event would be skipped.
func (s *Service) afterCommit(ctx context.Context, t transition) {
	if err := s.credentials.Publish(ctx, t.change); err != nil {
		s.logger.ErrorContext(ctx, "credential status hooks failed",
			"credential_id", t.change.Credential.ID,
			"template_id", t.template.ID,
			"error", err,
		)
	}

	origin := string(t.template.Origin)
	if t.revoked() {
		s.metrics.IncrementBadgesRevoked(origin)
	} else {
		s.metrics.IncrementBadgesAwarded(origin)
	}
	s.logger.InfoContext(ctx, "badge status changed",
		"username", t.user.Username,
		"template_id", t.template.ID,
		"credential_id", t.change.Credential.ID,
		"status", t.change.Credential.Status,
	)

	if s.notifier == nil {
		return
	}
	n := models.BadgeNotification{CredentialID: t.change.Credential.ID, User: t.user, Template: t.template}
	var err error
	if t.revoked() {
		err = s.notifier.BadgeRevoked(ctx, n)
	} else {
		err = s.notifier.BadgeAwarded(ctx, n)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "badge notification failed",
			"credential_id", t.change.Credential.ID,
			"error", err,
		)
	}
}

func (s *Service) findProgress(ctx context.Context, username string, templateID uuid.UUID) (*models.BadgeProgress, error) {
	progress, err := s.store.FindProgress(ctx, username, templateID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load badge progress")
	}
	return progress, nil
}

func (s *Service) fulfilledSet(ctx context.Context, progressID uuid.UUID) (map[uuid.UUID]struct{}, error) {
	ids, err := s.store.Fulfillments(ctx, progressID)
	if err != nil {
		return nil, wrapStoreErr(err, "failed to load fulfillments")
	}
	out := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func outcomeOf(r processResult, failed bool) string {
	for _, t := range r.transitions {
		if !t.revoked() {
			return metrics.OutcomeAwarded
		}
	}
	switch {
	case len(r.transitions) > 0:
		return metrics.OutcomeRevoked
	case failed:
		return metrics.OutcomeFailed
	case r.progressed:
		return metrics.OutcomeProgress
	default:
		return metrics.OutcomeDropped
	}
}

func badgeReference(templateID uuid.UUID) credmodels.Reference {
	return credmodels.Reference{Kind: credmodels.KindBadge, ID: templateID.String()}
}

func progressLockKey(username string, templateID uuid.UUID) string {
	return fmt.Sprintf("%s/%s", username, templateID)
}

func wrapStoreErr(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
}
