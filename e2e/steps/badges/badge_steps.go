package badges

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cucumber/godog"

	credmodels "credentials/internal/credentials/models"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Seed(ctx context.Context, doc string) error
	Deliver(ctx context.Context, eventType string, payload []byte) error
	Credentials(ctx context.Context, username string) ([]*credmodels.UserCredential, error)
}

// RegisterSteps registers badge processing step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &badgeSteps{tc: tc}

	ctx.Step(`^the badge templates:$`, steps.seedTemplates)
	ctx.Step(`^a "([^"]*)" event for "([^"]*)" with payload:$`, steps.deliverEvent)
	ctx.Step(`^"([^"]*)" (passes|fails) the demo course$`, steps.courseOutcome)
	ctx.Step(`^"([^"]*)" should have (\d+) badge credentials?$`, steps.shouldHaveBadges)
	ctx.Step(`^the badge credential of "([^"]*)" should be "([^"]*)"$`, steps.badgeShouldBe)
}

const passingEvent = "org.openedx.learning.course.passing.status.updated.v1"

type badgeSteps struct {
	tc TestContext
}

func (s *badgeSteps) seedTemplates(ctx context.Context, doc *godog.DocString) error {
	return s.tc.Seed(ctx, doc.Content)
}

func (s *badgeSteps) deliverEvent(ctx context.Context, eventType, username string, doc *godog.DocString) error {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(doc.Content), &payload); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	payload["user"] = learner(username)
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.tc.Deliver(ctx, eventType, data)
}

func (s *badgeSteps) courseOutcome(ctx context.Context, username, outcome string) error {
	data, err := json.Marshal(map[string]interface{}{
		"user":       learner(username),
		"course":     map[string]interface{}{"course_key": "course-v1:edX+DemoX+Demo_Course"},
		"is_passing": outcome == "passes",
	})
	if err != nil {
		return err
	}
	return s.tc.Deliver(ctx, passingEvent, data)
}

func (s *badgeSteps) shouldHaveBadges(ctx context.Context, username string, count int) error {
	badges, err := s.badges(ctx, username)
	if err != nil {
		return err
	}
	if len(badges) != count {
		return fmt.Errorf("expected %d badge credentials for %s, got %d", count, username, len(badges))
	}
	return nil
}

func (s *badgeSteps) badgeShouldBe(ctx context.Context, username, status string) error {
	badges, err := s.badges(ctx, username)
	if err != nil {
		return err
	}
	if len(badges) != 1 {
		return fmt.Errorf("expected one badge credential for %s, got %d", username, len(badges))
	}
	if string(badges[0].Status) != status {
		return fmt.Errorf("badge of %s: expected %s but got %s", username, status, badges[0].Status)
	}
	return nil
}

func (s *badgeSteps) badges(ctx context.Context, username string) ([]*credmodels.UserCredential, error) {
	all, err := s.tc.Credentials(ctx, username)
	if err != nil {
		return nil, err
	}
	var out []*credmodels.UserCredential
	for _, c := range all {
		if c.Kind == credmodels.KindBadge {
			out = append(out, c)
		}
	}
	return out, nil
}

func learner(username string) map[string]interface{} {
	return map[string]interface{}{
		"id":        17,
		"is_active": true,
		"pii": map[string]interface{}{
			"username": username,
			"email":    username + "@example.org",
			"name":     "Learner",
		},
	}
}
