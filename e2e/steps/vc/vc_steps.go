package vc

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/cucumber/godog"

	credmodels "credentials/internal/credentials/models"
	"credentials/internal/verifiable/statuslist"
)

const basePath = "/verifiable_credentials/api/v1"

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string) error
	GetResponseField(field string) (interface{}, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Credentials(ctx context.Context, username string) ([]*credmodels.UserCredential, error)
	RegenerateStatusList(ctx context.Context, issuerID string) error
	DefaultIssuerID() string
}

// RegisterSteps registers issuance step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &vcSteps{tc: tc, savedFields: make(map[string]string)}

	ctx.Step(`^I initiate issuance of the badge of "([^"]*)" into "([^"]*)"$`, steps.initBadge)
	ctx.Step(`^I initiate issuance into "([^"]*)" for an unknown credential$`, steps.initUnknownCredential)
	ctx.Step(`^I save the issuance line$`, steps.saveLine)
	ctx.Step(`^I submit the issuance request:$`, steps.submitRequest)
	ctx.Step(`^I issue the credential$`, steps.issue)
	ctx.Step(`^the issued credential should have a "([^"]*)" proof$`, steps.shouldHaveProof)
	ctx.Step(`^the issued credential should be of type "([^"]*)"$`, steps.shouldHaveType)
	ctx.Step(`^the issued credential should reference the status list of the default issuer$`, steps.shouldReferenceStatusList)
	ctx.Step(`^I fetch the status list of the default issuer$`, steps.fetchStatusList)
	ctx.Step(`^the status list should mark the saved issuance line as revoked$`, steps.savedLineRevoked)
	ctx.Step(`^the status list should mark no credential as revoked$`, steps.noneRevoked)
	ctx.Step(`^the status list of the default issuer is regenerated$`, steps.regenerate)
}

type vcSteps struct {
	tc          TestContext
	savedFields map[string]string
	lastIssued  map[string]interface{}
}

func (s *vcSteps) initBadge(ctx context.Context, username, storageID string) error {
	creds, err := s.tc.Credentials(ctx, username)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(creds, func(c *credmodels.UserCredential) bool { return c.Kind == credmodels.KindBadge })
	if idx < 0 {
		return fmt.Errorf("%s has no badge credential", username)
	}
	return s.tc.POST(basePath+"/credentials/init/", map[string]interface{}{
		"storage_id":    storageID,
		"credential_id": creds[idx].ID.String(),
	})
}

func (s *vcSteps) initUnknownCredential(ctx context.Context, storageID string) error {
	return s.tc.POST(basePath+"/credentials/init/", map[string]interface{}{
		"storage_id":    storageID,
		"credential_id": "0b7d2c52-1f4e-4a7a-9c1e-6f6d5f1d0aff",
	})
}

func (s *vcSteps) saveLine(ctx context.Context) error {
	id, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.savedFields["line_id"] = fmt.Sprint(id)
	if index, err := s.tc.GetResponseField("status_index"); err == nil {
		s.savedFields["status_index"] = fmt.Sprint(index)
	}
	return nil
}

func (s *vcSteps) lineID() (string, error) {
	id, ok := s.savedFields["line_id"]
	if !ok {
		return "", fmt.Errorf("no issuance line saved")
	}
	return id, nil
}

func (s *vcSteps) submitRequest(ctx context.Context, body *godog.DocString) error {
	id, err := s.lineID()
	if err != nil {
		return err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(body.Content), &payload); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return s.tc.POST(basePath+"/credentials/"+id+"/request/", payload)
}

func (s *vcSteps) issue(ctx context.Context) error {
	id, err := s.lineID()
	if err != nil {
		return err
	}
	if err := s.tc.POST(basePath+"/credentials/"+id+"/issue/", nil); err != nil {
		return err
	}
	s.lastIssued = nil
	if s.tc.GetLastResponseStatus() == 200 {
		return json.Unmarshal(s.tc.GetLastResponseBody(), &s.lastIssued)
	}
	return nil
}

func (s *vcSteps) issued() (map[string]interface{}, error) {
	if s.lastIssued == nil {
		return nil, fmt.Errorf("no credential issued; last response: %s", s.tc.GetLastResponseBody())
	}
	return s.lastIssued, nil
}

func (s *vcSteps) shouldHaveProof(ctx context.Context, proofType string) error {
	doc, err := s.issued()
	if err != nil {
		return err
	}
	proof, ok := doc["proof"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("credential has no proof")
	}
	if proof["type"] != proofType {
		return fmt.Errorf("expected %s proof, got %v", proofType, proof["type"])
	}
	return nil
}

func (s *vcSteps) shouldHaveType(ctx context.Context, typ string) error {
	doc, err := s.issued()
	if err != nil {
		return err
	}
	types, _ := doc["type"].([]interface{})
	for _, t := range types {
		if t == typ {
			return nil
		}
	}
	return fmt.Errorf("credential types %v do not include %s", types, typ)
}

func (s *vcSteps) shouldReferenceStatusList(ctx context.Context) error {
	doc, err := s.issued()
	if err != nil {
		return err
	}
	status, ok := doc["credentialStatus"].(map[string]interface{})
	if !ok {
		return fmt.Errorf("credential has no credentialStatus")
	}
	if fmt.Sprint(status["statusListIndex"]) != s.savedFields["status_index"] {
		return fmt.Errorf("expected status index %s, got %v", s.savedFields["status_index"], status["statusListIndex"])
	}
	return nil
}

func (s *vcSteps) fetchStatusList(ctx context.Context) error {
	return s.tc.GET(basePath + "/status-list/2021/v1/" + statuslist.Slug(s.tc.DefaultIssuerID()) + "/")
}

func (s *vcSteps) regenerate(ctx context.Context) error {
	return s.tc.RegenerateStatusList(ctx, s.tc.DefaultIssuerID())
}

func (s *vcSteps) revokedIndexes() ([]int, error) {
	if s.tc.GetLastResponseStatus() != 200 {
		return nil, fmt.Errorf("status list not available: %d", s.tc.GetLastResponseStatus())
	}
	subject, err := s.tc.GetResponseField("credentialSubject")
	if err != nil {
		return nil, err
	}
	encoded, _ := subject.(map[string]interface{})["encodedList"].(string)
	bits, err := statuslist.Decode(encoded)
	if err != nil {
		return nil, err
	}
	return bits.SetIndexes(), nil
}

func (s *vcSteps) savedLineRevoked(ctx context.Context) error {
	revoked, err := s.revokedIndexes()
	if err != nil {
		return err
	}
	want := s.savedFields["status_index"]
	if len(revoked) != 1 || fmt.Sprint(revoked[0]) != want {
		return fmt.Errorf("expected only index %s revoked, got %v", want, revoked)
	}
	return nil
}

func (s *vcSteps) noneRevoked(ctx context.Context) error {
	revoked, err := s.revokedIndexes()
	if err != nil {
		return err
	}
	if len(revoked) != 0 {
		return fmt.Errorf("expected no revoked indexes, got %v", revoked)
	}
	return nil
}
