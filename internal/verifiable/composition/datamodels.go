package composition

import (
	"fmt"

	credmodels "credentials/internal/credentials/models"
	"credentials/internal/verifiable/models"
	dErrors "credentials/pkg/domain-errors"
	s "credentials/pkg/platform/strings"
)

// VC11 renders W3C Verifiable Credentials 1.1 documents.
type VC11 struct{}

func (VC11) ID() string { return models.DataModelVC11 }

func (VC11) Compose(in Input) (models.Document, error) {
	cred, err := requireCredential(in, "vc")
	if err != nil {
		return nil, err
	}
	doc := envelope(in,
		s.MergeUnique([]string{ContextVC}, []string{ContextJWS2020}),
		s.MergeUnique([]string{TypeVC}, KindTypes(cred.Kind)),
	)
	doc["issuer"] = issuer(in)
	doc["credentialSubject"] = map[string]any{
		"id": in.Line.SubjectID,
		"hasCredential": map[string]any{
			"type":        s.MergeUnique([]string{"EducationalOccupationalCredential"}, KindTypes(cred.Kind)),
			"name":        cred.Title,
			"description": cred.Description,
		},
	}
	return doc, nil
}

// OBv3 renders Open Badges 3.0 documents. Only program credentials are supported.
type OBv3 struct{}

func (OBv3) ID() string { return models.DataModelOBv3 }

func (OBv3) Compose(in Input) (models.Document, error) {
	cred, err := requireCredential(in, "obv3")
	if err != nil {
		return nil, err
	}
	if cred.Kind != credmodels.KindProgram {
		return nil, dErrors.New(dErrors.CodeUnexpectedCredentialType,
			fmt.Sprintf("open badges documents cannot be composed for %q credentials", cred.Kind))
	}
	doc := envelope(in,
		s.MergeUnique([]string{ContextVC}, []string{ContextOBv3}, []string{ContextJWS2020}),
		s.MergeUnique([]string{TypeVC}, []string{TypeOpenBadge}, KindTypes(cred.Kind)),
	)
	doc["name"] = cred.Title
	doc["issuer"] = map[string]any{
		"id":   in.Issuer.IssuerID,
		"type": []string{"Profile"},
		"name": in.Issuer.IssuerName,
	}
	doc["credentialSubject"] = map[string]any{
		"id":   in.Line.SubjectID,
		"type": []string{"AchievementSubject"},
		"achievement": map[string]any{
			"id":          "urn:uuid:" + cred.ID.String(),
			"type":        []string{"Achievement"},
			"name":        cred.Title,
			"description": cred.Description,
			"criteria": map[string]any{
				"narrative": cred.Description,
			},
		},
	}
	return doc, nil
}

// StatusList renders StatusList2021 credentials.
type StatusList struct{}

func (StatusList) ID() string { return models.DataModelStatusList }

func (StatusList) Compose(in Input) (models.Document, error) {
	if in.StatusListURL == "" {
		return nil, dErrors.New(dErrors.CodeInvalidState, "status list url is required")
	}
	doc := envelope(in,
		s.MergeUnique([]string{ContextVC}, []string{ContextStatusList}, []string{ContextJWS2020}),
		s.MergeUnique([]string{TypeVC}, []string{TypeStatusList}),
	)
	doc["id"] = in.StatusListURL
	doc["issuer"] = issuer(in)
	doc["credentialSubject"] = map[string]any{
		"id":            in.StatusListURL + "#list",
		"type":          TypeStatusListBody,
		"statusPurpose": StatusPurpose,
		"encodedList":   in.EncodedList,
	}
	return doc, nil
}

func issuer(in Input) map[string]any {
	out := map[string]any{"id": in.Issuer.IssuerID}
	if in.Issuer.IssuerName != "" {
		out["name"] = in.Issuer.IssuerName
	}
	return out
}
