// Package composition renders issuance lines into credential documents for
// each supported data model.
package composition

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	credmodels "credentials/internal/credentials/models"
	"credentials/internal/verifiable/models"
	dErrors "credentials/pkg/domain-errors"
)

// Base JSON-LD vocabulary shared by every data model.
const (
	ContextVC          = "https://www.w3.org/2018/credentials/v1"
	ContextOBv3        = "https://purl.imsglobal.org/spec/ob/v3p0/context-3.0.3.json"
	ContextStatusList  = "https://w3id.org/vc/status-list/2021/v1"
	ContextJWS2020     = "https://w3id.org/security/suites/jws-2020/v1"
	TypeVC             = "VerifiableCredential"
	TypeOpenBadge      = "OpenBadgeCredential"
	TypeStatusList     = "StatusList2021Credential"
	TypeStatusListBody = "StatusList2021"
	TypeStatusEntry    = "StatusList2021Entry"
	StatusPurpose      = "revocation"
)

// KnownContexts lists every JSON-LD context documents may reference.
var KnownContexts = []string{ContextVC, ContextOBv3, ContextStatusList, ContextJWS2020}

// Input is everything a data model needs to render one line.
type Input struct {
	Line models.IssuanceLine
	// Credential is nil for status-list documents.
	Credential    *credmodels.UserCredential
	Issuer        models.IssuanceConfiguration
	IssuedAt      time.Time
	StatusListURL string
	// EncodedList is the compressed bitmap, status-list documents only.
	EncodedList string
}

// DataModel renders documents of one vocabulary.
type DataModel interface {
	ID() string
	Compose(in Input) (models.Document, error)
}

// kindCapability describes how a credential kind shows up in documents.
type kindCapability struct {
	types []string
}

var kindCapabilities = map[credmodels.Kind]kindCapability{
	credmodels.KindProgram: {types: []string{"ProgramCertificate"}},
	credmodels.KindCourse:  {types: []string{}},
	credmodels.KindBadge:   {types: []string{}},
}

// KindTypes returns the document types contributed by a credential kind.
// Unknown kinds contribute none.
func KindTypes(kind credmodels.Kind) []string {
	return slices.Clone(kindCapabilities[kind].types)
}

// Registry resolves data models by identifier.
type Registry struct {
	models map[string]DataModel
}

// NewRegistry registers the given data models.
func NewRegistry(dataModels ...DataModel) *Registry {
	r := &Registry{models: make(map[string]DataModel, len(dataModels))}
	for _, m := range dataModels {
		r.models[m.ID()] = m
	}
	return r
}

// DefaultRegistry registers every built-in data model.
func DefaultRegistry() *Registry {
	return NewRegistry(VC11{}, OBv3{}, StatusList{})
}

// Get returns the data model registered under id.
func (r *Registry) Get(id string) (DataModel, error) {
	m, ok := r.models[id]
	if !ok {
		return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("unknown data model %q", id))
	}
	return m, nil
}

// Resolve picks the data model for a storage: a forced model wins over the
// storage's preferred one.
func Resolve(forced, preferred string) string {
	if forced != "" {
		return forced
	}
	return preferred
}

func credentialID(in Input) string {
	return "urn:uuid:" + in.Line.ID.String()
}

func issuedAt(in Input) string {
	return in.IssuedAt.UTC().Format(time.RFC3339)
}

// envelope renders the fields every credential shares.
func envelope(in Input, contexts, types []string) models.Document {
	doc := models.Document{
		"@context":     contexts,
		"id":           credentialID(in),
		"type":         types,
		"issuanceDate": issuedAt(in),
	}
	if in.Line.ExpirationDate != nil {
		doc["expirationDate"] = in.Line.ExpirationDate.UTC().Format(time.RFC3339)
	}
	if status := statusEntry(in); status != nil {
		doc["credentialStatus"] = status
	}
	return doc
}

func statusEntry(in Input) map[string]any {
	if in.Line.StatusIndex == nil || in.StatusListURL == "" {
		return nil
	}
	index := strconv.Itoa(*in.Line.StatusIndex)
	return map[string]any{
		"id":                   in.StatusListURL + "#" + index,
		"type":                 TypeStatusEntry,
		"statusPurpose":        StatusPurpose,
		"statusListIndex":      index,
		"statusListCredential": in.StatusListURL,
	}
}

func requireCredential(in Input, model string) (*credmodels.UserCredential, error) {
	if in.Credential == nil {
		return nil, dErrors.New(dErrors.CodeInvalidState, fmt.Sprintf("%s documents need a user credential", model))
	}
	return in.Credential, nil
}
