// Package tracer is the tracing seam of the credentials services. Services
// accept a Tracer; tests pass NewNoop and the server wires NewOTel.
package tracer

import (
	"context"

	dErrors "credentials/pkg/domain-errors"
)

// Span is one traced operation. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer starts spans and is safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute            { return Attribute{Key: key, Value: value} }
func Bool(key string, value bool) Attribute         { return Attribute{Key: key, Value: value} }
func Int64(key string, value int64) Attribute       { return Attribute{Key: key, Value: value} }
func Strings(key string, values []string) Attribute { return Attribute{Key: key, Value: values} }

const (
	SpanBadgeProcess       = "badges.process_event"
	SpanIssuanceInit       = "vc.issuance.init"
	SpanIssuanceCompose    = "vc.issuance.compose"
	SpanIssuanceSign       = "vc.issuance.sign"
	SpanStatusListGenerate = "vc.status_list.regenerate"
)

const (
	AttrEventType   = "event.type"
	AttrUserHash    = "user.hash"
	AttrIssuerID    = "vc.issuer_id"
	AttrStorageID   = "vc.storage_id"
	AttrDataModel   = "vc.data_model"
	AttrStatusIndex = "vc.status_index"
	AttrRevoked     = "vc.revoked_count"
	AttrErrorCode   = "error.code"
)

// Rejected reports whether err is a refusal of the caller's input or of the
// current issuance state rather than a failure of the service. Spans ending
// with a rejection are not marked as errors.
func Rejected(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound, dErrors.CodeBadRequest, dErrors.CodeInvalidInput,
		dErrors.CodeValidation, dErrors.CodeInvalidState, dErrors.CodeUnexpectedCredentialType:
		return true
	default:
		return false
	}
}
