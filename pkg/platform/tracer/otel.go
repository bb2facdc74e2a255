package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dErrors "credentials/pkg/domain-errors"
)

// InstrumentationName names the tracer taken from the global provider.
const InstrumentationName = "credentials"

// OTelTracer adapts an OpenTelemetry tracer.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTel uses t, or the global provider's tracer when t is nil.
func NewOTel(t ...trace.Tracer) *OTelTracer {
	if len(t) > 0 && t[0] != nil {
		return &OTelTracer{tracer: t[0]}
	}
	return &OTelTracer{tracer: otel.Tracer(InstrumentationName)}
}

func (t *OTelTracer) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(convert(attrs)...),
	)
	return ctx, otelSpan{span}
}

type otelSpan struct {
	span trace.Span
}

// End tags the span with the domain error code. Rejections stay unset; any
// other error is recorded and marks the span as failed.
func (s otelSpan) End(err error) {
	if err != nil {
		s.span.SetAttributes(attribute.String(AttrErrorCode, string(dErrors.CodeOf(err))))
		if Rejected(err) {
			s.span.AddEvent("rejected", trace.WithAttributes(attribute.String("reason", err.Error())))
		} else {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		}
	}
	s.span.End()
}

func (s otelSpan) SetAttributes(attrs ...Attribute) {
	s.span.SetAttributes(convert(attrs)...)
}

func (s otelSpan) AddEvent(name string, attrs ...Attribute) {
	s.span.AddEvent(name, trace.WithAttributes(convert(attrs)...))
}

func convert(attrs []Attribute) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			out = append(out, attribute.String(a.Key, v))
		case bool:
			out = append(out, attribute.Bool(a.Key, v))
		case int64:
			out = append(out, attribute.Int64(a.Key, v))
		case int:
			out = append(out, attribute.Int(a.Key, v))
		case []string:
			out = append(out, attribute.StringSlice(a.Key, v))
		}
	}
	return out
}

var (
	_ Tracer = (*OTelTracer)(nil)
	_ Span   = otelSpan{}
)
