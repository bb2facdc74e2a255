// Package consumer turns learning-event records into badge processing calls.
package consumer

import (
	"context"
	"log/slog"

	"credentials/internal/badges/rules"
	"credentials/internal/events"
	"credentials/internal/platform/kafka/consumer"
	dErrors "credentials/pkg/domain-errors"
)

// HeaderEventType carries the event type on records produced by the event bus.
const HeaderEventType = "ce_type"

// envelopeEventType is the payload field read when the header is absent.
const envelopeEventType = "event_type"

// LearningEvent is one decoded inbound event.
type LearningEvent struct {
	Type    string
	Payload map[string]any
}

// Processor evaluates one learning event.
type Processor interface {
	Process(ctx context.Context, eventType string, payload map[string]any) error
}

// Handler decodes records and dispatches them by event type.
type Handler struct {
	dispatcher *events.Dispatcher[LearningEvent]
	logger     *slog.Logger
}

// NewHandler registers processor for every event type in eventTypes.
func NewHandler(processor Processor, eventTypes []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d := events.NewDispatcher[LearningEvent]()
	for _, et := range eventTypes {
		d.Register(et, func(ctx context.Context, e LearningEvent) error {
			return processor.Process(ctx, e.Type, e.Payload)
		})
	}
	return &Handler{dispatcher: d, logger: logger}
}

// Handle implements consumer.Handler. Undecodable records and event types
// without handlers are dropped. Retryable processing failures are returned
// so the record is redelivered; any other failure is logged and dropped.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	payload, err := rules.NormalizeJSON(msg.Value)
	if err != nil {
		h.logger.WarnContext(ctx, "dropping undecodable learning event",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}

	eventType := msg.Headers[HeaderEventType]
	if eventType == "" {
		eventType, _ = payload[envelopeEventType].(string)
	}
	if eventType == "" || !h.dispatcher.Has(eventType) {
		h.logger.DebugContext(ctx, "ignoring learning event", "event_type", eventType, "topic", msg.Topic)
		return nil
	}

	err = h.dispatcher.Dispatch(ctx, eventType, LearningEvent{Type: eventType, Payload: payload})
	if err == nil || dErrors.IsRetryable(err) {
		return err
	}
	h.logger.ErrorContext(ctx, "dropping learning event after processing failure",
		"event_type", eventType,
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"error", err,
	)
	return nil
}

var _ consumer.Handler = (*Handler)(nil)
