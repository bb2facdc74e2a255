// Package outbox relays event-bus messages through a durable table so that a
// broker outage does not lose notifications.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"credentials/internal/platform/kafka/producer"
)

// Entry is one message waiting to be published.
type Entry struct {
	ID          uuid.UUID
	Topic       string
	Key         []byte
	EventType   string
	Headers     map[string]string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time // nil while pending
}

// IsPending returns true if this entry has not been published yet.
func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// Message converts the entry back into a producer message.
func (e *Entry) Message() *producer.Message {
	return &producer.Message{
		Topic:   e.Topic,
		Key:     e.Key,
		Value:   e.Payload,
		Headers: e.Headers,
	}
}

// NewEntry captures msg as a pending entry.
func NewEntry(msg *producer.Message, now time.Time) *Entry {
	return &Entry{
		ID:        uuid.New(),
		Topic:     msg.Topic,
		Key:       msg.Key,
		EventType: msg.Headers["ce_type"],
		Headers:   msg.Headers,
		Payload:   msg.Value,
		CreatedAt: now,
	}
}

// Store defines the outbox persistence operations.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds a new entry. Called inside the caller's transaction when one is in ctx.
	Append(ctx context.Context, entry *Entry) error

	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)

	// MarkProcessed marks an entry as published.
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	// CountPending returns the number of unpublished entries.
	CountPending(ctx context.Context) (int64, error)

	// DeleteProcessedBefore removes published entries older than before.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Publisher satisfies producer.Publisher by appending to the outbox.
type Publisher struct {
	store Store
	now   func() time.Time
}

// NewPublisher wraps store.
func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store, now: time.Now}
}

func (p *Publisher) Produce(ctx context.Context, msg *producer.Message) error {
	return p.store.Append(ctx, NewEntry(msg, p.now().UTC()))
}

var _ producer.Publisher = (*Publisher)(nil)
