package producer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	dErrors "credentials/pkg/domain-errors"
	s "credentials/pkg/platform/strings"
)

// ErrClosed is returned when producing on a closed producer.
var ErrClosed = errors.New("producer is closed")

// Message is one record bound for the event bus.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher is implemented by Producer, NoopProducer and the outbox publisher.
type Publisher interface {
	Produce(ctx context.Context, msg *Message) error
}

// Producer writes records synchronously with idempotent, all-replica acks.
// Badge notifications are the only thing it carries and none may be lost.
type Producer struct {
	client       *kgo.Client
	logger       *slog.Logger
	flushTimeout time.Duration
	mu           sync.RWMutex
	closed       bool
}

type Config struct {
	Brokers         string
	ClientID        string
	Linger          time.Duration
	DeliveryTimeout time.Duration
	FlushTimeout    time.Duration
}

func DefaultConfig(brokers string) Config {
	return Config{
		Brokers:         brokers,
		ClientID:        "credentials",
		Linger:          5 * time.Millisecond,
		DeliveryTimeout: 30 * time.Second,
		FlushTimeout:    30 * time.Second,
	}
}

func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	brokers := s.SplitList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "kafka brokers not configured")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(cfg.Linger),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "create kafka producer")
	}
	flush := cfg.FlushTimeout
	if flush <= 0 {
		flush = 30 * time.Second
	}
	return &Producer{client: client, logger: logger, flushTimeout: flush}, nil
}

// Produce blocks until the broker acknowledges msg. Delivery failures carry
// CodeUnavailable so callers can retry them.
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	record := &kgo.Record{Topic: msg.Topic, Key: msg.Key, Value: msg.Value}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "produce to "+msg.Topic)
	}
	p.logger.DebugContext(ctx, "record produced", "topic", msg.Topic, "event_type", msg.Headers["ce_type"])
	return nil
}

// Close flushes buffered records and shuts the client down. Close is idempotent.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), p.flushTimeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka producer closed with unflushed records", "error", err)
	}
	p.client.Close()
	return nil
}

func (p *Producer) Health(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	return p.client.Ping(ctx)
}

// NoopProducer discards every message. Used when no brokers are configured.
type NoopProducer struct{}

func NewNoopProducer() *NoopProducer {
	return &NoopProducer{}
}

func (NoopProducer) Produce(context.Context, *Message) error {
	return nil
}

var (
	_ Publisher = (*Producer)(nil)
	_ Publisher = (*NoopProducer)(nil)
)
