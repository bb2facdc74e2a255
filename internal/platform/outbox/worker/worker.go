package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"credentials/internal/platform/kafka/producer"
	"credentials/internal/platform/outbox"
)

// Worker polls the outbox and publishes pending entries to Kafka.
type Worker struct {
	store        outbox.Store
	producer     producer.Publisher
	batchSize    int
	pollInterval time.Duration
	retention    time.Duration
	metrics      *Metrics
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Worker.
type Option func(*Worker)

// WithBatchSize sets the maximum number of entries to fetch per poll.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		w.batchSize = size
	}
}

// WithPollInterval sets the interval between polls.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		w.pollInterval = interval
	}
}

// WithRetention sets how long published entries are kept before cleanup.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		w.retention = d
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// New creates a new outbox worker.
func New(store outbox.Store, prod producer.Publisher, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		store:        store,
		producer:     prod,
		batchSize:    100,
		pollInterval: 500 * time.Millisecond,
		retention:    24 * time.Hour,
		logger:       slog.New(slog.DiscardHandler),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.Poll(w.ctx)
		case <-cleanup.C:
			w.cleanup(w.ctx)
		}
	}
}

// Poll publishes one batch of pending entries, oldest first, and returns how
// many were published. Entries share a key per credential; once an entry
// fails, later entries with the same key wait for the next poll so a revoke
// never overtakes its award.
func (w *Worker) Poll(ctx context.Context) int {
	start := time.Now()
	defer w.updatePendingDepth(ctx)

	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to fetch outbox entries", "error", err)
		w.metrics.incPublishFailures()
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	w.metrics.observeBatchSize(len(entries))

	blocked := make(map[string]struct{})
	published := 0
	for _, entry := range entries {
		key := string(entry.Key)
		if _, ok := blocked[key]; ok {
			continue
		}
		if err := w.publishEntry(ctx, entry); err != nil {
			w.logger.Error("failed to publish outbox entry",
				"id", entry.ID,
				"event_type", entry.EventType,
				"error", err,
			)
			w.metrics.incPublishFailures()
			blocked[key] = struct{}{}
			continue
		}

		if err := w.store.MarkProcessed(ctx, entry.ID, time.Now()); err != nil {
			// published but not marked: it will be published again
			w.logger.Error("failed to mark entry as processed", "id", entry.ID, "error", err)
			blocked[key] = struct{}{}
			continue
		}
		published++
		w.metrics.incPublished()
	}

	w.metrics.observePollDuration(time.Since(start).Seconds())
	return published
}

func (w *Worker) publishEntry(ctx context.Context, entry *outbox.Entry) error {
	start := time.Now()
	if err := w.producer.Produce(ctx, entry.Message()); err != nil {
		return err
	}
	w.metrics.observePublishDuration(time.Since(start).Seconds())
	return nil
}

func (w *Worker) cleanup(ctx context.Context) {
	n, err := w.store.DeleteProcessedBefore(ctx, time.Now().Add(-w.retention))
	if err != nil {
		w.logger.Error("failed to clean up outbox", "error", err)
		return
	}
	if n > 0 {
		w.logger.Debug("outbox cleaned up", "deleted", n)
	}
}

// drain publishes what is left during shutdown.
func (w *Worker) drain() {
	w.logger.Info("draining outbox worker")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for ctx.Err() == nil {
		if w.Poll(ctx) == 0 {
			return
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) updatePendingDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	count, err := w.store.CountPending(ctx)
	if err != nil {
		w.logger.Warn("failed to count pending outbox entries", "error", err)
		return
	}
	w.metrics.setPendingDepth(count)
}
