// Package statuslist maintains the StatusList2021 revocation bitmap of every issuer.
package statuslist

import (
	"context"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	credmodels "credentials/internal/credentials/models"
	"credentials/internal/platform/metrics"
	"credentials/internal/verifiable/models"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/sync"
	"credentials/pkg/platform/tracer"
)

// Store is the issuance-line view the manager reads and updates.
type Store interface {
	// UpdateStatusForCredential mirrors status onto every line of the credential
	// and returns the distinct issuers of lines holding a status index.
	UpdateStatusForCredential(ctx context.Context, credentialID uuid.UUID, status credmodels.Status) ([]string, error)
	// RevokedStatusIndexes returns the status indexes of processed, revoked lines.
	RevokedStatusIndexes(ctx context.Context, issuerID string) ([]int, error)
}

// Issuer composes and signs the status-list credential of one issuer.
type Issuer interface {
	IssueStatusList(ctx context.Context, issuerID, encodedList string) (models.Document, error)
}

// Locker serializes regeneration per issuer.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// LocalLocker serializes within one process.
type LocalLocker struct {
	mu *sync.ShardedMutex
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{mu: sync.NewShardedMutex()}
}

// WithLock runs fn while holding key.
func (l *LocalLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.mu.WithLock(key, func() error { return fn(ctx) })
}

// Manager regenerates and republishes status lists.
type Manager struct {
	store     Store
	issuer    Issuer
	publisher Publisher
	locker    Locker
	length    int
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    tracer.Tracer
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

// WithLocker replaces the in-process locker, e.g. with a Redis-backed one.
func WithLocker(l Locker) Option {
	return func(m *Manager) {
		if l != nil {
			m.locker = l
		}
	}
}

// NewManager creates a manager producing lists of length bits.
func NewManager(store Store, issuer Issuer, publisher Publisher, length int, opts ...Option) (*Manager, error) {
	if length <= 0 || length%8 != 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "status list length must be a positive multiple of 8")
	}
	m := &Manager{
		store:     store,
		issuer:    issuer,
		publisher: publisher,
		locker:    NewLocalLocker(),
		length:    length,
		logger:    slog.New(slog.DiscardHandler),
		tracer:    tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Regenerate rebuilds, signs and publishes the issuer's status list.
// Regenerations for one issuer never interleave.
func (m *Manager) Regenerate(ctx context.Context, issuerID string) (err error) {
	ctx, span := m.tracer.Start(ctx, tracer.SpanStatusListGenerate, tracer.String(tracer.AttrIssuerID, issuerID))
	defer func() {
		span.End(err)
		outcome := metrics.OutcomeSucceeded
		if err != nil {
			outcome = metrics.OutcomeFailed
		}
		m.metrics.IncrementStatusListRegenerations(outcome)
	}()

	return m.locker.WithLock(ctx, "status-list:"+issuerID, func(ctx context.Context) error {
		bits, err := m.Build(ctx, issuerID)
		if err != nil {
			return err
		}
		span.SetAttributes(tracer.Int64(tracer.AttrRevoked, int64(len(bits.SetIndexes()))))
		encoded, err := bits.Encode()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode status list")
		}
		doc, err := m.issuer.IssueStatusList(ctx, issuerID, encoded)
		if err != nil {
			return err
		}
		if err := m.publisher.Publish(ctx, issuerID, doc); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to publish status list")
		}
		m.logger.InfoContext(ctx, "status list regenerated", "issuer_id", issuerID)
		return nil
	})
}

// Build returns the bitmap of the issuer's revoked status indexes.
func (m *Manager) Build(ctx context.Context, issuerID string) (*Bitstring, error) {
	indexes, err := m.store.RevokedStatusIndexes(ctx, issuerID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to load revoked status indexes")
	}
	bits, err := NewBitstring(m.length)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid status list length")
	}
	for _, idx := range indexes {
		if err := bits.Set(idx); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "status index outside the status list")
		}
	}
	return bits, nil
}

// HandleStatusChange mirrors a committed credential status onto its issuance
// lines and regenerates each affected issuer's list once.
func (m *Manager) HandleStatusChange(ctx context.Context, change credmodels.StatusChange) error {
	if change.Created || !change.Changed() {
		return nil
	}
	issuers, err := m.store.UpdateStatusForCredential(ctx, change.Credential.ID, change.Credential.Status)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to mirror credential status")
	}
	slices.Sort(issuers)
	issuers = slices.Compact(issuers)

	g, gctx := errgroup.WithContext(ctx)
	for _, issuerID := range issuers {
		g.Go(func() error {
			return m.Regenerate(gctx, issuerID)
		})
	}
	return g.Wait()
}
