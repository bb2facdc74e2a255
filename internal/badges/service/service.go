package service

import (
	"log/slog"
	"time"

	"credentials/internal/platform/metrics"
	dErrors "credentials/pkg/domain-errors"
	"credentials/pkg/platform/sync"
	"credentials/pkg/platform/tracer"
	txcontext "credentials/pkg/platform/tx"
)

// Service evaluates learning events against badge rules and manages the
// badge configuration those rules live in.
type Service struct {
	store       Store
	registry    *Registry
	credentials CredentialIssuer
	notifier    Notifier
	tx          txcontext.Runner
	locks       *sync.ShardedMutex
	policy      CompletionPolicy
	eventTypes  map[string]struct{}
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      tracer.Tracer
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithNotifier sets the award/revoke notification sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithTx sets the transactional boundary for progress mutations.
func WithTx(tx txcontext.Runner) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

// WithCompletionPolicy overrides AllRequirements.
func WithCompletionPolicy(p CompletionPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New builds the badge service. eventTypes is the allowlist of event types
// requirements may reference; an empty allowlist is a configuration error.
func New(store Store, credentials CredentialIssuer, eventTypes []string, opts ...Option) (*Service, error) {
	if len(eventTypes) == 0 {
		return nil, dErrors.New(dErrors.CodeConfiguration, "badge event type allowlist is empty")
	}
	allowed := make(map[string]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		allowed[et] = struct{}{}
	}

	s := &Service{
		store:       store,
		registry:    NewRegistry(store),
		credentials: credentials,
		tx:          txcontext.Direct{},
		locks:       sync.NewShardedMutex(),
		policy:      AllRequirements,
		eventTypes:  allowed,
		logger:      slog.New(slog.DiscardHandler),
		tracer:      tracer.NewNoop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry exposes the requirement/penalty lookups.
func (s *Service) Registry() *Registry {
	return s.registry
}
