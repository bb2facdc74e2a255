// Package app assembles the credentials service from its configuration.
// The server, the CLI and the feature tests share this wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	badgeconsumer "credentials/internal/badges/consumer"
	"credentials/internal/badges/credly"
	"credentials/internal/badges/notify"
	badgeservice "credentials/internal/badges/service"
	badgestore "credentials/internal/badges/store"
	credmodels "credentials/internal/credentials/models"
	credservice "credentials/internal/credentials/service"
	credstore "credentials/internal/credentials/store"
	"credentials/internal/events"
	"credentials/internal/platform/config"
	"credentials/internal/platform/database"
	"credentials/internal/platform/health"
	"credentials/internal/platform/kafka/consumer"
	"credentials/internal/platform/kafka/producer"
	"credentials/internal/platform/metrics"
	"credentials/internal/platform/middleware"
	"credentials/internal/platform/outbox"
	outboxstore "credentials/internal/platform/outbox/store"
	"credentials/internal/platform/outbox/worker"
	"credentials/internal/platform/redis"
	"credentials/internal/seeder"
	vchandler "credentials/internal/verifiable/handler"
	"credentials/internal/verifiable/models"
	vcservice "credentials/internal/verifiable/service"
	"credentials/internal/verifiable/signer"
	"credentials/internal/verifiable/statuslist"
	"credentials/internal/verifiable/storages"
	vcstore "credentials/internal/verifiable/store"
	"credentials/migrations"
	"credentials/pkg/platform/tracer"
	txcontext "credentials/pkg/platform/tx"
)

// NotifierSource fills the ce_source header of badge notifications.
const NotifierSource = "credentials"

// App holds every long-lived component of the service.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	Health      *health.Handler
	Credentials *credservice.Service
	Badges      *badgeservice.Service
	Credly      *credly.Service
	Seeder      *seeder.Seeder
	Issuance    *vcservice.Service
	StatusLists *statuslist.Manager
	Publisher   *statuslist.FilePublisher

	db       *database.Pool
	redis    *redis.Client
	producer *producer.Producer
	consumer *consumer.Consumer
	outbox   *worker.Worker
}

// Option adjusts the assembly.
type Option func(*options)

type options struct {
	registry *prometheus.Registry
	signer   vcservice.Signer
}

// WithRegistry collects metrics into reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithSigner replaces the signer selected by configuration.
func WithSigner(s vcservice.Signer) Option {
	return func(o *options) { o.signer = s }
}

// stores bundles the persistence of every module.
type stores struct {
	credentials credservice.Store
	badges      badgeservice.Store
	orgs        credly.Organizations
	issuance    issuanceStore
	outbox      outbox.Store
}

// issuanceStore is satisfied by both issuance store implementations.
type issuanceStore interface {
	vcservice.Store
	statuslist.Store
}

// New validates cfg and connects every configured backing service. Empty
// connection settings select in-memory stores and a no-op event bus.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: o.registry,
		Metrics:  metrics.New(o.registry),
		Health:   health.New(cfg.Server.Environment),
	}
	if err := a.connect(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	if err := a.assemble(ctx, o); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	var err error
	if a.db, err = database.New(ctx, database.DefaultConfig(a.Config.Stores.DatabaseURL)); err != nil {
		return err
	}
	if a.db != nil {
		if err := database.Migrate(a.db.DB(), migrations.FS); err != nil {
			return err
		}
		a.Health.RegisterCheck("postgres", a.db.Health)
		if err := a.Registry.Register(a.db.Collector()); err != nil {
			return fmt.Errorf("register database metrics: %w", err)
		}
	}

	if a.redis, err = redis.New(ctx, redis.DefaultConfig(a.Config.Stores.RedisURL)); err != nil {
		return err
	}
	if a.redis != nil {
		a.Health.RegisterCheck("redis", a.redis.Health)
		if err := a.Registry.Register(a.redis.Collector()); err != nil {
			return fmt.Errorf("register redis metrics: %w", err)
		}
	}

	if a.Config.Kafka.Brokers != "" {
		if a.producer, err = producer.New(producer.DefaultConfig(a.Config.Kafka.Brokers), a.Logger); err != nil {
			return err
		}
		var opts []health.CheckOption
		if a.db != nil {
			// notifications wait in the outbox while the broker is away
			opts = append(opts, health.Optional())
		}
		a.Health.RegisterCheck("kafka", a.producer.Health, opts...)
	}
	return nil
}

func (a *App) newStores() stores {
	if a.db == nil {
		badges := badgestore.NewInMemoryStore()
		return stores{
			credentials: credstore.NewInMemoryStore(),
			badges:      badges,
			orgs:        badges,
			issuance:    vcstore.NewInMemoryStore(),
			outbox:      outboxstore.NewInMemoryStore(),
		}
	}
	db := a.db.DB()
	badges := badgestore.NewPostgres(db)
	return stores{
		credentials: credstore.NewPostgres(db),
		badges:      badges,
		orgs:        badges,
		issuance:    vcstore.NewPostgres(db),
		outbox:      outboxstore.NewPostgres(db),
	}
}

func (a *App) assemble(ctx context.Context, o *options) error {
	cfg := a.Config
	st := a.newStores()
	tr := tracer.NewOTel()

	hooks := events.NewDispatcher[credmodels.StatusChange]()
	a.Credentials = credservice.NewService(st.credentials, hooks, credservice.WithLogger(a.Logger))

	registry, err := storages.NewRegistry(cfg.Verifiable.DefaultStorages)
	if err != nil {
		return err
	}
	sg := o.signer
	if sg == nil {
		sg = a.newSigner()
	}
	a.Issuance, err = vcservice.NewService(st.issuance, a.Credentials, registry, sg, vcservice.Config{
		DefaultIssuer: models.IssuanceConfiguration{
			IssuerID:   cfg.Verifiable.DefaultIssuerID,
			IssuerKey:  cfg.Verifiable.DefaultIssuerKey,
			IssuerName: cfg.Verifiable.DefaultIssuerName,
		},
		ForcedDataModel:  cfg.Verifiable.ForcedDataModel,
		PublicBaseURL:    cfg.Verifiable.PublicBaseURL,
		StatusListLength: cfg.Verifiable.StatusListLength,
	},
		vcservice.WithLogger(a.Logger),
		vcservice.WithMetrics(a.Metrics),
		vcservice.WithTracer(tr),
		vcservice.WithRegenerate(func(ctx context.Context, issuerID string) error {
			return a.StatusLists.Regenerate(ctx, issuerID)
		}),
	)
	if err != nil {
		return err
	}
	if err := a.Issuance.EnsureDefaultIssuer(ctx); err != nil {
		return err
	}

	a.Publisher = statuslist.NewFilePublisher(cfg.Verifiable.StatusListDir)
	managerOpts := []statuslist.Option{
		statuslist.WithLogger(a.Logger),
		statuslist.WithMetrics(a.Metrics),
		statuslist.WithTracer(tr),
	}
	if a.redis != nil {
		managerOpts = append(managerOpts, statuslist.WithLocker(redis.NewLocker(a.redis.Client)))
	}
	a.StatusLists, err = statuslist.NewManager(st.issuance, a.Issuance, a.Publisher, cfg.Verifiable.StatusListLength, managerOpts...)
	if err != nil {
		return err
	}
	hooks.Register(credmodels.EventStatusRevoked, a.StatusLists.HandleStatusChange)
	hooks.Register(credmodels.EventStatusAwarded, a.StatusLists.HandleStatusChange)

	badgeOpts := []badgeservice.Option{
		badgeservice.WithLogger(a.Logger),
		badgeservice.WithMetrics(a.Metrics),
		badgeservice.WithTracer(tr),
		badgeservice.WithNotifier(a.newNotifier(st.outbox)),
	}
	if a.db != nil {
		badgeOpts = append(badgeOpts, badgeservice.WithTx(txcontext.NewSQL(a.db.DB(), txcontext.DefaultTimeout)))
	}
	a.Badges, err = badgeservice.New(st.badges, a.Credentials, cfg.Badges.EventTypes, badgeOpts...)
	if err != nil {
		return err
	}
	a.Seeder = seeder.New(a.Badges, a.Logger)
	a.Credly = credly.NewService(
		credly.NewClient(cfg.Credly.BaseURL, cfg.Credly.Timeout),
		st.orgs,
		a.Badges,
		credly.WithLogger(a.Logger),
		credly.WithMetrics(a.Metrics),
	)

	if cfg.Kafka.Brokers != "" && len(cfg.Kafka.LearningTopics) > 0 {
		a.consumer, err = consumer.New(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topics:  cfg.Kafka.LearningTopics,
		}, badgeconsumer.NewHandler(a.Badges, cfg.Badges.EventTypes, a.Logger), a.Logger)
		if err != nil {
			return err
		}
		a.Health.RegisterCheck("kafka-consumer", a.consumer.Health)
	}
	return nil
}

func (a *App) newSigner() vcservice.Signer {
	if a.Config.Verifiable.SignerURL == "" {
		return signer.NewLocal()
	}
	return signer.NewRemote(a.Config.Verifiable.SignerURL, a.Config.Verifiable.SignerTimeout,
		signer.WithMetrics(a.Metrics))
}

// newNotifier writes badge notifications through the outbox when a database
// holds it, otherwise straight to the producer.
func (a *App) newNotifier(store outbox.Store) *notify.KafkaNotifier {
	topics := notify.Topics{Awarded: a.Config.Kafka.AwardedTopic, Revoked: a.Config.Kafka.RevokedTopic}

	var relay producer.Publisher = producer.NewNoopProducer()
	if a.producer != nil {
		relay = a.producer
	}
	if a.db == nil {
		return notify.New(relay, topics, NotifierSource)
	}
	a.outbox = worker.New(store, relay,
		worker.WithLogger(a.Logger),
		worker.WithMetrics(worker.NewMetrics(a.Registry)),
	)
	return notify.New(outbox.NewPublisher(store), topics, NotifierSource)
}

// Router mounts every HTTP endpoint.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(a.Logger))
	r.Use(middleware.Logger(a.Logger, a.Metrics))
	r.Use(middleware.BodyLimit(MaxBodyBytes))
	r.Use(middleware.Timeout(RequestTimeout))

	a.Health.Register(r)
	vchandler.New(a.Issuance, a.Publisher, a.Logger).Register(r)
	credly.NewHandler(a.Credly, a.Logger).Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	return r
}

// Start launches the background workers: the learning-event consumer and the
// outbox relay.
func (a *App) Start() {
	if a.consumer != nil {
		a.consumer.Start()
	}
	if a.outbox != nil {
		a.outbox.Start()
	}
}

// Close stops the workers and releases connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.consumer != nil {
		errs = append(errs, a.consumer.Stop(ctx))
	}
	if a.outbox != nil {
		errs = append(errs, a.outbox.Stop(ctx))
	}
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

const (
	// RequestTimeout bounds a single HTTP request.
	RequestTimeout = 30 * time.Second
	// MaxBodyBytes bounds request bodies, webhooks included.
	MaxBodyBytes = 1 << 20
	// StopTimeout bounds graceful shutdown.
	StopTimeout = 10 * time.Second
)
