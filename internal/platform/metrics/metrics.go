package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event processing outcomes.
const (
	OutcomeAwarded   = "awarded"
	OutcomeRevoked   = "revoked"
	OutcomeProgress  = "progress"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
	OutcomeSucceeded = "succeeded"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsProcessed         *prometheus.CounterVec
	BadgesAwarded           *prometheus.CounterVec
	BadgesRevoked           *prometheus.CounterVec
	IssuanceAttempts        *prometheus.CounterVec
	SignLatency             prometheus.Histogram
	StatusListRegenerations *prometheus.CounterVec
	CredlyWebhooks          *prometheus.CounterVec
	EndpointLatency         *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_badge_events_processed_total",
			Help: "Learning events processed by the badge pipeline, labeled by event type and outcome",
		}, []string{"event_type", "outcome"}),
		BadgesAwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_badges_awarded_total",
			Help: "Badges awarded, labeled by template origin",
		}, []string{"origin"}),
		BadgesRevoked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_badges_revoked_total",
			Help: "Badges revoked by penalties, labeled by template origin",
		}, []string{"origin"}),
		IssuanceAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_vc_issuance_attempts_total",
			Help: "Verifiable credential compose and sign attempts, labeled by data model and outcome",
		}, []string{"data_model", "outcome"}),
		SignLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "credentials_vc_sign_latency_seconds",
			Help:    "Latency of signer calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		StatusListRegenerations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_vc_status_list_regenerations_total",
			Help: "Status list regenerations, labeled by outcome",
		}, []string{"outcome"}),
		CredlyWebhooks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credentials_credly_webhooks_total",
			Help: "Credly webhook deliveries, labeled by event type",
		}, []string{"event_type"}),
		EndpointLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credentials_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

// IncrementEventsProcessed counts one processed event.
func (m *Metrics) IncrementEventsProcessed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) IncrementBadgesAwarded(origin string) {
	if m == nil {
		return
	}
	m.BadgesAwarded.WithLabelValues(origin).Inc()
}

func (m *Metrics) IncrementBadgesRevoked(origin string) {
	if m == nil {
		return
	}
	m.BadgesRevoked.WithLabelValues(origin).Inc()
}

// IncrementIssuanceAttempts counts one compose and sign attempt.
func (m *Metrics) IncrementIssuanceAttempts(dataModel, outcome string) {
	if m == nil {
		return
	}
	m.IssuanceAttempts.WithLabelValues(dataModel, outcome).Inc()
}

// ObserveSignLatency records how long the signer took.
func (m *Metrics) ObserveSignLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.SignLatency.Observe(d.Seconds())
}

func (m *Metrics) IncrementStatusListRegenerations(outcome string) {
	if m == nil {
		return
	}
	m.StatusListRegenerations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementCredlyWebhooks(eventType string) {
	if m == nil {
		return
	}
	m.CredlyWebhooks.WithLabelValues(eventType).Inc()
}

// ObserveEndpointLatency records the latency for a given endpoint.
func (m *Metrics) ObserveEndpointLatency(endpoint string, d time.Duration) {
	if m == nil {
		return
	}
	m.EndpointLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}
