package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the exchange BFF.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	stageDuration   *prometheus.HistogramVec
	ledgerErrors    *prometheus.CounterVec
	driftDetected   *prometheus.CounterVec
	channelOutcomes *prometheus.CounterVec
	reconfirmCalls  prometheus.Counter
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gex_stage_duration_seconds",
				Help:    "Duration of wizard stage actions by action name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		ledgerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gex_ledger_errors_total",
				Help: "Total errors from the remote transaction ledger.",
			},
			[]string{"endpoint"},
		),
		driftDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gex_rate_drift_total",
				Help: "Total rate drifts detected, by flow (online or terminal).",
			},
			[]string{"flow"},
		),
		channelOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gex_channel_outcomes_total",
				Help: "Payment channel session outcomes.",
			},
			[]string{"outcome"},
		),
		reconfirmCalls: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gex_rate_reconfirm_calls_total",
				Help: "Total reconfirmar-tasa calls issued to the ledger.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gex_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gex_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordStageDuration records the duration of a wizard stage action.
func (m *Metrics) RecordStageDuration(action string, d time.Duration) {
	m.stageDuration.WithLabelValues(action).Observe(d.Seconds())
}

// IncrLedgerError increments the ledger error counter for an endpoint.
func (m *Metrics) IncrLedgerError(endpoint string) {
	m.ledgerErrors.WithLabelValues(endpoint).Inc()
}

// IncrDrift increments the drift counter for a flow.
func (m *Metrics) IncrDrift(flow string) {
	m.driftDetected.WithLabelValues(flow).Inc()
}

// IncrChannelOutcome increments the channel outcome counter.
func (m *Metrics) IncrChannelOutcome(outcome string) {
	m.channelOutcomes.WithLabelValues(outcome).Inc()
}

// IncrReconfirmCall counts one reconfirmar-tasa call.
func (m *Metrics) IncrReconfirmCall() {
	m.reconfirmCalls.Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// ReconfirmCallCount returns the current value of the reconfirm
// counter. Used by tests asserting the at-most-one-reconfirm property.
func (m *Metrics) ReconfirmCallCount() float64 {
	metric := &dto.Metric{}
	if err := m.reconfirmCalls.Write(metric); err != nil {
		return 0
	}
	if metric.Counter != nil && metric.Counter.Value != nil {
		return *metric.Counter.Value
	}
	return 0
}
