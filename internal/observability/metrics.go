// Package observability exposes the Prometheus instruments that carry the
// core's failure and latency signals. Consolidation failures surface here,
// never to the caller of a turn.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the core.
type Metrics struct {
	ActiveTurns        prometheus.Gauge
	TurnsTotal         *prometheus.CounterVec
	TurnDuration       prometheus.Histogram
	ContextTokensUsed  prometheus.Histogram
	ProviderErrors     *prometheus.CounterVec
	ProviderFallbacks  prometheus.Counter
	CapabilityInvokes  *prometheus.CounterVec
	ConsolidationJobs  *prometheus.CounterVec
	ConsolidationQueue prometheus.Gauge
	RetryWriteQueue    prometheus.Gauge
	MemoryEntries      prometheus.Counter
	MemoryExpired      prometheus.Counter
}

// NewMetrics registers all instruments under the given namespace on the
// default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers all instruments on the given registerer. Tests
// pass a fresh registry so repeated construction never collides.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveTurns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_turns",
			Help:      "Number of turns currently in flight.",
		}),
		TurnsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed turns by outcome and dispatch path.",
		}, []string{"outcome", "path"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time from turn submission to response.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		ContextTokensUsed: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "context_tokens_used",
			Help:      "Estimated tokens consumed by assembled context windows.",
			Buckets:   []float64{128, 256, 512, 1024, 2048, 4096, 8192},
		}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by backend and kind.",
		}, []string{"provider", "kind"}),
		ProviderFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Completions served by the fallback backend.",
		}),
		CapabilityInvokes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_invocations_total",
			Help:      "Capability invocations by capability and result.",
		}, []string{"capability", "result"}),
		ConsolidationJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consolidation_jobs_total",
			Help:      "Consolidation jobs by result.",
		}, []string{"result"}),
		ConsolidationQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consolidation_queue_depth",
			Help:      "Jobs waiting in the consolidation queue.",
		}),
		RetryWriteQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_write_queue_depth",
			Help:      "Turn records waiting for a retry write.",
		}),
		MemoryEntries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_entries_created_total",
			Help:      "Memory entries produced by consolidation.",
		}),
		MemoryExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_entries_expired_total",
			Help:      "Ephemeral entries removed by the expiry sweep.",
		}),
	}
}

// All recording methods are nil-safe: components constructed without metrics
// (tests, the CLI) simply record nothing.

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(outcome, path string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome, path).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

// TurnStarted marks a turn entering flight.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// TurnFinished marks a turn leaving flight.
func (m *Metrics) TurnFinished() {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
}

// ObserveContextTokens records the estimated size of one assembled window.
func (m *Metrics) ObserveContextTokens(tokens int) {
	if m == nil {
		return
	}
	m.ContextTokensUsed.Observe(float64(tokens))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, kind).Inc()
}

// RecordFallback counts one completion served by the fallback backend.
func (m *Metrics) RecordFallback() {
	if m == nil {
		return
	}
	m.ProviderFallbacks.Inc()
}

// RecordCapability counts one capability invocation.
func (m *Metrics) RecordCapability(capability, result string) {
	if m == nil {
		return
	}
	m.CapabilityInvokes.WithLabelValues(capability, result).Inc()
}

// RecordConsolidation counts one consolidation job result.
func (m *Metrics) RecordConsolidation(result string) {
	if m == nil {
		return
	}
	m.ConsolidationJobs.WithLabelValues(result).Inc()
}

// SetConsolidationQueueDepth publishes the current queue depth.
func (m *Metrics) SetConsolidationQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.ConsolidationQueue.Set(float64(depth))
}

// SetRetryQueueDepth publishes the current retry-write queue depth.
func (m *Metrics) SetRetryQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.RetryWriteQueue.Set(float64(depth))
}

// RecordEntriesCreated counts entries produced by consolidation.
func (m *Metrics) RecordEntriesCreated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MemoryEntries.Add(float64(n))
}

// RecordEntriesExpired counts entries removed by the expiry sweep.
func (m *Metrics) RecordEntriesExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MemoryExpired.Add(float64(n))
}

// Turn outcome and result label values.
const (
	OutcomeCompleted = "completed"
	OutcomeDegraded  = "degraded"
	OutcomeFailed    = "failed"

	ResultOK     = "ok"
	ResultError  = "error"
	ResultDedupe = "dedupe"
)

// MetricsHandler returns the HTTP handler serving the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
