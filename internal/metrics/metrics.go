// Package metrics provides Prometheus metrics for the request engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	LifecycleTotal      *prometheus.CounterVec
	SummarizationsTotal *prometheus.CounterVec
	SummarizeDuration   prometheus.Histogram
	SnapshotsTotal      *prometheus.CounterVec
	OptimisticTotal     *prometheus.CounterVec
	EphemeralCleanups   *prometheus.CounterVec
	DeliveriesTotal     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	CachedRequests      *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		LifecycleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overbase_lifecycle_operations_total",
				Help: "Lifecycle operations by operation and result.",
			},
			[]string{"op", "result"},
		),
		SummarizationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overbase_summarizations_total",
				Help: "Summarization attempts by outcome.",
			},
			[]string{"outcome"},
		),
		SummarizeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "overbase_summarize_duration_seconds",
				Help:    "Latency of the summarization collaborator call.",
				Buckets: prometheus.DefBuckets,
			},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overbase_cache_snapshots_total",
				Help: "Remote snapshots applied to session caches by owner.",
			},
			[]string{"owner"},
		),
		OptimisticTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overbase_cache_optimistic_patches_total",
				Help: "Optimistic cache patches by result (applied, dropped, rolled_back).",
			},
			[]string{"result"},
		),
		EphemeralCleanups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overbase_ephemeral_cleanups_total",
				Help: "Ephemeral draft cleanups by trigger and result.",
			},
			[]string{"trigger", "result"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overbase_scheduler_deliveries_total",
				Help: "Scheduled request deliveries by result.",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "overbase_http_requests_total",
				Help: "HTTP API requests by route and status code.",
			},
			[]string{"route", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "overbase_http_request_duration_seconds",
				Help:    "HTTP API request duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		CachedRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "overbase_cache_requests",
				Help: "Requests held in a session cache by owner.",
			},
			[]string{"owner"},
		),
		registry: reg,
	}

	reg.MustRegister(m.LifecycleTotal)
	reg.MustRegister(m.SummarizationsTotal)
	reg.MustRegister(m.SummarizeDuration)
	reg.MustRegister(m.SnapshotsTotal)
	reg.MustRegister(m.OptimisticTotal)
	reg.MustRegister(m.EphemeralCleanups)
	reg.MustRegister(m.DeliveriesTotal)
	reg.MustRegister(m.HTTPRequestsTotal)
	reg.MustRegister(m.HTTPRequestDuration)
	reg.MustRegister(m.CachedRequests)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (for testing)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordLifecycle increments the lifecycle operation counter.
func (m *Metrics) RecordLifecycle(op, result string) {
	if m == nil {
		return
	}
	m.LifecycleTotal.WithLabelValues(op, result).Inc()
}

// RecordSummarization counts one summarization outcome and its latency.
func (m *Metrics) RecordSummarization(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SummarizationsTotal.WithLabelValues(outcome).Inc()
	m.SummarizeDuration.Observe(seconds)
}

// RecordSnapshot counts a snapshot and sets the cached request gauge.
func (m *Metrics) RecordSnapshot(owner string, size int) {
	if m == nil {
		return
	}
	m.SnapshotsTotal.WithLabelValues(owner).Inc()
	m.CachedRequests.WithLabelValues(owner).Set(float64(size))
}

// RecordOptimistic counts an optimistic patch result.
func (m *Metrics) RecordOptimistic(result string) {
	if m == nil {
		return
	}
	m.OptimisticTotal.WithLabelValues(result).Inc()
}

// RecordCleanup counts an ephemeral cleanup.
func (m *Metrics) RecordCleanup(trigger, result string) {
	if m == nil {
		return
	}
	m.EphemeralCleanups.WithLabelValues(trigger, result).Inc()
}

// RecordDelivery counts a scheduler delivery.
func (m *Metrics) RecordDelivery(result string) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(result).Inc()
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
}
