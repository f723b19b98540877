// Package metrics exposes the daemon's Prometheus counters. Each Metrics
// value owns its registry so independent instances (one per test) never
// collide. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the daemon and the relay.
type Metrics struct {
	registry *prometheus.Registry

	Submissions    *prometheus.CounterVec
	Reports        *prometheus.CounterVec
	UpstreamErrors *prometheus.CounterVec
	HashCache      *prometheus.CounterVec
	RelayRequests  *prometheus.CounterVec
	RelayDuration  *prometheus.HistogramVec
}

// New creates a Metrics instance registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "painel_submissions_total",
			Help: "Sample submissions per analyzer, by outcome (provider or synthetic).",
		}, []string{"analyzer", "outcome"}),
		Reports: f.NewCounterVec(prometheus.CounterOpts{
			Name: "painel_reports_total",
			Help: "Deferred report fetches per analyzer, by outcome.",
		}, []string{"analyzer", "outcome"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "painel_upstream_errors_total",
			Help: "Failed calls to an analyzer through the relay.",
		}, []string{"analyzer"}),
		HashCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "painel_hash_lookup_cache_total",
			Help: "Hash lookups served from (hit) or missing in (miss) the cache.",
		}, []string{"result"}),
		RelayRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "painel_relay_requests_total",
			Help: "Requests handled by the relay, by function, action and HTTP status.",
		}, []string{"function", "action", "status"}),
		RelayDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "painel_relay_request_duration_seconds",
			Help:    "Time spent forwarding a relay request to the provider.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"function", "action"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSubmission counts one analyzer submission.
func (m *Metrics) ObserveSubmission(analyzer, outcome string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(analyzer, outcome).Inc()
}

// ObserveReport counts one deferred report fetch.
func (m *Metrics) ObserveReport(analyzer, outcome string) {
	if m == nil {
		return
	}
	m.Reports.WithLabelValues(analyzer, outcome).Inc()
}

// IncrementUpstreamErrors counts one failed analyzer call.
func (m *Metrics) IncrementUpstreamErrors(analyzer string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.WithLabelValues(analyzer).Inc()
}

// ObserveHashCache counts a cache hit or miss.
func (m *Metrics) ObserveHashCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.HashCache.WithLabelValues("hit").Inc()
	} else {
		m.HashCache.WithLabelValues("miss").Inc()
	}
}

// CountRecordsWith registers a gauge that calls fn on every scrape to
// report the number of stored records. Call it once per Metrics.
func (m *Metrics) CountRecordsWith(fn func() float64) {
	if m == nil {
		return
	}
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "painel_records",
		Help: "Number of analysis records in the store.",
	}, fn)
}

// ObserveRelay records one relay request.
func (m *Metrics) ObserveRelay(function, action, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RelayRequests.WithLabelValues(function, action, status).Inc()
	m.RelayDuration.WithLabelValues(function, action).Observe(seconds)
}
