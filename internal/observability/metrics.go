// Package observability holds the prometheus metrics for the chat pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/liliang-cn/mindrag/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements the retrieval and generation observers
type Metrics struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	degradations   *prometheus.CounterVec
	crisis         prometheus.Counter
	searchDuration *prometheus.HistogramVec
	searches       *prometheus.CounterVec
	genDuration    *prometheus.HistogramVec
	genAttempts    *prometheus.HistogramVec
	activeSessions prometheus.Gauge
	evicted        prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindrag_chat_requests_total",
			Help: "Chat requests by outcome",
		}, []string{"outcome"}),
		degradations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindrag_degradations_total",
			Help: "Handled degradations by kind",
		}, []string{"kind"}),
		crisis: f.NewCounter(prometheus.CounterOpts{
			Name: "mindrag_crisis_interceptions_total",
			Help: "Messages answered with the crisis response",
		}),
		searchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindrag_domain_search_duration_seconds",
			Help:    "Per-domain vector search latency",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		}, []string{"domain"}),
		searches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindrag_domain_searches_total",
			Help: "Per-domain vector searches by status",
		}, []string{"domain", "status"}),
		genDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindrag_generation_duration_seconds",
			Help:    "Generation latency including retry",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}, []string{"provider", "outcome"}),
		genAttempts: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindrag_generation_attempts",
			Help:    "Attempts per generation call",
			Buckets: []float64{1, 2},
		}, []string{"provider"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "mindrag_active_sessions",
			Help: "Sessions with activity inside the idle window",
		}),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Name: "mindrag_sessions_evicted_total",
			Help: "Sessions removed by the idle sweep",
		}),
	}
}

// ObserveSearch implements retrieval.Observer
func (m *Metrics) ObserveSearch(domainID, status string, elapsed time.Duration) {
	m.searchDuration.WithLabelValues(domainID).Observe(elapsed.Seconds())
	m.searches.WithLabelValues(domainID, status).Inc()
}

// ObserveGeneration implements generation.Observer
func (m *Metrics) ObserveGeneration(provider, outcome string, attempts int, elapsed time.Duration) {
	m.genDuration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
	m.genAttempts.WithLabelValues(provider).Observe(float64(attempts))
}

// ObserveRequest counts one pipeline run and its degradations
func (m *Metrics) ObserveRequest(outcome string, degradations []domain.Degradation) {
	m.requests.WithLabelValues(outcome).Inc()
	for _, d := range degradations {
		m.degradations.WithLabelValues(string(d)).Inc()
		if d == domain.CrisisOverride {
			m.crisis.Inc()
		}
	}
}

// SetActiveSessions records the current session count
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// AddEvicted counts sessions removed by a sweep
func (m *Metrics) AddEvicted(n int) {
	m.evicted.Add(float64(n))
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
