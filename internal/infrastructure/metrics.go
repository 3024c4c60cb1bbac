package infrastructure

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the business and HTTP metrics exported at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	validations  *prometheus.CounterVec
	keysIssued   prometheus.Counter
	httpDuration *prometheus.HistogramVec
}

// NewMetrics builds a registry with the service's collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kuropanel_validations_total",
			Help: "Validation requests by outcome.",
		}, []string{"outcome"}),
		keysIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kuropanel_keys_issued_total",
			Help: "Keys successfully issued.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kuropanel_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	registry.MustRegister(m.validations, m.keysIssued, m.httpDuration)
	return m
}

// ValidationOutcome counts one validation result.
func (m *Metrics) ValidationOutcome(outcome string) {
	m.validations.WithLabelValues(outcome).Inc()
}

// KeyIssued counts one successful issuance.
func (m *Metrics) KeyIssued() {
	m.keysIssued.Inc()
}

// ObserveHTTP records one request's duration.
func (m *Metrics) ObserveHTTP(route, status string, seconds float64) {
	m.httpDuration.WithLabelValues(route, status).Observe(seconds)
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
