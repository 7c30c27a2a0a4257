// Package metrics exposes Prometheus counters for the proxy.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the proxy's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	FallbacksTotal  *prometheus.CounterVec
	DedupHitsTotal  *prometheus.CounterVec
	RateLimitsTotal *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec
	CostDollars     *prometheus.CounterVec
	SavedDollars    prometheus.Counter
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frugal_requests_total",
			Help: "Chat requests by model, tier and outcome.",
		}, []string{"model", "tier", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frugal_request_duration_seconds",
			Help:    "End-to-end request latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"model"}),
		FallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frugal_fallbacks_total",
			Help: "Fallback re-dispatches by abandoned model.",
		}, []string{"from_model"}),
		DedupHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frugal_dedup_hits_total",
			Help: "Requests served from the dedup store.",
		}, []string{"kind"}),
		RateLimitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frugal_rate_limits_total",
			Help: "Upstream 429 responses by model.",
		}, []string{"model"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frugal_tokens_total",
			Help: "Tokens by model and direction.",
		}, []string{"model", "direction"}),
		CostDollars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frugal_cost_dollars_total",
			Help: "Estimated spend by model.",
		}, []string{"model"}),
		SavedDollars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frugal_saved_dollars_total",
			Help: "Estimated spend avoided versus the tier baseline.",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.FallbacksTotal, m.DedupHitsTotal,
		m.RateLimitsTotal, m.TokensTotal, m.CostDollars, m.SavedDollars,
	)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
