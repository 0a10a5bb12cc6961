package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the BFA.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	gatewayRequests *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	ingestions      *prometheus.CounterVec
	renewals        *prometheus.CounterVec
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

		gatewayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenda_gateway_requests_total",
				Help: "Calls to the schedule API by endpoint and outcome class.",
			},
			[]string{"endpoint", "class"},
		),
		gatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agenda_gateway_duration_seconds",
				Help:    "Latency of calls to the schedule API.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ingestions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenda_ingestion_total",
				Help: "NFe ingestion pipeline outcomes.",
			},
			[]string{"outcome"},
		),
		renewals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenda_token_renewals_total",
				Help: "Token renewal attempts by result.",
			},
			[]string{"result"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenda_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agenda_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordGatewayCall records one outbound call. class is "ok" or an error class.
func (m *Metrics) RecordGatewayCall(endpoint, class string, d time.Duration) {
	m.gatewayRequests.WithLabelValues(endpoint, class).Inc()
	m.gatewayDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// IncrIngestion counts a pipeline outcome (loaded, rejected, created, failed...).
func (m *Metrics) IncrIngestion(outcome string) {
	m.ingestions.WithLabelValues(outcome).Inc()
}

// IncrRenewal counts a token renewal attempt.
func (m *Metrics) IncrRenewal(result string) {
	m.renewals.WithLabelValues(result).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IngestionCount returns the cumulative count for an ingestion outcome.
func (m *Metrics) IngestionCount(outcome string) float64 {
	return getCounterValue(m.ingestions, outcome)
}

// RenewalCount returns the cumulative count for a renewal result.
func (m *Metrics) RenewalCount(result string) float64 {
	return getCounterValue(m.renewals, result)
}

// GatewayCount returns the cumulative count of calls to endpoint with class.
func (m *Metrics) GatewayCount(endpoint, class string) float64 {
	return getCounterValue(m.gatewayRequests, endpoint, class)
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
