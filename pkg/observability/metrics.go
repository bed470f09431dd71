package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec

	// Session metrics
	SessionsActive           prometheus.Gauge
	SessionsIssuedTotal      prometheus.Counter
	SessionsInvalidatedTotal prometheus.Counter

	// Permission cache metrics
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheEvictions   prometheus.Gauge
	CacheSize        prometheus.Gauge

	// Provider metrics
	ProviderCallsTotal *prometheus.CounterVec

	// Sweep metrics
	SweepRemovedTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hubgate_sessions_active",
			Help: "Number of active sessions",
		}),
		SessionsIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hubgate_sessions_issued_total",
			Help: "Total number of sessions issued",
		}),
		SessionsInvalidatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hubgate_sessions_invalidated_total",
			Help: "Total number of sessions explicitly invalidated",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hubgate_permission_cache_hits_total",
			Help: "Permission cache hits during resolution",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hubgate_permission_cache_misses_total",
			Help: "Permission cache misses during resolution",
		}),
		CacheEvictions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hubgate_permission_cache_evictions",
			Help: "Cumulative permission cache capacity evictions",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hubgate_permission_cache_size",
			Help: "Current number of permission cache entries",
		}),
		ProviderCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubgate_provider_calls_total",
				Help: "Outbound provider calls by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		SweepRemovedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hubgate_sweep_removed_total",
				Help: "Entries removed by background expiry sweeps, by store",
			},
			[]string{"store"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.SessionsActive,
		m.SessionsIssuedTotal,
		m.SessionsInvalidatedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictions,
		m.CacheSize,
		m.ProviderCallsTotal,
		m.SweepRemovedTotal,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
