package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization pipeline metrics
	AuthDecisionsTotal    *prometheus.CounterVec
	AuthPipelineDuration  *prometheus.HistogramVec
	RevocationChecksTotal *prometheus.CounterVec
	RevocationsTotal      prometheus.Counter

	// Remote authority metrics
	AuthorityRequestsTotal   *prometheus.CounterVec
	AuthorityRequestDuration prometheus.Histogram
	AuthorityInFlight        prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge

	// Business metrics
	PluginsTotal   prometheus.Gauge
	DownloadsTotal prometheus.Counter

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
				Name: "bazaar_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bazaar_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		AuthDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_auth_decisions_total",
				Help: "Total number of authorization pipeline decisions",
			},
			[]string{"scope", "outcome"},
		),
		AuthPipelineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bazaar_auth_pipeline_duration_seconds",
				Help:    "Authorization pipeline duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"scope"},
		),
		RevocationChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_revocation_checks_total",
				Help: "Total number of revocation registry lookups",
			},
			[]string{"result"},
		),
		RevocationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bazaar_revocations_total",
				Help: "Total number of tokens revoked",
			},
		),

		AuthorityRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bazaar_authority_requests_total",
				Help: "Total number of entitlement checks against the remote authority",
			},
			[]string{"decision"},
		),
		AuthorityRequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bazaar_authority_request_duration_seconds",
				Help:    "Remote authority round-trip duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		AuthorityInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bazaar_authority_in_flight",
				Help: "Number of in-flight remote authority calls",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bazaar_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bazaar_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bazaar_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),

		PluginsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bazaar_plugins_total",
				Help: "Total number of plugins in the catalog",
			},
		),
		DownloadsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "bazaar_downloads_total",
				Help: "Total number of plugin downloads served",
			},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthDecisionsTotal,
		m.AuthPipelineDuration,
		m.RevocationChecksTotal,
		m.RevocationsTotal,
		m.AuthorityRequestsTotal,
		m.AuthorityRequestDuration,
		m.AuthorityInFlight,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RedisConnectionsActive,
		m.PluginsTotal,
		m.DownloadsTotal,
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// UpdateDBStats updates database connection pool gauges
func (m *Metrics) UpdateDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// UpdateRedisStats updates Redis connection pool gauges
func (m *Metrics) UpdateRedisStats(client *redis.Client) {
	if client == nil {
		return
	}
	stats := client.PoolStats()
	m.RedisConnectionsActive.Set(float64(stats.TotalConns))
}

// HTTPMiddleware records request counts and latencies per route
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
