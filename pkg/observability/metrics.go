package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// SSO business metrics
	LoginInitiationsTotal *prometheus.CounterVec
	CallbacksTotal        *prometheus.CounterVec
	UsersProvisionedTotal *prometheus.CounterVec
	SessionsIssuedTotal   prometheus.Counter
	ExchangeDuration      *prometheus.HistogramVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "action", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssobridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "action"},
		),
		LoginInitiationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_login_initiations_total",
				Help: "Total number of SSO login initiations",
			},
			[]string{"provider_type", "result"},
		),
		CallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_callbacks_total",
				Help: "Total number of SSO callbacks processed",
			},
			[]string{"provider_type", "result"},
		),
		UsersProvisionedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_users_provisioned_total",
				Help: "Total number of users auto-provisioned via SSO",
			},
			[]string{"provider_type"},
		),
		SessionsIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssobridge_sessions_issued_total",
				Help: "Total number of session tokens issued",
			},
		),
		ExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssobridge_token_exchange_duration_seconds",
				Help:    "Duration of outbound token exchange calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider_type"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssobridge_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ssobridge_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginInitiationsTotal,
		m.CallbacksTotal,
		m.UsersProvisionedTotal,
		m.SessionsIssuedTotal,
		m.ExchangeDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// CollectDBStats copies sql.DB pool stats into the gauges
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by their ?action= parameter rather than path, since
// the whole SSO surface lives under a single routed resource.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			action := r.URL.Query().Get("action")
			if action == "" {
				action = r.URL.Path
			}

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, action, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, action).Observe(duration)
		})
	}
}

// MetricsHandler returns the Prometheus scrape handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
