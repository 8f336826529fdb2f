package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Job metrics
	JobExecutionsTotal *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec
	JobsRunning        prometheus.Gauge

	// Health sweep metrics
	HealthSweepsTotal *prometheus.CounterVec
	HealthIssuesTotal *prometheus.CounterVec

	// Webhook metrics
	WebhookEventsTotal        *prometheus.CounterVec
	WebhookProcessingDuration *prometheus.HistogramVec
	WebhookRetriesTotal       prometheus.Counter
	WebhookDeadLettersTotal   prometheus.Counter

	// Billing metrics
	SubscriptionTransitionsTotal *prometheus.CounterVec
	OverageInvoicesTotal         prometheus.Counter
	OverageChargedDollars        prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subkeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subkeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		JobExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subkeeper_job_executions_total",
				Help: "Total number of job executions by final status",
			},
			[]string{"job", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subkeeper_job_duration_seconds",
				Help:    "Job execution duration in seconds",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"job"},
		),
		JobsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subkeeper_jobs_running",
				Help: "Number of job executions currently in flight",
			},
		),

		HealthSweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subkeeper_health_sweeps_total",
				Help: "Total number of health monitor sweeps by outcome",
			},
			[]string{"status"},
		),
		HealthIssuesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subkeeper_health_issues_total",
				Help: "Total number of health issues detected",
			},
			[]string{"kind"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subkeeper_webhook_events_total",
				Help: "Total number of webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		WebhookProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subkeeper_webhook_processing_duration_seconds",
				Help:    "Webhook event processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		WebhookRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subkeeper_webhook_retries_total",
				Help: "Total number of webhook event retry attempts",
			},
		),
		WebhookDeadLettersTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subkeeper_webhook_dead_letters_total",
				Help: "Total number of webhook events dead-lettered after exhausting retries",
			},
		),

		SubscriptionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subkeeper_subscription_transitions_total",
				Help: "Total number of applied subscription state transitions",
			},
			[]string{"from", "to"},
		),
		OverageInvoicesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subkeeper_overage_invoices_total",
				Help: "Total number of overage invoices created",
			},
		),
		OverageChargedDollars: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "subkeeper_overage_charged_dollars_total",
				Help: "Total overage dollars invoiced",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subkeeper_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subkeeper_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.JobExecutionsTotal,
		m.JobDuration,
		m.JobsRunning,
		m.HealthSweepsTotal,
		m.HealthIssuesTotal,
		m.WebhookEventsTotal,
		m.WebhookProcessingDuration,
		m.WebhookRetriesTotal,
		m.WebhookDeadLettersTotal,
		m.SubscriptionTransitionsTotal,
		m.OverageInvoicesTotal,
		m.OverageChargedDollars,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The route template from gorilla/mux is used as the path label so that
// per-tenant URLs do not explode cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler returns the Prometheus scrape handler for a registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
