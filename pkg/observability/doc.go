// Package observability provides structured logging, Prometheus metrics,
// health probes, and graceful shutdown coordination.
//
// # Structured Logging
//
//	logger := observability.NewLogger("info", "json")
//	logger.WithField("tenant_id", id).Info("Subscription updated")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.JobExecutionsTotal.WithLabelValues("monthly-billing-cycle", "completed").Inc()
//
// # Health Probes
//
//	checker := observability.NewHealthChecker()
//	checker.AddCheck("postgres", store.HealthCheck)
//	mux.HandleFunc("/healthz", checker.Liveness)
//	mux.HandleFunc("/readyz", checker.Readiness)
package observability
