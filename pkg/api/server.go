package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/billing"
	"github.com/tenantops/subkeeper/pkg/httputil"
	"github.com/tenantops/subkeeper/pkg/observability"
	"github.com/tenantops/subkeeper/pkg/scheduler"
	"github.com/tenantops/subkeeper/pkg/storage"
	"github.com/tenantops/subkeeper/pkg/usage"
	"github.com/tenantops/subkeeper/pkg/webhooks"
)

// maxWebhookBody caps incoming webhook payloads at 1MB.
const maxWebhookBody = 1 << 20

// Server is the HTTP surface of the subscription platform: the webhook
// ingestion endpoint, tenant subscription management, and scheduler
// operations.
type Server struct {
	router    *mux.Router
	logger    *logrus.Logger
	store     storage.Store
	processor *webhooks.Processor
	billing   *billing.Service
	usage     *usage.Service
	scheduler *scheduler.Scheduler
}

// NewServer creates the API server and wires all routes. The metrics
// middleware is skipped when metrics is nil.
func NewServer(store storage.Store, processor *webhooks.Processor, billingSvc *billing.Service, usageSvc *usage.Service, sched *scheduler.Scheduler, metrics *observability.Metrics, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		store:     store,
		processor: processor,
		billing:   billingSvc,
		usage:     usageSvc,
		scheduler: sched,
	}

	s.router.Use(mux.MiddlewareFunc(httputil.RequestIDMiddleware))
	s.router.Use(mux.MiddlewareFunc(httputil.LoggingMiddleware(logger)))
	s.router.Use(mux.MiddlewareFunc(httputil.RecoveryMiddleware(logger)))
	if metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(metrics))
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Payment provider webhook ingestion
	s.router.Handle("/webhooks/payment",
		httputil.MaxBytesMiddleware(maxWebhookBody)(http.HandlerFunc(s.handleWebhook)),
	).Methods("POST")

	// Plan catalog
	s.router.HandleFunc("/api/v1/plans", s.listPlans).Methods("GET")
	s.router.HandleFunc("/api/v1/plans/{planID}", s.getPlan).Methods("GET")

	// Tenant subscriptions
	s.router.HandleFunc("/api/v1/tenants/{tenantID}/subscription", s.createSubscription).Methods("POST")
	s.router.HandleFunc("/api/v1/tenants/{tenantID}/subscription", s.getSubscription).Methods("GET")
	s.router.HandleFunc("/api/v1/tenants/{tenantID}/subscription", s.updateSubscription).Methods("PUT")
	s.router.HandleFunc("/api/v1/tenants/{tenantID}/subscription", s.cancelSubscription).Methods("DELETE")

	// Tenant usage
	s.router.HandleFunc("/api/v1/tenants/{tenantID}/usage", s.getUsage).Methods("GET")

	// Scheduler operations
	s.router.HandleFunc("/api/v1/jobs", s.listJobs).Methods("GET")
	s.router.HandleFunc("/api/v1/jobs/{name}/trigger", s.triggerJob).Methods("POST")
	s.router.HandleFunc("/api/v1/jobs/{name}/stop", s.stopJob).Methods("POST")
	s.router.HandleFunc("/api/v1/jobs/{name}/restart", s.restartJob).Methods("POST")
	s.router.HandleFunc("/api/v1/jobs/{name}/executions", s.listExecutions).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
