package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tenantops/subkeeper/pkg/api"
	"github.com/tenantops/subkeeper/pkg/billing"
	"github.com/tenantops/subkeeper/pkg/config"
	"github.com/tenantops/subkeeper/pkg/gateway"
	"github.com/tenantops/subkeeper/pkg/jobs"
	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/observability"
	"github.com/tenantops/subkeeper/pkg/scheduler"
	"github.com/tenantops/subkeeper/pkg/storage"
	"github.com/tenantops/subkeeper/pkg/usage"
	"github.com/tenantops/subkeeper/pkg/webhooks"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("subkeeper exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	// Metrics
	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Storage
	store, db, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	if db != nil && metrics != nil {
		go pollDBStats(ctx, db, metrics)
	}

	var cache *storage.IdempotencyCache
	if cfg.Storage.RedisURL != "" {
		cache, err = storage.NewIdempotencyCache(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to connect idempotency cache: %w", err)
		}
		defer cache.Close()
		logger.Info("Idempotency cache connected")
	}

	// Alert routing: everything lands in the log; operator-facing kinds go
	// to Slack as well when a webhook URL is configured.
	notifier := buildNotifier(cfg, logger)

	// Domain services
	gw := gateway.NewHMACGateway(cfg.Webhooks.Secret)
	billingSvc := billing.NewService(store, gw, notifier, logger)
	usageSvc := usage.NewService(store, gw, notifier, logger)

	// Webhook processing
	processor := webhooks.NewProcessor(gw, store, cache, billingSvc, notifier, metrics, logger, cfg.Webhooks.Backoff)
	retryWorker := webhooks.NewRetryWorker(processor, store, logger, cfg.Webhooks.RetryInterval)
	retryWorker.Start(ctx)

	// Scheduler with the production job catalog
	tracker := scheduler.NewExecutionTracker(store, notifier, metrics, logger)
	sched := scheduler.New(tracker, notifier, logger, cfg.Location())

	// No platform metering source is wired yet, so snapshot aggregation
	// stays disabled and snapshots arrive through the API.
	catalog := jobs.NewCatalog(store, usageSvc, gw, notifier, nil, logger)
	if err := catalog.Register(sched); err != nil {
		return fmt.Errorf("failed to register job catalog: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	monitor := scheduler.NewHealthMonitor(tracker, store, notifier, metrics, logger, cfg.Scheduler.Health)
	monitor.Start(ctx)

	// HTTP servers: the API on the main port, probes and metrics on the
	// health port.
	apiServer := api.NewServer(store, processor, billingSvc, usageSvc, sched, metrics, logger)
	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthHandler(store, cache, registry),
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.Register(func(ctx context.Context) error {
		sched.Stop()
		return nil
	})
	shutdown.Register(func(ctx context.Context) error {
		monitor.Stop()
		return nil
	})
	shutdown.Register(func(ctx context.Context) error {
		retryWorker.Stop()
		return nil
	})

	var group errgroup.Group
	group.Go(func() error {
		logger.WithField("addr", server.Addr).Info("API server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(shutdown.WaitForShutdown)

	return group.Wait()
}

// openStore connects the configured backend: postgres when a URL is set,
// otherwise the in-memory store for development.
func openStore(cfg *config.Config, logger *logrus.Logger) (storage.Store, *sql.DB, error) {
	if cfg.Storage.PostgresURL == "" {
		logger.Warn("No postgres URL configured, using in-memory storage")
		return storage.NewMemoryStore(), nil, nil
	}

	db, err := sql.Open("postgres", cfg.Storage.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.Storage.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.Storage.PostgresMinConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Storage.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("Postgres storage connected")
	return storage.NewPostgresStore(db), db, nil
}

// pollDBStats exports connection pool gauges.
func pollDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			metrics.DBConnectionsActive.Set(float64(stats.InUse))
			metrics.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}

func buildNotifier(cfg *config.Config, logger *logrus.Logger) notify.Notifier {
	router := notify.NewRouter(notify.NewLogNotifier(logger))
	if cfg.Observability.SlackWebhookURL == "" {
		return router
	}

	slack := notify.NewSlackNotifier(cfg.Observability.SlackWebhookURL)
	for _, kind := range []notify.Kind{
		notify.KindJobFailure,
		notify.KindInfraFailure,
		notify.KindWebhookDeadLetter,
		notify.KindPaymentFailed,
		notify.KindLongRunningJob,
		notify.KindRecentJobFailure,
	} {
		router.Route(kind, slack)
	}
	return router
}

func healthHandler(store storage.Store, cache *storage.IdempotencyCache, registry *prometheus.Registry) http.Handler {
	checker := observability.NewHealthChecker()
	checker.AddCheck("storage", store.HealthCheck)
	if cache != nil {
		checker.AddCheck("redis", cache.HealthCheck)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
	mux.Handle("/metrics", observability.MetricsHandler(registry))
	return mux
}
