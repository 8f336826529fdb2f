// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	SUBKEEPER_HOST="0.0.0.0"
//	SUBKEEPER_PORT="8080"
//	SUBKEEPER_HEALTH_PORT="9090"
//	SUBKEEPER_READ_TIMEOUT="15s"
//	SUBKEEPER_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	SUBKEEPER_POSTGRES_URL="postgres://localhost/subkeeper"  # empty selects the in-memory store
//	SUBKEEPER_POSTGRES_MAX_CONNS="20"
//	SUBKEEPER_REDIS_URL="redis://localhost:6379"             # empty disables the idempotency cache
//	SUBKEEPER_CACHE_TTL="24h"
//
// Webhook settings:
//
//	SUBKEEPER_WEBHOOK_SECRET="whsec_..."
//	SUBKEEPER_WEBHOOK_RETRY_BASE_DELAY="1m"
//	SUBKEEPER_WEBHOOK_RETRY_MAX_ATTEMPTS="3"
//	SUBKEEPER_WEBHOOK_RETRY_INTERVAL="30s"
//
// Scheduler settings:
//
//	SUBKEEPER_SCHEDULER_TIMEZONE="UTC"
//	SUBKEEPER_HEALTH_SWEEP_INTERVAL="5m"
//	SUBKEEPER_LONG_RUNNING_THRESHOLD="1h"
//	SUBKEEPER_RECENT_FAILURE_WINDOW="10m"
//
// Observability settings:
//
//	SUBKEEPER_LOG_LEVEL="info"  # debug, info, warn, error
//	SUBKEEPER_LOG_FORMAT="json" # json, text
//	SUBKEEPER_METRICS_ENABLED="true"
//	SUBKEEPER_SLACK_WEBHOOK_URL="https://hooks.slack.com/services/..."
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
