package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tenantops/subkeeper/pkg/scheduler"
	"github.com/tenantops/subkeeper/pkg/storage"
	"github.com/tenantops/subkeeper/pkg/webhooks"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Webhook processing configuration
	Webhooks WebhookConfig

	// Scheduler configuration
	Scheduler SchedulerConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// WebhookConfig holds payment-provider webhook settings
type WebhookConfig struct {
	// Secret is the shared HMAC secret used to verify webhook signatures.
	Secret string

	Backoff webhooks.BackoffConfig

	// RetryInterval is how often the retry worker drains due events.
	RetryInterval time.Duration
}

// SchedulerConfig holds recurring-job scheduler settings
type SchedulerConfig struct {
	// Timezone is an IANA location name used to evaluate cron expressions.
	Timezone string

	Health scheduler.HealthConfig
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool

	// Alerting
	SlackWebhookURL string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Webhooks:      loadWebhookConfig(),
		Scheduler:     loadSchedulerConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SUBKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("SUBKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SUBKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SUBKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SUBKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SUBKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SUBKEEPER_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment. An empty
// postgres URL selects the in-memory store; an empty redis URL disables the
// idempotency cache.
func loadStorageConfig() storage.Config {
	return storage.Config{
		PostgresURL:      getEnv("SUBKEEPER_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("SUBKEEPER_POSTGRES_MAX_CONNS", 20),
		PostgresMinConns: getEnvInt("SUBKEEPER_POSTGRES_MIN_CONNS", 2),
		PostgresTimeout:  getEnvDuration("SUBKEEPER_POSTGRES_TIMEOUT", 5*time.Second),

		RedisURL:      getEnv("SUBKEEPER_REDIS_URL", ""),
		RedisPassword: getEnv("SUBKEEPER_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SUBKEEPER_REDIS_DB", 0),
		CacheTTL:      getEnvDuration("SUBKEEPER_CACHE_TTL", 24*time.Hour),
	}
}

// loadWebhookConfig loads webhook processing configuration from environment
func loadWebhookConfig() WebhookConfig {
	backoff := webhooks.DefaultBackoffConfig()
	backoff.BaseDelay = getEnvDuration("SUBKEEPER_WEBHOOK_RETRY_BASE_DELAY", backoff.BaseDelay)
	backoff.MaxAttempts = getEnvInt("SUBKEEPER_WEBHOOK_RETRY_MAX_ATTEMPTS", backoff.MaxAttempts)

	return WebhookConfig{
		Secret:        getEnv("SUBKEEPER_WEBHOOK_SECRET", ""),
		Backoff:       backoff,
		RetryInterval: getEnvDuration("SUBKEEPER_WEBHOOK_RETRY_INTERVAL", 30*time.Second),
	}
}

// loadSchedulerConfig loads scheduler configuration from environment
func loadSchedulerConfig() SchedulerConfig {
	health := scheduler.DefaultHealthConfig()
	health.Interval = getEnvDuration("SUBKEEPER_HEALTH_SWEEP_INTERVAL", health.Interval)
	health.LongRunningThreshold = getEnvDuration("SUBKEEPER_LONG_RUNNING_THRESHOLD", health.LongRunningThreshold)
	health.RecentFailureWindow = getEnvDuration("SUBKEEPER_RECENT_FAILURE_WINDOW", health.RecentFailureWindow)

	return SchedulerConfig{
		Timezone: getEnv("SUBKEEPER_SCHEDULER_TIMEZONE", "UTC"),
		Health:   health,
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:        getEnv("SUBKEEPER_LOG_LEVEL", "info"),
		LogFormat:       getEnv("SUBKEEPER_LOG_FORMAT", "json"),
		MetricsEnabled:  getEnvBool("SUBKEEPER_METRICS_ENABLED", true),
		SlackWebhookURL: getEnv("SUBKEEPER_SLACK_WEBHOOK_URL", ""),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate webhook config
	if c.Webhooks.Secret == "" {
		return fmt.Errorf("webhook secret is required")
	}
	if c.Webhooks.Backoff.BaseDelay <= 0 {
		return fmt.Errorf("webhook retry base delay must be positive")
	}
	if c.Webhooks.Backoff.MaxAttempts < 1 {
		return fmt.Errorf("webhook retry max attempts must be at least 1")
	}
	if c.Webhooks.RetryInterval <= 0 {
		return fmt.Errorf("webhook retry interval must be positive")
	}

	// Validate scheduler config
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}
	if c.Scheduler.Health.Interval <= 0 {
		return fmt.Errorf("health sweep interval must be positive")
	}

	return nil
}

// Location returns the parsed scheduler timezone. Call Validate first.
func (c *Config) Location() *time.Location {
	location, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return location
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
