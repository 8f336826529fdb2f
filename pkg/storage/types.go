package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ExecutionStatus represents the lifecycle state of a job execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// JobExecution records a single invocation of a scheduled job. Once the
// execution is finalized the record is append-only.
type JobExecution struct {
	ID         string          `json:"id"`
	JobName    string          `json:"job_name"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    *time.Time      `json:"end_time,omitempty"`
	Status     ExecutionStatus `json:"status"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// HealthIssueKind classifies a detected job health issue.
type HealthIssueKind string

const (
	HealthIssueLongRunning   HealthIssueKind = "long_running"
	HealthIssueRecentFailure HealthIssueKind = "recent_failure"
)

// HealthIssue is an advisory finding from a health sweep. It is not
// authoritative job state.
type HealthIssue struct {
	JobName    string          `json:"job_name"`
	Kind       HealthIssueKind `json:"kind"`
	DetectedAt time.Time       `json:"detected_at"`
	Detail     string          `json:"detail,omitempty"`
}

// HealthStatus summarizes a health sweep.
type HealthStatus string

const (
	HealthStatusHealthy        HealthStatus = "healthy"
	HealthStatusIssuesDetected HealthStatus = "issues_detected"
)

// HealthCheckResult is the persisted outcome of one health sweep.
type HealthCheckResult struct {
	CheckTime time.Time     `json:"check_time"`
	TotalJobs int           `json:"total_jobs"`
	Issues    []HealthIssue `json:"issues,omitempty"`
	Status    HealthStatus  `json:"status"`
}

// WebhookEventStatus represents the processing state of a webhook event.
type WebhookEventStatus string

const (
	WebhookEventPending   WebhookEventStatus = "pending"
	WebhookEventProcessed WebhookEventStatus = "processed"
	WebhookEventFailed    WebhookEventStatus = "failed"
)

// WebhookEventRecord is the persisted form of an inbound payment-provider
// event. The ID is the idempotency key: it is unique in the store.
type WebhookEventRecord struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
	Status      WebhookEventStatus `json:"status"`
	RetryCount  int                `json:"retry_count"`
	NextRetryAt *time.Time         `json:"next_retry_at,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	ProcessedAt *time.Time         `json:"processed_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// SubscriptionStatus represents the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// BillingInterval is the subscription billing cadence.
type BillingInterval string

const (
	BillingMonthly BillingInterval = "monthly"
	BillingAnnual  BillingInterval = "annual"
)

// Subscription is a tenant's subscription record. There is at most one per
// tenant, and canceled rows are retained rather than deleted.
type Subscription struct {
	ID               string             `json:"id"`
	TenantID         string             `json:"tenant_id"`
	PlanID           string             `json:"plan_id"`
	BillingPeriod    BillingInterval    `json:"billing_period"`
	Status           SubscriptionStatus `json:"status"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end,omitempty"`
	TrialEnd         *time.Time         `json:"trial_end,omitempty"`
	CanceledAt       *time.Time         `json:"canceled_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Period is a billing period; it forms part of the natural key for usage
// snapshots and overage charges.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// UsageSnapshot is aggregated usage for a tenant over a billing period.
type UsageSnapshot struct {
	TenantID  string    `json:"tenant_id"`
	Period    Period    `json:"period"`
	Users     int       `json:"users"`
	StorageGB float64   `json:"storage_gb"`
	APICalls  int64     `json:"api_calls"`
	CreatedAt time.Time `json:"created_at"`
}

// LineItem is a single chargeable overage line.
type LineItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// OverageCharge is the set of chargeable line items computed for a tenant's
// billing period. Total is the sum of the item amounts and is never negative.
type OverageCharge struct {
	TenantID  string     `json:"tenant_id"`
	Period    Period     `json:"period"`
	Items     []LineItem `json:"items"`
	Total     float64    `json:"total"`
	InvoiceID string     `json:"invoice_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// BillingEvent is an append-only audit record of a billing-side effect.
type BillingEvent struct {
	TenantID  string                 `json:"tenant_id"`
	EventType string                 `json:"event_type"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Store defines the persistence operations used by the scheduler, webhook
// processor, and billing services.
type Store interface {
	// Job executions
	RecordExecution(ctx context.Context, execution *JobExecution) error
	ExecutionHistory(ctx context.Context, jobName string, limit int) ([]*JobExecution, error)
	RecordHealthCheck(ctx context.Context, result *HealthCheckResult) error

	// Webhook events
	UpsertWebhookEvent(ctx context.Context, event *WebhookEventRecord) error
	GetWebhookEvent(ctx context.Context, id string) (*WebhookEventRecord, error)
	PendingWebhookRetries(ctx context.Context, before time.Time) ([]*WebhookEventRecord, error)

	// Subscriptions
	GetSubscription(ctx context.Context, tenantID string) (*Subscription, error)
	UpsertSubscription(ctx context.Context, subscription *Subscription) error

	// Usage
	RecordUsageSnapshot(ctx context.Context, snapshot *UsageSnapshot) error
	GetUsageSnapshot(ctx context.Context, tenantID string, period Period) (*UsageSnapshot, error)
	ListActiveTenants(ctx context.Context) ([]string, error)

	// Overage charges and billing audit
	RecordOverageCharge(ctx context.Context, charge *OverageCharge) error
	HasOverageCharge(ctx context.Context, tenantID string, period Period) (bool, error)
	RecordBillingEvent(ctx context.Context, event *BillingEvent) error

	// Health
	HealthCheck(ctx context.Context) error
	Close() error
}

// Config holds storage backend configuration.
type Config struct {
	// PostgreSQL
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis (idempotency cache)
	RedisURL      string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
}
