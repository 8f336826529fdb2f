package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a PostgreSQL-backed store and verifies the connection.
func OpenPostgres(config Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if config.PostgresMaxConns > 0 {
		db.SetMaxOpenConns(config.PostgresMaxConns)
	}
	if config.PostgresMinConns > 0 {
		db.SetMaxIdleConns(config.PostgresMinConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := config.PostgresTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing database handle. Used by tests.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RecordExecution inserts or finalizes a job execution record.
func (s *PostgresStore) RecordExecution(ctx context.Context, execution *JobExecution) error {
	query := `
		INSERT INTO job_executions (id, job_name, start_time, end_time, status, duration_ms, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET end_time = EXCLUDED.end_time, status = EXCLUDED.status,
		    duration_ms = EXCLUDED.duration_ms, error = EXCLUDED.error
	`
	_, err := s.db.ExecContext(ctx, query,
		execution.ID, execution.JobName, execution.StartTime, execution.EndTime,
		execution.Status, execution.DurationMs, nullString(execution.Error))
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// ExecutionHistory returns the most recent executions of a job.
func (s *PostgresStore) ExecutionHistory(ctx context.Context, jobName string, limit int) ([]*JobExecution, error) {
	query := `
		SELECT id, job_name, start_time, end_time, status, duration_ms, error
		FROM job_executions
		WHERE job_name = $1
		ORDER BY start_time DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, jobName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution history: %w", err)
	}
	defer rows.Close()

	var executions []*JobExecution
	for rows.Next() {
		execution := &JobExecution{}
		var errMsg sql.NullString
		if err := rows.Scan(&execution.ID, &execution.JobName, &execution.StartTime,
			&execution.EndTime, &execution.Status, &execution.DurationMs, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		execution.Error = errMsg.String
		executions = append(executions, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// RecordHealthCheck persists the outcome of a health sweep.
func (s *PostgresStore) RecordHealthCheck(ctx context.Context, result *HealthCheckResult) error {
	issuesJSON, err := json.Marshal(result.Issues)
	if err != nil {
		return fmt.Errorf("failed to marshal health issues: %w", err)
	}

	query := `
		INSERT INTO health_checks (check_time, total_jobs, issues, status)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query,
		result.CheckTime, result.TotalJobs, issuesJSON, result.Status); err != nil {
		return fmt.Errorf("failed to record health check: %w", err)
	}
	return nil
}

// UpsertWebhookEvent inserts or updates a webhook event keyed on its ID.
func (s *PostgresStore) UpsertWebhookEvent(ctx context.Context, event *WebhookEventRecord) error {
	query := `
		INSERT INTO webhook_events (id, type, payload, status, retry_count, next_retry_at, last_error, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, retry_count = EXCLUDED.retry_count,
		    next_retry_at = EXCLUDED.next_retry_at, last_error = EXCLUDED.last_error,
		    processed_at = EXCLUDED.processed_at, updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.Type, []byte(event.Payload), event.Status, event.RetryCount,
		event.NextRetryAt, nullString(event.LastError), event.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert webhook event: %w", err)
	}
	return nil
}

// GetWebhookEvent retrieves a webhook event by its idempotency key.
func (s *PostgresStore) GetWebhookEvent(ctx context.Context, id string) (*WebhookEventRecord, error) {
	query := `
		SELECT id, type, payload, status, retry_count, next_retry_at, last_error, processed_at, created_at, updated_at
		FROM webhook_events
		WHERE id = $1
	`
	event := &WebhookEventRecord{}
	var payload []byte
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID, &event.Type, &payload, &event.Status, &event.RetryCount,
		&event.NextRetryAt, &lastError, &event.ProcessedAt, &event.CreatedAt, &event.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	event.Payload = payload
	event.LastError = lastError.String

	return event, nil
}

// PendingWebhookRetries returns failed-but-retryable events whose next retry
// time has passed. Used by the retry worker, including at startup so pending
// retries survive process restarts.
func (s *PostgresStore) PendingWebhookRetries(ctx context.Context, before time.Time) ([]*WebhookEventRecord, error) {
	query := `
		SELECT id, type, payload, status, retry_count, next_retry_at, last_error, processed_at, created_at, updated_at
		FROM webhook_events
		WHERE status = $1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, WebhookEventPending, before)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending retries: %w", err)
	}
	defer rows.Close()

	var events []*WebhookEventRecord
	for rows.Next() {
		event := &WebhookEventRecord{}
		var payload []byte
		var lastError sql.NullString
		if err := rows.Scan(&event.ID, &event.Type, &payload, &event.Status, &event.RetryCount,
			&event.NextRetryAt, &lastError, &event.ProcessedAt, &event.CreatedAt, &event.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		event.Payload = payload
		event.LastError = lastError.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}

	return events, nil
}

// GetSubscription retrieves the subscription for a tenant.
func (s *PostgresStore) GetSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	query := `
		SELECT id, tenant_id, plan_id, billing_period, status, current_period_end,
		       trial_end, canceled_at, created_at, updated_at
		FROM subscriptions
		WHERE tenant_id = $1
	`
	sub := &Subscription{}
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&sub.ID, &sub.TenantID, &sub.PlanID, &sub.BillingPeriod, &sub.Status,
		&sub.CurrentPeriodEnd, &sub.TrialEnd, &sub.CanceledAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// UpsertSubscription inserts or updates a tenant's subscription. Canceled
// subscriptions are retained, never deleted.
func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (id, tenant_id, plan_id, billing_period, status, current_period_end, trial_end, canceled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (tenant_id) DO UPDATE
		SET plan_id = EXCLUDED.plan_id, billing_period = EXCLUDED.billing_period,
		    status = EXCLUDED.status, current_period_end = EXCLUDED.current_period_end,
		    trial_end = EXCLUDED.trial_end, canceled_at = EXCLUDED.canceled_at, updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		sub.ID, sub.TenantID, sub.PlanID, sub.BillingPeriod, sub.Status,
		sub.CurrentPeriodEnd, sub.TrialEnd, sub.CanceledAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// RecordUsageSnapshot stores aggregated usage for a tenant's billing period.
func (s *PostgresStore) RecordUsageSnapshot(ctx context.Context, snapshot *UsageSnapshot) error {
	query := `
		INSERT INTO usage_snapshots (tenant_id, period_start, period_end, users, storage_gb, api_calls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id, period_start, period_end) DO UPDATE
		SET users = EXCLUDED.users, storage_gb = EXCLUDED.storage_gb, api_calls = EXCLUDED.api_calls
	`
	_, err := s.db.ExecContext(ctx, query,
		snapshot.TenantID, snapshot.Period.Start, snapshot.Period.End,
		snapshot.Users, snapshot.StorageGB, snapshot.APICalls)
	if err != nil {
		return fmt.Errorf("failed to record usage snapshot: %w", err)
	}
	return nil
}

// GetUsageSnapshot retrieves a tenant's usage for a billing period.
func (s *PostgresStore) GetUsageSnapshot(ctx context.Context, tenantID string, period Period) (*UsageSnapshot, error) {
	query := `
		SELECT tenant_id, period_start, period_end, users, storage_gb, api_calls, created_at
		FROM usage_snapshots
		WHERE tenant_id = $1 AND period_start = $2 AND period_end = $3
	`
	snapshot := &UsageSnapshot{}
	err := s.db.QueryRowContext(ctx, query, tenantID, period.Start, period.End).Scan(
		&snapshot.TenantID, &snapshot.Period.Start, &snapshot.Period.End,
		&snapshot.Users, &snapshot.StorageGB, &snapshot.APICalls, &snapshot.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage snapshot: %w", err)
	}

	return snapshot, nil
}

// ListActiveTenants returns tenant IDs with a non-canceled subscription.
func (s *PostgresStore) ListActiveTenants(ctx context.Context) ([]string, error) {
	query := `SELECT tenant_id FROM subscriptions WHERE status != $1 ORDER BY tenant_id`
	rows, err := s.db.QueryContext(ctx, query, SubscriptionCanceled)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenantID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}

	return tenants, nil
}

// RecordOverageCharge stores a computed overage charge. The (tenant, period)
// pair is the natural key, so recomputation cannot double-record.
func (s *PostgresStore) RecordOverageCharge(ctx context.Context, charge *OverageCharge) error {
	itemsJSON, err := json.Marshal(charge.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal line items: %w", err)
	}

	query := `
		INSERT INTO overage_charges (tenant_id, period_start, period_end, items, total, invoice_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (tenant_id, period_start, period_end) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		charge.TenantID, charge.Period.Start, charge.Period.End,
		itemsJSON, charge.Total, nullString(charge.InvoiceID))
	if err != nil {
		return fmt.Errorf("failed to record overage charge: %w", err)
	}
	return nil
}

// HasOverageCharge reports whether a charge already exists for the period.
func (s *PostgresStore) HasOverageCharge(ctx context.Context, tenantID string, period Period) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM overage_charges WHERE tenant_id = $1 AND period_start = $2 AND period_end = $3)`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, tenantID, period.Start, period.End).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check overage charge: %w", err)
	}
	return exists, nil
}

// RecordBillingEvent appends a billing audit record.
func (s *PostgresStore) RecordBillingEvent(ctx context.Context, event *BillingEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	query := `INSERT INTO billing_events (tenant_id, event_type, data, created_at) VALUES ($1, $2, $3, NOW())`
	if _, err := s.db.ExecContext(ctx, query, event.TenantID, event.EventType, dataJSON); err != nil {
		return fmt.Errorf("failed to record billing event: %w", err)
	}
	return nil
}

// HealthCheck verifies database connectivity.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
