package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestRecordExecution(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	end := now.Add(2 * time.Second)
	execution := &JobExecution{
		ID:         "exec-1",
		JobName:    "license-expiry-check",
		StartTime:  now,
		EndTime:    &end,
		Status:     ExecutionCompleted,
		DurationMs: 2000,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO job_executions")).
		WithArgs(execution.ID, execution.JobName, execution.StartTime, execution.EndTime,
			execution.Status, execution.DurationMs, nullString("")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.RecordExecution(context.Background(), execution)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutionHistory(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "job_name", "start_time", "end_time", "status", "duration_ms", "error"}).
		AddRow("exec-2", "monthly-billing-cycle", now, now.Add(time.Second), "completed", int64(1000), nil).
		AddRow("exec-1", "monthly-billing-cycle", now.Add(-time.Hour), now.Add(-time.Hour+time.Second), "failed", int64(1000), "db timeout")

	mock.ExpectQuery(regexp.QuoteMeta("FROM job_executions")).
		WithArgs("monthly-billing-cycle", 10).
		WillReturnRows(rows)

	history, err := store.ExecutionHistory(context.Background(), "monthly-billing-cycle", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ExecutionCompleted, history[0].Status)
	assert.Equal(t, "db timeout", history[1].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordHealthCheck(t *testing.T) {
	store, mock := newMockStore(t)

	result := &HealthCheckResult{
		CheckTime: time.Now(),
		TotalJobs: 8,
		Issues: []HealthIssue{
			{JobName: "license-audit", Kind: HealthIssueLongRunning, DetectedAt: time.Now()},
		},
		Status: HealthStatusIssuesDetected,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO health_checks")).
		WithArgs(result.CheckTime, result.TotalJobs, sqlmock.AnyArg(), result.Status).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.RecordHealthCheck(context.Background(), result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWebhookEventNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM webhook_events")).
		WithArgs("evt_missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetWebhookEvent(context.Background(), "evt_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWebhookEvent(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "type", "payload", "status", "retry_count",
		"next_retry_at", "last_error", "processed_at", "created_at", "updated_at"}).
		AddRow("evt_1", "invoice.payment_failed", []byte(`{"tenant_id":"t1"}`), "pending", 2,
			now.Add(time.Minute), "handler error", nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM webhook_events")).
		WithArgs("evt_1").
		WillReturnRows(rows)

	event, err := store.GetWebhookEvent(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, "invoice.payment_failed", event.Type)
	assert.Equal(t, 2, event.RetryCount)
	assert.Equal(t, "handler error", event.LastError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingWebhookRetries(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "type", "payload", "status", "retry_count",
		"next_retry_at", "last_error", "processed_at", "created_at", "updated_at"}).
		AddRow("evt_1", "customer.subscription.updated", []byte(`{}`), "pending", 1,
			now.Add(-time.Minute), "timeout", nil, now.Add(-time.Hour), now)

	mock.ExpectQuery(regexp.QuoteMeta("next_retry_at IS NOT NULL")).
		WithArgs(WebhookEventPending, sqlmock.AnyArg()).
		WillReturnRows(rows)

	events, err := store.PendingWebhookRetries(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt_1", events[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubscription(t *testing.T) {
	store, mock := newMockStore(t)

	now := time.Now()
	periodEnd := now.AddDate(0, 1, 0)
	rows := sqlmock.NewRows([]string{"id", "tenant_id", "plan_id", "billing_period", "status",
		"current_period_end", "trial_end", "canceled_at", "created_at", "updated_at"}).
		AddRow("sub_1", "tenant-1", "professional", "monthly", "active", periodEnd, nil, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
		WithArgs("tenant-1").
		WillReturnRows(rows)

	sub, err := store.GetSubscription(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, SubscriptionActive, sub.Status)
	assert.Equal(t, "professional", sub.PlanID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubscriptionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
		WithArgs("tenant-unknown").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetSubscription(context.Background(), "tenant-unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasOverageCharge(t *testing.T) {
	store, mock := newMockStore(t)

	period := Period{Start: time.Now().AddDate(0, -1, 0), End: time.Now()}
	mock.ExpectQuery(regexp.QuoteMeta("FROM overage_charges")).
		WithArgs("tenant-1", period.Start, period.End).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.HasOverageCharge(context.Background(), "tenant-1", period)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListActiveTenants(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"tenant_id"}).AddRow("tenant-1").AddRow("tenant-2")
	mock.ExpectQuery(regexp.QuoteMeta("FROM subscriptions")).
		WithArgs(SubscriptionCanceled).
		WillReturnRows(rows)

	tenants, err := store.ListActiveTenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-1", "tenant-2"}, tenants)
}

func TestRecordOverageCharge(t *testing.T) {
	store, mock := newMockStore(t)

	charge := &OverageCharge{
		TenantID: "tenant-1",
		Period:   Period{Start: time.Now().AddDate(0, -1, 0), End: time.Now()},
		Items:    []LineItem{{Description: "Extra users (2)", Amount: 20}},
		Total:    20,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO overage_charges")).
		WithArgs(charge.TenantID, charge.Period.Start, charge.Period.End,
			sqlmock.AnyArg(), charge.Total, nullString("")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.RecordOverageCharge(context.Background(), charge))
	assert.NoError(t, mock.ExpectationsWereMet())
}
