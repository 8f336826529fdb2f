package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/observability"
	"github.com/tenantops/subkeeper/pkg/storage"
)

// recentCacheSize bounds the in-memory window of completed executions used
// for metrics and health sweeps.
const recentCacheSize = 512

// ExecutionTracker records job executions. Persistence failures are absorbed:
// they are logged and raised as infrastructure alerts, never propagated into
// the job that triggered the write.
type ExecutionTracker struct {
	store    storage.Store
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *logrus.Logger

	mu      sync.RWMutex
	running map[string]*storage.JobExecution
	recent  *lru.Cache[string, *storage.JobExecution]
}

// NewExecutionTracker creates an execution tracker. metrics may be nil.
func NewExecutionTracker(store storage.Store, notifier notify.Notifier, metrics *observability.Metrics, logger *logrus.Logger) *ExecutionTracker {
	recent, _ := lru.New[string, *storage.JobExecution](recentCacheSize)
	return &ExecutionTracker{
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		running:  make(map[string]*storage.JobExecution),
		recent:   recent,
	}
}

// Begin opens a new execution record for a job invocation.
func (t *ExecutionTracker) Begin(ctx context.Context, jobName string) *storage.JobExecution {
	execution := &storage.JobExecution{
		ID:        uuid.NewString(),
		JobName:   jobName,
		StartTime: time.Now(),
		Status:    storage.ExecutionRunning,
	}

	t.mu.Lock()
	t.running[execution.ID] = execution
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.JobsRunning.Inc()
	}
	t.persist(ctx, execution)
	return execution
}

// Complete finalizes an execution with its outcome. execErr may be nil.
func (t *ExecutionTracker) Complete(ctx context.Context, execution *storage.JobExecution, status storage.ExecutionStatus, execErr error) {
	now := time.Now()
	execution.EndTime = &now
	execution.Status = status
	execution.DurationMs = now.Sub(execution.StartTime).Milliseconds()
	if execErr != nil {
		execution.Error = execErr.Error()
	}

	t.mu.Lock()
	delete(t.running, execution.ID)
	t.mu.Unlock()
	t.recent.Add(execution.ID, execution)

	if t.metrics != nil {
		t.metrics.JobsRunning.Dec()
		t.metrics.JobExecutionsTotal.WithLabelValues(execution.JobName, string(status)).Inc()
		t.metrics.JobDuration.WithLabelValues(execution.JobName).Observe(float64(execution.DurationMs) / 1000)
	}

	t.persist(ctx, execution)
}

// Running returns a snapshot of in-flight executions.
func (t *ExecutionTracker) Running() []*storage.JobExecution {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*storage.JobExecution, 0, len(t.running))
	for _, execution := range t.running {
		result = append(result, execution)
	}
	return result
}

// RunningFor reports whether the named job has an in-flight execution.
func (t *ExecutionTracker) RunningFor(jobName string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, execution := range t.running {
		if execution.JobName == jobName {
			return true
		}
	}
	return false
}

// RecentCompleted returns the in-memory window of finalized executions.
func (t *ExecutionTracker) RecentCompleted() []*storage.JobExecution {
	return t.recent.Values()
}

// LatestFor returns the most recent finalized execution of a job, or nil.
func (t *ExecutionTracker) LatestFor(jobName string) *storage.JobExecution {
	var latest *storage.JobExecution
	for _, execution := range t.recent.Values() {
		if execution.JobName != jobName {
			continue
		}
		if latest == nil || execution.StartTime.After(latest.StartTime) {
			latest = execution
		}
	}
	return latest
}

// History returns persisted executions of a job, newest first.
func (t *ExecutionTracker) History(ctx context.Context, jobName string, limit int) ([]*storage.JobExecution, error) {
	return t.store.ExecutionHistory(ctx, jobName, limit)
}

// ExecutionMetrics aggregates execution outcomes over a time window.
type ExecutionMetrics struct {
	Window        time.Duration `json:"window"`
	Total         int           `json:"total"`
	Completed     int           `json:"completed"`
	Failed        int           `json:"failed"`
	Running       int           `json:"running"`
	AvgDurationMs int64         `json:"avg_duration_ms"`
	MinDurationMs int64         `json:"min_duration_ms"`
	MaxDurationMs int64         `json:"max_duration_ms"`
}

// Metrics aggregates the tracked executions that started within the window.
func (t *ExecutionTracker) Metrics(window time.Duration) ExecutionMetrics {
	cutoff := time.Now().Add(-window)
	result := ExecutionMetrics{Window: window}

	var totalDuration int64
	var finalized int
	for _, execution := range t.recent.Values() {
		if execution.StartTime.Before(cutoff) {
			continue
		}
		result.Total++
		switch execution.Status {
		case storage.ExecutionCompleted:
			result.Completed++
		case storage.ExecutionFailed:
			result.Failed++
		}
		finalized++
		totalDuration += execution.DurationMs
		if result.MinDurationMs == 0 || execution.DurationMs < result.MinDurationMs {
			result.MinDurationMs = execution.DurationMs
		}
		if execution.DurationMs > result.MaxDurationMs {
			result.MaxDurationMs = execution.DurationMs
		}
	}

	t.mu.RLock()
	for _, execution := range t.running {
		if !execution.StartTime.Before(cutoff) {
			result.Total++
			result.Running++
		}
	}
	t.mu.RUnlock()

	if finalized > 0 {
		result.AvgDurationMs = totalDuration / int64(finalized)
	}
	return result
}

func (t *ExecutionTracker) persist(ctx context.Context, execution *storage.JobExecution) {
	if err := t.store.RecordExecution(ctx, execution); err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"execution_id": execution.ID,
			"job_name":     execution.JobName,
		}).Error("Failed to persist job execution")

		if notifyErr := t.notifier.Notify(ctx, &notify.Alert{
			Kind:    notify.KindInfraFailure,
			Title:   "Execution record write failed",
			Message: "The store rejected a job execution record; history and metrics may be incomplete.",
			Details: map[string]interface{}{
				"execution_id": execution.ID,
				"job_name":     execution.JobName,
				"error":        err.Error(),
			},
		}); notifyErr != nil {
			t.logger.WithError(notifyErr).Warn("Failed to dispatch alert")
		}
	}
}
