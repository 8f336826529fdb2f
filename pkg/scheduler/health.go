package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/observability"
	"github.com/tenantops/subkeeper/pkg/storage"
)

// HealthConfig tunes the health monitor's sweep.
type HealthConfig struct {
	// Interval between sweeps.
	Interval time.Duration `json:"interval"`
	// LongRunningThreshold flags running executions older than this.
	LongRunningThreshold time.Duration `json:"long_running_threshold"`
	// RecentFailureWindow flags failed executions that ended within it.
	RecentFailureWindow time.Duration `json:"recent_failure_window"`
}

// DefaultHealthConfig returns the default sweep configuration.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:             5 * time.Minute,
		LongRunningThreshold: time.Hour,
		RecentFailureWindow:  10 * time.Minute,
	}
}

// HealthMonitor sweeps tracked executions for long-running jobs and recent
// failures. It is advisory: it alerts but never stops or retries a job.
type HealthMonitor struct {
	tracker  *ExecutionTracker
	store    storage.Store
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *logrus.Logger
	config   HealthConfig

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHealthMonitor creates a health monitor. metrics may be nil.
func NewHealthMonitor(tracker *ExecutionTracker, store storage.Store, notifier notify.Notifier, metrics *observability.Metrics, logger *logrus.Logger, config HealthConfig) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.LongRunningThreshold <= 0 {
		config.LongRunningThreshold = time.Hour
	}
	if config.RecentFailureWindow <= 0 {
		config.RecentFailureWindow = 10 * time.Minute
	}
	return &HealthMonitor{
		tracker:  tracker,
		store:    store,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		config:   config,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop on its own timer, independent of any job
// schedule.
func (m *HealthMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)

	go func() {
		defer close(m.doneCh)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Sweep examines tracked executions once, persists the result, and alerts
// on every detected issue.
func (m *HealthMonitor) Sweep(ctx context.Context) *storage.HealthCheckResult {
	now := time.Now()
	jobNames := make(map[string]bool)
	var issues []storage.HealthIssue

	for _, execution := range m.tracker.Running() {
		jobNames[execution.JobName] = true
		if age := now.Sub(execution.StartTime); age > m.config.LongRunningThreshold {
			issues = append(issues, storage.HealthIssue{
				JobName:    execution.JobName,
				Kind:       storage.HealthIssueLongRunning,
				DetectedAt: now,
				Detail:     fmt.Sprintf("running for %s", age.Round(time.Second)),
			})
		}
	}

	for _, execution := range m.tracker.RecentCompleted() {
		jobNames[execution.JobName] = true
		if execution.Status != storage.ExecutionFailed || execution.EndTime == nil {
			continue
		}
		if now.Sub(*execution.EndTime) <= m.config.RecentFailureWindow {
			issues = append(issues, storage.HealthIssue{
				JobName:    execution.JobName,
				Kind:       storage.HealthIssueRecentFailure,
				DetectedAt: now,
				Detail:     execution.Error,
			})
		}
	}

	result := &storage.HealthCheckResult{
		CheckTime: now,
		TotalJobs: len(jobNames),
		Issues:    issues,
		Status:    storage.HealthStatusHealthy,
	}
	if len(issues) > 0 {
		result.Status = storage.HealthStatusIssuesDetected
	}

	if err := m.store.RecordHealthCheck(ctx, result); err != nil {
		m.logger.WithError(err).Error("Failed to persist health check result")
	}

	if m.metrics != nil {
		m.metrics.HealthSweepsTotal.WithLabelValues(string(result.Status)).Inc()
		for _, issue := range issues {
			m.metrics.HealthIssuesTotal.WithLabelValues(string(issue.Kind)).Inc()
		}
	}

	for _, issue := range issues {
		m.alert(ctx, issue)
	}

	m.logger.WithFields(logrus.Fields{
		"total_jobs": result.TotalJobs,
		"issues":     len(issues),
		"status":     string(result.Status),
	}).Debug("Health sweep completed")
	return result
}

func (m *HealthMonitor) alert(ctx context.Context, issue storage.HealthIssue) {
	alert := &notify.Alert{
		Details: map[string]interface{}{
			"job_name": issue.JobName,
			"detail":   issue.Detail,
		},
	}
	switch issue.Kind {
	case storage.HealthIssueLongRunning:
		alert.Kind = notify.KindLongRunningJob
		alert.Title = fmt.Sprintf("Job %s is long-running", issue.JobName)
		alert.Message = issue.Detail
	case storage.HealthIssueRecentFailure:
		alert.Kind = notify.KindRecentJobFailure
		alert.Title = fmt.Sprintf("Job %s failed recently", issue.JobName)
		alert.Message = issue.Detail
	}

	if err := m.notifier.Notify(ctx, alert); err != nil {
		m.logger.WithError(err).Warn("Failed to dispatch alert")
	}
}
