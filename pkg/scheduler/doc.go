// Package scheduler runs recurring jobs on cron schedules and tracks their
// executions.
//
// The Scheduler owns its own job registry, so independent instances can
// coexist in one process. Every firing, scheduled or manually triggered,
// flows through the ExecutionTracker, which persists execution records and
// keeps a recent in-memory window for metrics and health sweeps. The
// HealthMonitor periodically scans tracked executions for long-running jobs
// and recent failures and raises advisory alerts; it never interferes with
// the jobs themselves.
package scheduler
