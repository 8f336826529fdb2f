// Package jobs defines the production job catalog: the recurring jobs that
// keep tenant subscriptions billed, compliant, and observed. Each job is a
// scheduler handler built over the store, usage, and billing services;
// Register wires the full set into a Scheduler with their cron schedules
// and criticality.
package jobs
