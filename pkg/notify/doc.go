// Package notify dispatches operational and tenant-facing alerts.
//
// # Overview
//
// This package defines the Alert type and the Notifier interface used by the
// scheduler, health monitor, webhook processor, and billing services. Alerts
// are routed by kind, so operator alerts (job failures, dead-lettered events)
// and tenant alerts (trial ending, payment failed, usage overage) can go to
// different channels.
//
// # Alert Kinds
//
// job_failure, infra_failure, long_running_job, recent_job_failure,
// trial_ending, payment_succeeded, payment_failed, usage_overage,
// webhook_dead_letter
//
// # Usage Example
//
// Route critical alerts to Slack, everything else to the log:
//
//	router := notify.NewRouter(notify.NewLogNotifier(logger))
//	router.Route(notify.KindJobFailure, slackNotifier)
//	router.Route(notify.KindWebhookDeadLetter, slackNotifier)
//
//	router.Notify(ctx, &notify.Alert{
//		Kind:    notify.KindJobFailure,
//		Title:   "Job Failed",
//		Message: "monthly-billing-cycle failed",
//	})
package notify
