// Package api implements the HTTP API for the subscription platform.
//
// # Overview
//
// The server exposes three surfaces:
//
//   - POST /webhooks/payment ingests payment-provider webhook events with
//     HMAC signature verification and exactly-once processing.
//   - /api/v1/plans and /api/v1/tenants/{tenantID}/... manage the plan
//     catalog, tenant subscriptions, and usage reporting.
//   - /api/v1/jobs exposes scheduler status, manual triggers, and
//     execution history for operators.
//
// Liveness, readiness, and Prometheus metrics are served from a separate
// health server; see pkg/observability.
//
// # Webhook Responses
//
// The webhook endpoint's status code drives provider redelivery: 200
// acknowledges the event (processed, duplicate, or queued for retry), 400
// rejects an invalid signature, and 422 reports an event that was
// dead-lettered so the provider stops resending it.
package api
