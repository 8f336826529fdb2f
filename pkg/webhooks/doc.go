// Package webhooks processes inbound payment-provider events.
//
// The Processor verifies each event's signature, applies it exactly once by
// keying on the provider event ID, and dispatches to the billing layer by
// event type. Failed events are rescheduled with exponential backoff through
// a persisted retry queue drained by the RetryWorker; events that exhaust
// their attempts are dead-lettered and raised as operator alerts.
package webhooks
