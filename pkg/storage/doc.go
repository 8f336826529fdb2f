// Package storage provides durable persistence for job executions, webhook
// events, subscriptions, usage snapshots, and overage charges.
//
// # Overview
//
// The Store interface defines the logical operations the scheduler, webhook
// processor, and billing services need. PostgresStore is the production
// implementation; the unique constraint on webhook event IDs is the
// idempotency primitive for event processing.
//
// IdempotencyCache is a Redis-backed fast path in front of the store for
// "was this event already processed" checks. It is advisory: the store's
// unique event ID remains the authority.
//
// # Usage Example
//
//	store, err := storage.OpenPostgres(storage.Config{PostgresURL: url})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.RecordExecution(ctx, &storage.JobExecution{
//		ID:        uuid.NewString(),
//		JobName:   "license-expiry-check",
//		StartTime: time.Now(),
//		Status:    storage.ExecutionRunning,
//	})
package storage
