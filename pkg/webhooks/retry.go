package webhooks

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/storage"
)

// RetryWorker drains the persisted webhook retry queue. Failed events are
// rescheduled by the Processor with a next-retry timestamp; the worker polls
// the store for due events and reprocesses them, so pending retries survive
// process restarts.
type RetryWorker struct {
	processor *Processor
	store     storage.Store
	logger    *logrus.Logger
	interval  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewRetryWorker creates a retry worker polling at the given interval.
func NewRetryWorker(processor *Processor, store storage.Store, logger *logrus.Logger, interval time.Duration) *RetryWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RetryWorker{
		processor: processor,
		store:     store,
		logger:    logger,
		interval:  interval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the polling loop. It returns immediately; the loop exits
// when ctx is canceled or Stop is called.
func (w *RetryWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)

	go func() {
		defer close(w.doneCh)
		defer ticker.Stop()
		defer func() {
			if r := recover(); r != nil {
				w.logger.WithFields(logrus.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Retry worker panicked")
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case <-ticker.C:
				w.drain(ctx)
			}
		}
	}()
}

// Stop terminates the polling loop and waits for it to exit.
func (w *RetryWorker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// drain reprocesses every event whose retry time has come due.
func (w *RetryWorker) drain(ctx context.Context) {
	records, err := w.store.PendingWebhookRetries(ctx, time.Now())
	if err != nil {
		w.logger.WithError(err).Error("Failed to query pending webhook retries")
		return
	}

	for _, record := range records {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		w.logger.WithFields(logrus.Fields{
			"event_id":    record.ID,
			"event_type":  record.Type,
			"retry_count": record.RetryCount,
		}).Info("Retrying webhook event")

		if err := w.processor.Process(ctx, record); err != nil && !errors.Is(err, ErrProcessingFailed) {
			w.logger.WithError(err).WithField("event_id", record.ID).Error("Webhook retry errored")
		}
	}
}
