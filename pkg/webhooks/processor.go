package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/billing"
	"github.com/tenantops/subkeeper/pkg/gateway"
	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/observability"
	"github.com/tenantops/subkeeper/pkg/storage"
)

// ErrProcessingFailed is returned once an event has exhausted its retry
// attempts and been dead-lettered.
var ErrProcessingFailed = errors.New("webhook processing failed")

// ErrMalformedPayload marks an event whose payload cannot be decoded.
// Such events are dead-lettered immediately; retrying cannot fix them.
var ErrMalformedPayload = errors.New("malformed event payload")

// BillingService is the billing surface the processor dispatches into.
// *billing.Service satisfies it.
type BillingService interface {
	CreateSubscription(ctx context.Context, tenantID, planID string, interval storage.BillingInterval, trialDays int) (*storage.Subscription, error)
	ApplyCreated(ctx context.Context, tenantID, planID string, interval storage.BillingInterval, trialEnd, periodEnd *time.Time) error
	ApplyUpdated(ctx context.Context, tenantID, planID string, interval storage.BillingInterval, periodEnd *time.Time) error
	ApplyDeleted(ctx context.Context, tenantID string) error
	ApplyPaymentSucceeded(ctx context.Context, tenantID, invoiceID string, amount float64) error
	ApplyPaymentFailed(ctx context.Context, tenantID, invoiceID string, amount float64, retryURL string) error
	ApplyTrialWillEnd(ctx context.Context, tenantID string, trialEnd time.Time) error
}

// BackoffConfig configures retry scheduling for failed events.
type BackoffConfig struct {
	// BaseDelay is doubled per recorded retry: the Nth retry waits
	// BaseDelay * 2^N.
	BaseDelay time.Duration `json:"base_delay"`
	// MaxAttempts is the retry cap; an event whose retry count reaches it
	// is dead-lettered.
	MaxAttempts int `json:"max_attempts"`
}

// DefaultBackoffConfig returns the default retry configuration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   time.Minute,
		MaxAttempts: 3,
	}
}

// NextRetryDelay returns the backoff delay for the given retry count.
func (c BackoffConfig) NextRetryDelay(retryCount int) time.Duration {
	delay := c.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
	}
	return delay
}

// Processor applies payment-provider webhook events exactly once.
type Processor struct {
	gateway  gateway.Gateway
	store    storage.Store
	cache    *storage.IdempotencyCache
	billing  BillingService
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *logrus.Logger
	backoff  BackoffConfig
}

// NewProcessor creates a webhook processor. cache and metrics may be nil;
// the authoritative idempotency check is the store's unique event ID.
func NewProcessor(gw gateway.Gateway, store storage.Store, cache *storage.IdempotencyCache, billingSvc BillingService, notifier notify.Notifier, metrics *observability.Metrics, logger *logrus.Logger, backoff BackoffConfig) *Processor {
	if backoff.BaseDelay <= 0 {
		backoff.BaseDelay = time.Minute
	}
	if backoff.MaxAttempts <= 0 {
		backoff.MaxAttempts = 3
	}
	return &Processor{
		gateway:  gw,
		store:    store,
		cache:    cache,
		billing:  billingSvc,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		backoff:  backoff,
	}
}

// Handle verifies and applies an inbound webhook delivery. It returns
// gateway.ErrInvalidSignature when verification fails and ErrProcessingFailed
// once an event has been dead-lettered; a first-time handler failure is
// absorbed into the retry queue and reported as success to the caller so
// the provider does not also re-deliver.
func (p *Processor) Handle(ctx context.Context, signature string, rawBody []byte) error {
	event, err := p.gateway.VerifySignature(signature, rawBody)
	if err != nil {
		p.countEvent("unknown", "invalid_signature")
		p.logger.WithError(err).Warn("Rejected webhook delivery")
		return err
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.WebhookProcessingDuration.WithLabelValues(event.Type).Observe(time.Since(start).Seconds())
		}
	}()

	processed, err := p.alreadyProcessed(ctx, event.ID)
	if err != nil {
		return err
	}
	if processed {
		p.countEvent(event.Type, "duplicate")
		p.logger.WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Info("Webhook event already processed, skipping")
		return nil
	}

	record, err := p.store.GetWebhookEvent(ctx, event.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to load webhook event: %w", err)
	}
	if record == nil {
		record = &storage.WebhookEventRecord{
			ID:        event.ID,
			Type:      event.Type,
			Payload:   event.Data,
			Status:    storage.WebhookEventPending,
			CreatedAt: time.Now(),
		}
		if err := p.store.UpsertWebhookEvent(ctx, record); err != nil {
			return fmt.Errorf("failed to record webhook event: %w", err)
		}
	} else if record.Status == storage.WebhookEventFailed {
		// Dead-lettered events need operator intervention; acknowledge the
		// re-delivery without reprocessing.
		p.logger.WithField("event_id", event.ID).Warn("Ignoring re-delivery of dead-lettered event")
		return ErrProcessingFailed
	}

	return p.Process(ctx, record)
}

// Process dispatches a pending event record and settles its outcome: mark
// processed, reschedule with backoff, or dead-letter. It is the shared path
// for fresh deliveries and retry-queue drains.
func (p *Processor) Process(ctx context.Context, record *storage.WebhookEventRecord) error {
	err := p.dispatch(ctx, record)
	if err == nil || errors.Is(err, billing.ErrInvalidTransition) {
		// Invalid transitions are duplicate or out-of-order signals; the
		// event is settled, not retried.
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"event_id":   record.ID,
				"event_type": record.Type,
			}).Info("Transition rejected as duplicate or out of order, settling event")
		}
		return p.markProcessed(ctx, record)
	}
	if errors.Is(err, ErrMalformedPayload) {
		return p.deadLetter(ctx, record, err)
	}
	return p.scheduleRetry(ctx, record, err)
}

func (p *Processor) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	if p.cache != nil {
		hit, err := p.cache.IsProcessed(ctx, eventID)
		if err != nil {
			// Cache is advisory; fall through to the store.
			p.logger.WithError(err).Warn("Idempotency cache check failed")
		} else if hit {
			return true, nil
		}
	}

	record, err := p.store.GetWebhookEvent(ctx, eventID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load webhook event: %w", err)
	}
	return record.Status == storage.WebhookEventProcessed, nil
}

func (p *Processor) markProcessed(ctx context.Context, record *storage.WebhookEventRecord) error {
	now := time.Now()
	record.Status = storage.WebhookEventProcessed
	record.ProcessedAt = &now
	record.NextRetryAt = nil
	record.LastError = ""
	if err := p.store.UpsertWebhookEvent(ctx, record); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}

	if p.cache != nil {
		if err := p.cache.MarkProcessed(ctx, record.ID); err != nil {
			p.logger.WithError(err).Warn("Failed to cache processed event")
		}
	}

	p.countEvent(record.Type, "processed")
	p.logger.WithFields(logrus.Fields{
		"event_id":   record.ID,
		"event_type": record.Type,
	}).Info("Processed webhook event")
	return nil
}

func (p *Processor) scheduleRetry(ctx context.Context, record *storage.WebhookEventRecord, cause error) error {
	record.RetryCount++
	record.LastError = cause.Error()

	if record.RetryCount >= p.backoff.MaxAttempts {
		return p.deadLetter(ctx, record, cause)
	}

	next := time.Now().Add(p.backoff.NextRetryDelay(record.RetryCount))
	record.Status = storage.WebhookEventPending
	record.NextRetryAt = &next
	if err := p.store.UpsertWebhookEvent(ctx, record); err != nil {
		return fmt.Errorf("failed to reschedule webhook event: %w", err)
	}

	p.countEvent(record.Type, "retried")
	if p.metrics != nil {
		p.metrics.WebhookRetriesTotal.Inc()
	}
	p.logger.WithFields(logrus.Fields{
		"event_id":      record.ID,
		"event_type":    record.Type,
		"retry_count":   record.RetryCount,
		"next_retry_at": next,
	}).WithError(cause).Warn("Webhook event failed, scheduled retry")
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, record *storage.WebhookEventRecord, cause error) error {
	record.Status = storage.WebhookEventFailed
	record.NextRetryAt = nil
	record.LastError = cause.Error()
	if err := p.store.UpsertWebhookEvent(ctx, record); err != nil {
		return fmt.Errorf("failed to dead-letter webhook event: %w", err)
	}

	p.countEvent(record.Type, "dead_letter")
	if p.metrics != nil {
		p.metrics.WebhookDeadLettersTotal.Inc()
	}
	p.logger.WithFields(logrus.Fields{
		"event_id":    record.ID,
		"event_type":  record.Type,
		"retry_count": record.RetryCount,
	}).WithError(cause).Error("Webhook event dead-lettered")

	p.notify(ctx, &notify.Alert{
		Kind:    notify.KindWebhookDeadLetter,
		Title:   "Webhook event dead-lettered",
		Message: fmt.Sprintf("Event %s (%s) will not be retried: %v", record.ID, record.Type, cause),
		Details: map[string]interface{}{
			"event_id":    record.ID,
			"event_type":  record.Type,
			"retry_count": record.RetryCount,
			"last_error":  cause.Error(),
		},
	})
	return fmt.Errorf("%w: %v", ErrProcessingFailed, cause)
}

func (p *Processor) dispatch(ctx context.Context, record *storage.WebhookEventRecord) error {
	switch KindOf(record.Type) {
	case EventSubscriptionCreated:
		var data subscriptionData
		if err := p.decode(record, &data); err != nil {
			return err
		}
		return p.billing.ApplyCreated(ctx, data.TenantID, data.PlanID, data.Interval, data.TrialEnd, data.CurrentPeriodEnd)

	case EventSubscriptionUpdated:
		var data subscriptionData
		if err := p.decode(record, &data); err != nil {
			return err
		}
		return p.billing.ApplyUpdated(ctx, data.TenantID, data.PlanID, data.Interval, data.CurrentPeriodEnd)

	case EventSubscriptionDeleted:
		var data subscriptionData
		if err := p.decode(record, &data); err != nil {
			return err
		}
		return p.billing.ApplyDeleted(ctx, data.TenantID)

	case EventTrialWillEnd:
		var data subscriptionData
		if err := p.decode(record, &data); err != nil {
			return err
		}
		trialEnd := time.Now()
		if data.TrialEnd != nil {
			trialEnd = *data.TrialEnd
		}
		return p.billing.ApplyTrialWillEnd(ctx, data.TenantID, trialEnd)

	case EventPaymentSucceeded:
		var data invoiceData
		if err := p.decode(record, &data); err != nil {
			return err
		}
		return p.billing.ApplyPaymentSucceeded(ctx, data.TenantID, data.InvoiceID, data.Amount)

	case EventPaymentFailed:
		var data invoiceData
		if err := p.decode(record, &data); err != nil {
			return err
		}
		return p.billing.ApplyPaymentFailed(ctx, data.TenantID, data.InvoiceID, data.Amount, data.RetryURL)

	case EventCheckoutCompleted:
		var data checkoutData
		if err := p.decode(record, &data); err != nil {
			return err
		}
		_, err := p.billing.CreateSubscription(ctx, data.TenantID, data.PlanID, data.Interval, data.TrialDays)
		return err

	case EventCustomerCreated, EventCustomerUpdated, EventCustomerDeleted:
		var data customerData
		if err := p.decode(record, &data); err != nil {
			return err
		}
		return p.store.RecordBillingEvent(ctx, &storage.BillingEvent{
			TenantID:  data.TenantID,
			EventType: record.Type,
			Data: map[string]interface{}{
				"email": data.Email,
				"name":  data.Name,
			},
			CreatedAt: time.Now(),
		})

	default:
		p.countEvent(record.Type, "unknown")
		p.logger.WithFields(logrus.Fields{
			"event_id":   record.ID,
			"event_type": record.Type,
		}).Info("Unhandled webhook event type, acknowledging")
		return nil
	}
}

func (p *Processor) decode(record *storage.WebhookEventRecord, v interface{}) error {
	if err := json.Unmarshal(record.Payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, record.Type, err)
	}
	return nil
}

func (p *Processor) notify(ctx context.Context, alert *notify.Alert) {
	if err := p.notifier.Notify(ctx, alert); err != nil {
		p.logger.WithError(err).Warn("Failed to dispatch alert")
	}
}

func (p *Processor) countEvent(eventType, outcome string) {
	if p.metrics != nil {
		p.metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}
