package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/gateway"
	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/storage"
)

// ErrPlanNotFound is returned when a plan ID is not in the catalog.
var ErrPlanNotFound = errors.New("plan not found")

// Service manages subscription lifecycle for tenants. Webhook-driven state
// changes arrive through the Apply* methods; operator/tenant-initiated
// changes through Create/Update/Cancel.
type Service struct {
	store    storage.Store
	gateway  gateway.Gateway
	sm       *StateMachine
	notifier notify.Notifier
	logger   *logrus.Logger
}

// NewService creates a billing Service.
func NewService(store storage.Store, gw gateway.Gateway, notifier notify.Notifier, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		store:    store,
		gateway:  gw,
		sm:       NewStateMachine(logger),
		notifier: notifier,
		logger:   logger,
	}
}

// CreateSubscription creates a subscription for a tenant. With trialDays > 0
// the subscription starts in trialing, otherwise active.
func (s *Service) CreateSubscription(ctx context.Context, tenantID, planID string, interval storage.BillingInterval, trialDays int) (*storage.Subscription, error) {
	plan := PlanByID(planID)
	if plan == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	now := time.Now()
	sub := &storage.Subscription{
		ID:            fmt.Sprintf("sub_%s", uuid.NewString()),
		TenantID:      tenantID,
		PlanID:        plan.ID,
		BillingPeriod: interval,
		Status:        InitialStatus(trialDays > 0),
	}

	periodEnd := now.AddDate(0, 1, 0)
	if interval == storage.BillingAnnual {
		periodEnd = now.AddDate(1, 0, 0)
	}
	sub.CurrentPeriodEnd = &periodEnd

	if trialDays > 0 {
		trialEnd := now.AddDate(0, 0, trialDays)
		sub.TrialEnd = &trialEnd
	}

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.audit(ctx, tenantID, "subscription_created", map[string]interface{}{
		"subscription_id": sub.ID,
		"plan_id":         plan.ID,
		"billing_period":  string(interval),
		"amount":          plan.PriceFor(interval),
		"status":          string(sub.Status),
	})

	return sub, nil
}

// UpdateSubscription moves a tenant to a different plan or billing interval.
func (s *Service) UpdateSubscription(ctx context.Context, tenantID, planID string, interval storage.BillingInterval) (*storage.Subscription, error) {
	plan := PlanByID(planID)
	if plan == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	sub, err := s.store.GetSubscription(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	previousPlan := sub.PlanID
	sub.PlanID = plan.ID
	sub.BillingPeriod = interval

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.audit(ctx, tenantID, "subscription_updated", map[string]interface{}{
		"subscription_id": sub.ID,
		"old_plan_id":     previousPlan,
		"new_plan_id":     plan.ID,
		"billing_period":  string(interval),
		"amount":          plan.PriceFor(interval),
	})

	return sub, nil
}

// CancelSubscription cancels a tenant's subscription. Immediate cancellation
// transitions to canceled now; otherwise the subscription runs out at the end
// of the current period and the provider's deletion webhook finalizes it.
func (s *Service) CancelSubscription(ctx context.Context, tenantID string, immediately bool) error {
	sub, err := s.store.GetSubscription(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}

	if immediately {
		if err := s.sm.Apply(sub, CauseDeleted); err != nil {
			return err
		}
		if err := s.store.UpsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}
	}

	s.audit(ctx, tenantID, "subscription_canceled", map[string]interface{}{
		"subscription_id": sub.ID,
		"immediately":     immediately,
		"period_end":      sub.CurrentPeriodEnd,
	})

	return nil
}

// ApplyCreated handles the provider's subscription-created event.
func (s *Service) ApplyCreated(ctx context.Context, tenantID, planID string, interval storage.BillingInterval, trialEnd *time.Time, periodEnd *time.Time) error {
	hasTrial := trialEnd != nil && trialEnd.After(time.Now())

	sub := &storage.Subscription{
		ID:               fmt.Sprintf("sub_%s", uuid.NewString()),
		TenantID:         tenantID,
		PlanID:           planID,
		BillingPeriod:    interval,
		Status:           InitialStatus(hasTrial),
		TrialEnd:         trialEnd,
		CurrentPeriodEnd: periodEnd,
	}

	// An existing row means the provider re-sent creation for a tenant we
	// already track; keep the local record's identity.
	if existing, err := s.store.GetSubscription(ctx, tenantID); err == nil {
		sub.ID = existing.ID
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to get subscription: %w", err)
	}

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	s.audit(ctx, tenantID, "subscription_created", map[string]interface{}{
		"subscription_id": sub.ID,
		"plan_id":         planID,
		"status":          string(sub.Status),
	})
	return nil
}

// ApplyUpdated handles the provider's subscription-updated event.
func (s *Service) ApplyUpdated(ctx context.Context, tenantID, planID string, interval storage.BillingInterval, periodEnd *time.Time) error {
	sub, err := s.store.GetSubscription(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}

	if planID != "" {
		sub.PlanID = planID
	}
	if interval != "" {
		sub.BillingPeriod = interval
	}
	if periodEnd != nil {
		sub.CurrentPeriodEnd = periodEnd
	}

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	s.audit(ctx, tenantID, "subscription_updated", map[string]interface{}{
		"subscription_id": sub.ID,
		"plan_id":         sub.PlanID,
	})
	return nil
}

// ApplyDeleted handles the provider's subscription-deleted event by
// transitioning to canceled. A repeat delivery hits the canceled state's
// missing edge and comes back as ErrInvalidTransition.
func (s *Service) ApplyDeleted(ctx context.Context, tenantID string) error {
	sub, err := s.store.GetSubscription(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}

	if err := s.sm.Apply(sub, CauseDeleted); err != nil {
		return err
	}

	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	s.audit(ctx, tenantID, "subscription_deleted", map[string]interface{}{
		"subscription_id": sub.ID,
	})
	return nil
}

// ApplyPaymentSucceeded handles a successful invoice payment. A past_due
// subscription recovers to active; the tenant gets a payment confirmation
// either way.
func (s *Service) ApplyPaymentSucceeded(ctx context.Context, tenantID, invoiceID string, amount float64) error {
	sub, err := s.store.GetSubscription(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}

	if s.sm.CanApply(sub.Status, CausePaymentSucceeded) {
		if err := s.sm.Apply(sub, CausePaymentSucceeded); err != nil {
			return err
		}
		if err := s.store.UpsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}
	}

	s.audit(ctx, tenantID, "payment_succeeded", map[string]interface{}{
		"invoice_id": invoiceID,
		"amount":     amount,
	})

	s.notifyAlert(ctx, &notify.Alert{
		Kind:     notify.KindPaymentSucceeded,
		TenantID: tenantID,
		Title:    "Payment Received",
		Message:  fmt.Sprintf("Payment of $%.2f was received for invoice %s.", amount, invoiceID),
		Details:  map[string]interface{}{"invoice_id": invoiceID, "amount": amount},
	})
	return nil
}

// ApplyPaymentFailed handles a failed invoice payment. An active
// subscription moves to past_due; the tenant is alerted with a retry link
// and routing delivers the same alert to the operations channel.
func (s *Service) ApplyPaymentFailed(ctx context.Context, tenantID, invoiceID string, amount float64, retryURL string) error {
	sub, err := s.store.GetSubscription(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to get subscription: %w", err)
	}

	if s.sm.CanApply(sub.Status, CausePaymentFailed) {
		if err := s.sm.Apply(sub, CausePaymentFailed); err != nil {
			return err
		}
		if err := s.store.UpsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}
	}

	s.audit(ctx, tenantID, "payment_failed", map[string]interface{}{
		"invoice_id": invoiceID,
		"amount":     amount,
	})

	s.notifyAlert(ctx, &notify.Alert{
		Kind:     notify.KindPaymentFailed,
		TenantID: tenantID,
		Title:    "Payment Failed",
		Message:  fmt.Sprintf("Payment of $%.2f failed for invoice %s.", amount, invoiceID),
		Details: map[string]interface{}{
			"invoice_id": invoiceID,
			"amount":     amount,
			"retry_url":  retryURL,
		},
	})
	return nil
}

// ApplyTrialWillEnd handles the trial-ending reminder. State is unchanged;
// only the tenant notification is emitted.
func (s *Service) ApplyTrialWillEnd(ctx context.Context, tenantID string, trialEnd time.Time) error {
	s.audit(ctx, tenantID, "trial_will_end", map[string]interface{}{
		"trial_end": trialEnd,
	})

	s.notifyAlert(ctx, &notify.Alert{
		Kind:     notify.KindTrialEnding,
		TenantID: tenantID,
		Title:    "Trial Ending Soon",
		Message:  fmt.Sprintf("Your trial ends on %s. Upgrade to keep your subscription active.", trialEnd.Format("January 2, 2006")),
		Details:  map[string]interface{}{"trial_end": trialEnd},
	})
	return nil
}

// audit appends a billing event; audit failure is logged, never fatal.
func (s *Service) audit(ctx context.Context, tenantID, eventType string, data map[string]interface{}) {
	err := s.store.RecordBillingEvent(ctx, &storage.BillingEvent{
		TenantID:  tenantID,
		EventType: eventType,
		Data:      data,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":  tenantID,
			"event_type": eventType,
		}).Error("failed to record billing event")
	}
}

func (s *Service) notifyAlert(ctx context.Context, alert *notify.Alert) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.logger.WithError(err).WithField("alert_kind", string(alert.Kind)).Error("failed to dispatch alert")
	}
}
