package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/billing"
	"github.com/tenantops/subkeeper/pkg/gateway"
	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/storage"
)

// Service aggregates usage snapshots and turns overages into invoices.
type Service struct {
	store    storage.Store
	gateway  gateway.Gateway
	notifier notify.Notifier
	logger   *logrus.Logger
}

// NewService creates a usage service.
func NewService(store storage.Store, gw gateway.Gateway, notifier notify.Notifier, logger *logrus.Logger) *Service {
	return &Service{
		store:    store,
		gateway:  gw,
		notifier: notifier,
		logger:   logger,
	}
}

// RecordSnapshot persists an aggregated usage snapshot for a tenant's
// billing period, replacing any previous snapshot for the same period.
func (s *Service) RecordSnapshot(ctx context.Context, snapshot *storage.UsageSnapshot) error {
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now()
	}
	if err := s.store.RecordUsageSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to record usage snapshot: %w", err)
	}
	return nil
}

// CalculateOverage computes the overage charge for a tenant's billing period
// from the stored snapshot and the tenant's current plan, without invoicing.
func (s *Service) CalculateOverage(ctx context.Context, tenantID string, period storage.Period) (*storage.OverageCharge, error) {
	sub, err := s.store.GetSubscription(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	plan := billing.PlanByID(sub.PlanID)
	if plan == nil {
		return nil, fmt.Errorf("%w: %s", billing.ErrPlanNotFound, sub.PlanID)
	}

	snapshot, err := s.store.GetUsageSnapshot(ctx, tenantID, period)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// No recorded usage means nothing to charge.
			return &storage.OverageCharge{TenantID: tenantID, Period: period}, nil
		}
		return nil, fmt.Errorf("failed to get usage snapshot: %w", err)
	}

	return Calculate(snapshot, plan.Limits), nil
}

// ProcessPeriod computes the overage charge for a tenant's billing period
// and, when chargeable, creates a provider invoice, records the charge, and
// notifies the tenant. Processing the same (tenant, period) twice is a no-op
// after the first charge is recorded.
func (s *Service) ProcessPeriod(ctx context.Context, tenantID string, period storage.Period) (*storage.OverageCharge, error) {
	charged, err := s.store.HasOverageCharge(ctx, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing overage charge: %w", err)
	}
	if charged {
		s.logger.WithFields(logrus.Fields{
			"tenant_id":    tenantID,
			"period_start": period.Start,
		}).Debug("Overage already charged for period, skipping")
		return nil, nil
	}

	charge, err := s.CalculateOverage(ctx, tenantID, period)
	if err != nil {
		return nil, err
	}
	if charge.Total <= 0 {
		return charge, nil
	}

	invoiceID, err := s.gateway.CreateInvoice(ctx, tenantID, charge.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to create overage invoice: %w", err)
	}
	charge.InvoiceID = invoiceID

	if err := s.store.RecordOverageCharge(ctx, charge); err != nil {
		return nil, fmt.Errorf("failed to record overage charge: %w", err)
	}

	// Collection is attempted immediately; a declined payment comes back
	// through the payment_failed webhook, so failure here is not fatal.
	if err := s.gateway.PayInvoice(ctx, invoiceID); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":  tenantID,
			"invoice_id": invoiceID,
		}).Warn("Overage invoice payment attempt failed")
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":  tenantID,
		"invoice_id": invoiceID,
		"total":      charge.Total,
		"items":      len(charge.Items),
	}).Info("Created overage invoice")

	alert := &notify.Alert{
		Kind:     notify.KindUsageOverage,
		TenantID: tenantID,
		Title:    "Usage overage charges",
		Message:  fmt.Sprintf("Your usage exceeded plan limits this period; $%.2f in overage charges were invoiced.", charge.Total),
		Details: map[string]interface{}{
			"invoice_id": invoiceID,
			"total":      charge.Total,
		},
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to send overage notification")
	}

	return charge, nil
}
