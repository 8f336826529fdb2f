package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/async"
	"github.com/tenantops/subkeeper/pkg/billing"
	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/storage"
	"github.com/tenantops/subkeeper/pkg/usage"
)

// reminderWindow is how far ahead of the period end renewal reminders go out.
const reminderWindow = 7

// thresholdRatio is the utilization fraction at which tenants are warned
// they are approaching a plan limit.
const thresholdRatio = 0.8

type expiryThreshold struct {
	days     int
	severity notify.Severity
}

var expiryThresholds = []expiryThreshold{
	{days: 30, severity: notify.SeverityInfo},
	{days: 15, severity: notify.SeverityInfo},
	{days: 7, severity: notify.SeverityWarning},
	{days: 3, severity: notify.SeverityWarning},
	{days: 1, severity: notify.SeverityCritical},
}

// runExpiryCheck notifies tenants whose subscription period ends on one of
// the fixed day thresholds, with urgency rising as the date approaches.
func (c *Catalog) runExpiryCheck(ctx context.Context) error {
	return c.eachTenant(ctx, func(sub *storage.Subscription) error {
		if sub.CurrentPeriodEnd == nil {
			return nil
		}
		days := daysUntil(*sub.CurrentPeriodEnd)
		for _, threshold := range expiryThresholds {
			if days != threshold.days {
				continue
			}
			c.alert(ctx, &notify.Alert{
				Kind:     notify.KindSubscriptionExpiring,
				Severity: threshold.severity,
				TenantID: sub.TenantID,
				Title:    "Subscription expiring",
				Message:  fmt.Sprintf("Your %s subscription expires in %d day(s).", sub.PlanID, days),
				Details: map[string]interface{}{
					"plan_id":    sub.PlanID,
					"expires_at": sub.CurrentPeriodEnd,
					"days_left":  days,
				},
			})
			break
		}
		return nil
	})
}

// runUsageAggregation collects raw usage counts for every active tenant and
// records them as the current period's snapshot.
func (c *Catalog) runUsageAggregation(ctx context.Context) error {
	tenants, err := c.store.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	period := usage.MonthOf(time.Now())
	errs := async.Batch(ctx, c.logger, tenants, c.batchWorkers, "usage aggregation", time.Minute, func(ctx context.Context, tenantID string) error {
		users, storageGB, apiCalls, err := c.source.Collect(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		return c.usage.RecordSnapshot(ctx, &storage.UsageSnapshot{
			TenantID:  tenantID,
			Period:    period,
			Users:     users,
			StorageGB: storageGB,
			APICalls:  apiCalls,
		})
	})
	return errors.Join(errs...)
}

// runRenewalReminders reminds tenants whose current period ends within the
// reminder window, including the upcoming renewal amount.
func (c *Catalog) runRenewalReminders(ctx context.Context) error {
	return c.eachTenant(ctx, func(sub *storage.Subscription) error {
		if sub.Status != storage.SubscriptionActive || sub.CurrentPeriodEnd == nil {
			return nil
		}
		days := daysUntil(*sub.CurrentPeriodEnd)
		if days < 0 || days > reminderWindow {
			return nil
		}

		details := map[string]interface{}{
			"plan_id":   sub.PlanID,
			"renews_at": sub.CurrentPeriodEnd,
		}
		if plan := billing.PlanByID(sub.PlanID); plan != nil {
			details["amount"] = plan.PriceFor(sub.BillingPeriod)
		}
		c.alert(ctx, &notify.Alert{
			Kind:     notify.KindRenewalReminder,
			TenantID: sub.TenantID,
			Title:    "Subscription renewal upcoming",
			Message:  fmt.Sprintf("Your %s subscription renews in %d day(s).", sub.PlanID, days),
			Details:  details,
		})
		return nil
	})
}

// runComplianceCheck flags tenants whose current-period usage exceeds their
// plan limits. It is advisory; the monthly billing cycle does the charging.
func (c *Catalog) runComplianceCheck(ctx context.Context) error {
	period := usage.MonthOf(time.Now())
	return c.eachTenant(ctx, func(sub *storage.Subscription) error {
		charge, err := c.usage.CalculateOverage(ctx, sub.TenantID, period)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", sub.TenantID, err)
		}
		if charge.Total <= 0 {
			return nil
		}
		c.alert(ctx, &notify.Alert{
			Kind:     notify.KindComplianceViolation,
			TenantID: sub.TenantID,
			Title:    "Plan limits exceeded",
			Message:  fmt.Sprintf("Tenant %s exceeds plan %s limits; projected overage $%.2f.", sub.TenantID, sub.PlanID, charge.Total),
			Details: map[string]interface{}{
				"plan_id":           sub.PlanID,
				"projected_overage": charge.Total,
				"line_items":        len(charge.Items),
			},
		})
		return nil
	})
}

// runWeeklyUsageReport sends each tenant a summary of current-period usage
// against plan limits.
func (c *Catalog) runWeeklyUsageReport(ctx context.Context) error {
	period := usage.MonthOf(time.Now())
	return c.eachTenant(ctx, func(sub *storage.Subscription) error {
		snapshot, err := c.store.GetUsageSnapshot(ctx, sub.TenantID, period)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tenant %s: %w", sub.TenantID, err)
		}

		details := map[string]interface{}{
			"users":      snapshot.Users,
			"storage_gb": snapshot.StorageGB,
			"api_calls":  snapshot.APICalls,
		}
		if plan := billing.PlanByID(sub.PlanID); plan != nil {
			details["limits"] = plan.Limits
		}
		c.alert(ctx, &notify.Alert{
			Kind:     notify.KindUsageReport,
			TenantID: sub.TenantID,
			Title:    "Weekly usage report",
			Message:  fmt.Sprintf("Usage so far this period: %d users, %.1f GB storage, %d API calls.", snapshot.Users, snapshot.StorageGB, snapshot.APICalls),
			Details:  details,
		})
		return nil
	})
}

// runMonthlyBillingCycle invoices overages for the just-closed billing
// period across all active tenants.
func (c *Catalog) runMonthlyBillingCycle(ctx context.Context) error {
	tenants, err := c.store.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	period := usage.PreviousMonth(time.Now())
	errs := async.Batch(ctx, c.logger, tenants, c.batchWorkers, "monthly billing", 5*time.Minute, func(ctx context.Context, tenantID string) error {
		if _, err := c.usage.ProcessPeriod(ctx, tenantID, period); err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		return nil
	})
	return errors.Join(errs...)
}

// runStatusSync reconciles local subscription status against the payment
// provider's view, taking the provider as authoritative.
func (c *Catalog) runStatusSync(ctx context.Context) error {
	return c.eachTenant(ctx, func(sub *storage.Subscription) error {
		provider, err := c.gateway.RetrieveSubscription(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", sub.TenantID, err)
		}

		status, ok := providerStatus(provider.Status)
		if !ok || status == sub.Status {
			return nil
		}

		c.logger.WithFields(logrus.Fields{
			"tenant_id": sub.TenantID,
			"local":     string(sub.Status),
			"provider":  string(status),
		}).Warn("Subscription status drifted, syncing from provider")

		sub.Status = status
		if status == storage.SubscriptionCanceled && sub.CanceledAt == nil {
			now := time.Now()
			sub.CanceledAt = &now
		}
		if provider.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = provider.CurrentPeriodEnd
		}
		if err := c.store.UpsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("tenant %s: %w", sub.TenantID, err)
		}
		return c.store.RecordBillingEvent(ctx, &storage.BillingEvent{
			TenantID:  sub.TenantID,
			EventType: "subscription_status_synced",
			Data: map[string]interface{}{
				"status": string(status),
			},
			CreatedAt: time.Now(),
		})
	})
}

// runThresholdMonitoring warns tenants approaching a plan limit before they
// cross it.
func (c *Catalog) runThresholdMonitoring(ctx context.Context) error {
	period := usage.MonthOf(time.Now())
	return c.eachTenant(ctx, func(sub *storage.Subscription) error {
		snapshot, err := c.store.GetUsageSnapshot(ctx, sub.TenantID, period)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tenant %s: %w", sub.TenantID, err)
		}
		plan := billing.PlanByID(sub.PlanID)
		if plan == nil {
			return nil
		}

		approaching := map[string]interface{}{}
		if ratio, ok := utilization(float64(snapshot.Users), float64(plan.Limits.Users)); ok {
			approaching["users"] = ratio
		}
		if ratio, ok := utilization(snapshot.StorageGB, plan.Limits.StorageGB); ok {
			approaching["storage_gb"] = ratio
		}
		if ratio, ok := utilization(float64(snapshot.APICalls), float64(plan.Limits.APICalls)); ok {
			approaching["api_calls"] = ratio
		}
		if len(approaching) == 0 {
			return nil
		}

		c.alert(ctx, &notify.Alert{
			Kind:     notify.KindUsageThreshold,
			TenantID: sub.TenantID,
			Title:    "Approaching plan limits",
			Message:  fmt.Sprintf("Usage is above %d%% of your %s plan limits.", int(thresholdRatio*100), sub.PlanID),
			Details:  approaching,
		})
		return nil
	})
}

// eachTenant loads every active tenant's subscription and applies fn,
// collecting per-tenant errors instead of stopping at the first.
func (c *Catalog) eachTenant(ctx context.Context, fn func(sub *storage.Subscription) error) error {
	tenants, err := c.store.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	var errs []error
	for _, tenantID := range tenants {
		sub, err := c.store.GetSubscription(ctx, tenantID)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			continue
		}
		if err := fn(sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) alert(ctx context.Context, alert *notify.Alert) {
	if err := c.notifier.Notify(ctx, alert); err != nil {
		c.logger.WithError(err).WithField("alert_kind", string(alert.Kind)).Warn("Failed to dispatch alert")
	}
}

// daysUntil counts whole days from now to t, rounding partial days up.
func daysUntil(t time.Time) int {
	return int(math.Ceil(time.Until(t).Hours() / 24))
}

// utilization reports usage/limit when it is in the warning band: at or
// above the threshold ratio but not yet over the limit.
func utilization(used, limit float64) (float64, bool) {
	if limit <= 0 || limit == billing.Unlimited {
		return 0, false
	}
	ratio := used / limit
	if ratio >= thresholdRatio && used <= limit {
		return math.Round(ratio*100) / 100, true
	}
	return 0, false
}

// providerStatus maps a payment-provider status string onto the local
// subscription lifecycle.
func providerStatus(status string) (storage.SubscriptionStatus, bool) {
	switch status {
	case "trialing":
		return storage.SubscriptionTrialing, true
	case "active":
		return storage.SubscriptionActive, true
	case "past_due", "unpaid":
		return storage.SubscriptionPastDue, true
	case "canceled", "incomplete_expired":
		return storage.SubscriptionCanceled, true
	default:
		return "", false
	}
}
