package api

import (
	"github.com/tenantops/subkeeper/pkg/storage"
)

// CreateSubscriptionRequest is the body of POST /api/v1/tenants/{tenantID}/subscription
type CreateSubscriptionRequest struct {
	PlanID    string `json:"plan_id"`
	Interval  string `json:"interval,omitempty"`
	TrialDays int    `json:"trial_days,omitempty"`
}

// UpdateSubscriptionRequest is the body of PUT /api/v1/tenants/{tenantID}/subscription
type UpdateSubscriptionRequest struct {
	PlanID   string `json:"plan_id"`
	Interval string `json:"interval,omitempty"`
}

// UsageResponse combines a period's usage snapshot with the projected
// overage against the tenant's plan limits.
type UsageResponse struct {
	TenantID string                 `json:"tenant_id"`
	Period   storage.Period         `json:"period"`
	Snapshot *storage.UsageSnapshot `json:"snapshot,omitempty"`
	Overage  *storage.OverageCharge `json:"overage,omitempty"`
}

// TriggerJobResponse is the result of a manual job trigger.
type TriggerJobResponse struct {
	Job    string `json:"job"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func parseInterval(value string) (storage.BillingInterval, bool) {
	switch value {
	case "", string(storage.BillingMonthly):
		return storage.BillingMonthly, true
	case string(storage.BillingAnnual):
		return storage.BillingAnnual, true
	default:
		return "", false
	}
}
