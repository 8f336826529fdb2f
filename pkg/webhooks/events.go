package webhooks

import (
	"time"

	"github.com/tenantops/subkeeper/pkg/storage"
)

// EventKind identifies the handled payment-provider event types. Types the
// processor does not recognize map to EventUnknown and are acknowledged as
// no-ops rather than rejected.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventTrialWillEnd
	EventPaymentSucceeded
	EventPaymentFailed
	EventCheckoutCompleted
	EventCustomerCreated
	EventCustomerUpdated
	EventCustomerDeleted
)

var eventKinds = map[string]EventKind{
	"customer.subscription.created":        EventSubscriptionCreated,
	"customer.subscription.updated":        EventSubscriptionUpdated,
	"customer.subscription.deleted":        EventSubscriptionDeleted,
	"customer.subscription.trial_will_end": EventTrialWillEnd,
	"invoice.payment_succeeded":            EventPaymentSucceeded,
	"invoice.payment_failed":               EventPaymentFailed,
	"checkout.session.completed":           EventCheckoutCompleted,
	"customer.created":                     EventCustomerCreated,
	"customer.updated":                     EventCustomerUpdated,
	"customer.deleted":                     EventCustomerDeleted,
}

// KindOf maps a provider event type string to its EventKind.
func KindOf(eventType string) EventKind {
	if kind, ok := eventKinds[eventType]; ok {
		return kind
	}
	return EventUnknown
}

// subscriptionData is the payload of subscription lifecycle events.
type subscriptionData struct {
	TenantID         string                  `json:"tenant_id"`
	PlanID           string                  `json:"plan_id"`
	Interval         storage.BillingInterval `json:"interval"`
	TrialEnd         *time.Time              `json:"trial_end,omitempty"`
	CurrentPeriodEnd *time.Time              `json:"current_period_end,omitempty"`
}

// invoiceData is the payload of invoice payment events.
type invoiceData struct {
	TenantID  string  `json:"tenant_id"`
	InvoiceID string  `json:"invoice_id"`
	Amount    float64 `json:"amount"`
	RetryURL  string  `json:"retry_url,omitempty"`
}

// checkoutData is the payload of completed checkout sessions.
type checkoutData struct {
	TenantID  string                  `json:"tenant_id"`
	SessionID string                  `json:"session_id"`
	PlanID    string                  `json:"plan_id"`
	Interval  storage.BillingInterval `json:"interval"`
	TrialDays int                     `json:"trial_days,omitempty"`
}

// customerData is the payload of customer record events.
type customerData struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}
