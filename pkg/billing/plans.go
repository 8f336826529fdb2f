package billing

import "github.com/tenantops/subkeeper/pkg/storage"

// Unlimited marks a plan dimension with no cap.
const Unlimited = -1

// PlanLimits holds per-dimension usage limits for a plan.
type PlanLimits struct {
	Users     int     `json:"users"`
	StorageGB float64 `json:"storage_gb"`
	APICalls  int64   `json:"api_calls"`
}

// PlanPrice holds the price of a plan per billing interval, in dollars.
type PlanPrice struct {
	Monthly float64 `json:"monthly"`
	Annual  float64 `json:"annual"`
}

// GatewayPriceIDs holds the payment provider's price identifiers.
type GatewayPriceIDs struct {
	Monthly string `json:"monthly"`
	Annual  string `json:"annual"`
}

// Plan is a subscription plan from the static catalog.
type Plan struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Features        []string        `json:"features"`
	Price           PlanPrice       `json:"price"`
	Limits          PlanLimits      `json:"limits"`
	GatewayPriceIDs GatewayPriceIDs `json:"gateway_price_ids"`
}

// PriceFor returns the plan price for a billing interval.
func (p *Plan) PriceFor(interval storage.BillingInterval) float64 {
	if interval == storage.BillingAnnual {
		return p.Price.Annual
	}
	return p.Price.Monthly
}

// Plans returns the static plan catalog.
func Plans() []Plan {
	return []Plan{
		{
			ID:       "basic",
			Name:     "Basic Plan",
			Features: []string{"Core Features", "Basic Support", "API Access"},
			Price:    PlanPrice{Monthly: 99, Annual: 999},
			Limits:   PlanLimits{Users: 10, StorageGB: 50, APICalls: 10000},
			GatewayPriceIDs: GatewayPriceIDs{
				Monthly: "price_basic_monthly",
				Annual:  "price_basic_annual",
			},
		},
		{
			ID:       "professional",
			Name:     "Professional Plan",
			Features: []string{"All Basic Features", "Advanced Analytics", "Priority Support"},
			Price:    PlanPrice{Monthly: 299, Annual: 2999},
			Limits:   PlanLimits{Users: 50, StorageGB: 200, APICalls: 50000},
			GatewayPriceIDs: GatewayPriceIDs{
				Monthly: "price_pro_monthly",
				Annual:  "price_pro_annual",
			},
		},
		{
			ID:       "enterprise",
			Name:     "Enterprise Plan",
			Features: []string{"All Pro Features", "Custom Integrations", "Dedicated Support"},
			Price:    PlanPrice{Monthly: 999, Annual: 9999},
			Limits:   PlanLimits{Users: Unlimited, StorageGB: 1000, APICalls: Unlimited},
			GatewayPriceIDs: GatewayPriceIDs{
				Monthly: "price_ent_monthly",
				Annual:  "price_ent_annual",
			},
		},
	}
}

// PlanByID looks up a plan in the catalog. Returns nil when unknown.
func PlanByID(id string) *Plan {
	for _, plan := range Plans() {
		if plan.ID == id {
			return &plan
		}
	}
	return nil
}
