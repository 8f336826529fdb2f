package usage

import (
	"fmt"
	"math"
	"time"

	"github.com/tenantops/subkeeper/pkg/billing"
	"github.com/tenantops/subkeeper/pkg/storage"
)

// Per-unit overage rates, in dollars.
const (
	RatePerExtraUser      = 10.0
	RatePerExtraStorageGB = 0.50
	RatePerExtraAPICallsK = 0.10
)

// Calculate compares a usage snapshot against plan limits and returns the
// resulting overage charge. A limit of billing.Unlimited exempts that
// dimension. The returned charge has no line items and a zero total when
// usage is within limits.
func Calculate(snapshot *storage.UsageSnapshot, limits billing.PlanLimits) *storage.OverageCharge {
	charge := &storage.OverageCharge{
		TenantID:  snapshot.TenantID,
		Period:    snapshot.Period,
		CreatedAt: time.Now(),
	}

	if limits.Users != billing.Unlimited && snapshot.Users > limits.Users {
		extra := snapshot.Users - limits.Users
		charge.Items = append(charge.Items, storage.LineItem{
			Description: fmt.Sprintf("Extra users (%d)", extra),
			Amount:      float64(extra) * RatePerExtraUser,
		})
	}

	if limits.StorageGB != billing.Unlimited && snapshot.StorageGB > limits.StorageGB {
		extra := snapshot.StorageGB - limits.StorageGB
		charge.Items = append(charge.Items, storage.LineItem{
			Description: fmt.Sprintf("Extra storage (%.2f GB)", extra),
			Amount:      extra * RatePerExtraStorageGB,
		})
	}

	if limits.APICalls != billing.Unlimited && snapshot.APICalls > limits.APICalls {
		extra := snapshot.APICalls - limits.APICalls
		// Billed per started block of 1000 calls.
		blocks := math.Ceil(float64(extra) / 1000)
		charge.Items = append(charge.Items, storage.LineItem{
			Description: fmt.Sprintf("Extra API calls (%d)", extra),
			Amount:      blocks * RatePerExtraAPICallsK,
		})
	}

	for _, item := range charge.Items {
		charge.Total += item.Amount
	}
	return charge
}
