package usage

import (
	"context"
	"time"

	"github.com/tenantops/subkeeper/pkg/storage"
)

// Source supplies raw usage counts for a tenant. Implementations pull from
// the platform's own datastores; the aggregation job records the result as
// the tenant's snapshot for the current billing period.
type Source interface {
	Collect(ctx context.Context, tenantID string) (users int, storageGB float64, apiCalls int64, err error)
}

// MonthOf returns the calendar-month billing period containing t.
func MonthOf(t time.Time) storage.Period {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return storage.Period{
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}

// PreviousMonth returns the calendar-month billing period before the one
// containing t.
func PreviousMonth(t time.Time) storage.Period {
	return MonthOf(MonthOf(t).Start.AddDate(0, 0, -1))
}
