package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/subkeeper/pkg/gateway"
	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/storage"
	"github.com/tenantops/subkeeper/pkg/usage"
)

type capturingNotifier struct {
	mu     sync.Mutex
	alerts []*notify.Alert
}

func (n *capturingNotifier) Notify(ctx context.Context, alert *notify.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *capturingNotifier) byKind(kind notify.Kind) []*notify.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*notify.Alert
	for _, alert := range n.alerts {
		if alert.Kind == kind {
			out = append(out, alert)
		}
	}
	return out
}

type fakeSource struct {
	mu      sync.Mutex
	counts  map[string]*storage.UsageSnapshot
	failFor string
}

func (s *fakeSource) Collect(ctx context.Context, tenantID string) (int, float64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenantID == s.failFor {
		return 0, 0, 0, fmt.Errorf("metering backend unavailable")
	}
	counts, ok := s.counts[tenantID]
	if !ok {
		return 0, 0, 0, nil
	}
	return counts.Users, counts.StorageGB, counts.APICalls, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	subs     map[string]*gateway.ProviderSubscription
	invoices int
	failFor  string
}

func (g *fakeGateway) VerifySignature(signature string, body []byte) (*gateway.Event, error) {
	return nil, gateway.ErrInvalidSignature
}

func (g *fakeGateway) RetrieveSubscription(ctx context.Context, id string) (*gateway.ProviderSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id == g.failFor {
		return nil, fmt.Errorf("provider unavailable")
	}
	sub, ok := g.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s not found", id)
	}
	return sub, nil
}

func (g *fakeGateway) CreateInvoice(ctx context.Context, tenantID string, items []storage.LineItem) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices++
	return fmt.Sprintf("in_%d", g.invoices), nil
}

func (g *fakeGateway) PayInvoice(ctx context.Context, invoiceID string) error {
	return nil
}

type catalogFixture struct {
	catalog  *Catalog
	store    *storage.MemoryStore
	gateway  *fakeGateway
	notifier *capturingNotifier
	source   *fakeSource
}

func newCatalogFixture(t *testing.T) *catalogFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	store := storage.NewMemoryStore()
	gw := &fakeGateway{subs: make(map[string]*gateway.ProviderSubscription)}
	notifier := &capturingNotifier{}
	source := &fakeSource{counts: make(map[string]*storage.UsageSnapshot)}
	usageSvc := usage.NewService(store, gw, notifier, logger)

	return &catalogFixture{
		catalog:  NewCatalog(store, usageSvc, gw, notifier, source, logger),
		store:    store,
		gateway:  gw,
		notifier: notifier,
		source:   source,
	}
}

func (f *catalogFixture) addSubscription(t *testing.T, tenantID, planID string, status storage.SubscriptionStatus, periodEnd *time.Time) *storage.Subscription {
	t.Helper()
	sub := &storage.Subscription{
		ID:               "sub_" + tenantID,
		TenantID:         tenantID,
		PlanID:           planID,
		BillingPeriod:    storage.BillingMonthly,
		Status:           status,
		CurrentPeriodEnd: periodEnd,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	require.NoError(t, f.store.UpsertSubscription(context.Background(), sub))
	return sub
}

func timePtr(t time.Time) *time.Time { return &t }

func TestExpiryCheckAlertsAtThresholds(t *testing.T) {
	f := newCatalogFixture(t)
	now := time.Now()

	f.addSubscription(t, "tenant-30d", "basic", storage.SubscriptionActive, timePtr(now.Add(30*24*time.Hour)))
	f.addSubscription(t, "tenant-7d", "basic", storage.SubscriptionActive, timePtr(now.Add(7*24*time.Hour)))
	f.addSubscription(t, "tenant-1d", "basic", storage.SubscriptionActive, timePtr(now.Add(24*time.Hour)))
	f.addSubscription(t, "tenant-12d", "basic", storage.SubscriptionActive, timePtr(now.Add(12*24*time.Hour)))
	f.addSubscription(t, "tenant-no-end", "basic", storage.SubscriptionActive, nil)

	require.NoError(t, f.catalog.runExpiryCheck(context.Background()))

	alerts := f.notifier.byKind(notify.KindSubscriptionExpiring)
	require.Len(t, alerts, 3)

	severities := make(map[string]notify.Severity)
	for _, alert := range alerts {
		severities[alert.TenantID] = alert.Severity
	}
	assert.Equal(t, notify.SeverityInfo, severities["tenant-30d"])
	assert.Equal(t, notify.SeverityWarning, severities["tenant-7d"])
	assert.Equal(t, notify.SeverityCritical, severities["tenant-1d"])
	assert.NotContains(t, severities, "tenant-12d")
	assert.NotContains(t, severities, "tenant-no-end")
}

func TestUsageAggregationRecordsSnapshots(t *testing.T) {
	f := newCatalogFixture(t)
	f.addSubscription(t, "tenant-a", "basic", storage.SubscriptionActive, nil)
	f.addSubscription(t, "tenant-b", "basic", storage.SubscriptionActive, nil)
	f.source.counts["tenant-a"] = &storage.UsageSnapshot{Users: 4, StorageGB: 12.5, APICalls: 900}
	f.source.counts["tenant-b"] = &storage.UsageSnapshot{Users: 9, StorageGB: 44, APICalls: 8000}

	require.NoError(t, f.catalog.runUsageAggregation(context.Background()))

	period := usage.MonthOf(time.Now())
	snapshot, err := f.store.GetUsageSnapshot(context.Background(), "tenant-a", period)
	require.NoError(t, err)
	assert.Equal(t, 4, snapshot.Users)
	assert.Equal(t, 12.5, snapshot.StorageGB)
	assert.Equal(t, int64(900), snapshot.APICalls)

	snapshot, err = f.store.GetUsageSnapshot(context.Background(), "tenant-b", period)
	require.NoError(t, err)
	assert.Equal(t, 9, snapshot.Users)
}

func TestUsageAggregationPartialFailure(t *testing.T) {
	f := newCatalogFixture(t)
	f.addSubscription(t, "tenant-ok", "basic", storage.SubscriptionActive, nil)
	f.addSubscription(t, "tenant-broken", "basic", storage.SubscriptionActive, nil)
	f.source.counts["tenant-ok"] = &storage.UsageSnapshot{Users: 3}
	f.source.failFor = "tenant-broken"

	err := f.catalog.runUsageAggregation(context.Background())
	require.Error(t, err)

	// The healthy tenant is still aggregated.
	snapshot, err := f.store.GetUsageSnapshot(context.Background(), "tenant-ok", usage.MonthOf(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 3, snapshot.Users)
}

func TestRenewalRemindersWindow(t *testing.T) {
	f := newCatalogFixture(t)
	now := time.Now()

	f.addSubscription(t, "tenant-soon", "basic", storage.SubscriptionActive, timePtr(now.Add(5*24*time.Hour)))
	f.addSubscription(t, "tenant-far", "basic", storage.SubscriptionActive, timePtr(now.Add(20*24*time.Hour)))
	f.addSubscription(t, "tenant-trial", "basic", storage.SubscriptionTrialing, timePtr(now.Add(5*24*time.Hour)))

	require.NoError(t, f.catalog.runRenewalReminders(context.Background()))

	alerts := f.notifier.byKind(notify.KindRenewalReminder)
	require.Len(t, alerts, 1)
	assert.Equal(t, "tenant-soon", alerts[0].TenantID)
	assert.Equal(t, 99.0, alerts[0].Details["amount"])
}

func TestComplianceCheckFlagsOverage(t *testing.T) {
	f := newCatalogFixture(t)
	f.addSubscription(t, "tenant-over", "basic", storage.SubscriptionActive, nil)
	f.addSubscription(t, "tenant-within", "basic", storage.SubscriptionActive, nil)

	period := usage.MonthOf(time.Now())
	require.NoError(t, f.store.RecordUsageSnapshot(context.Background(), &storage.UsageSnapshot{
		TenantID: "tenant-over", Period: period, Users: 13, StorageGB: 20, APICalls: 500,
	}))
	require.NoError(t, f.store.RecordUsageSnapshot(context.Background(), &storage.UsageSnapshot{
		TenantID: "tenant-within", Period: period, Users: 5, StorageGB: 20, APICalls: 500,
	}))

	require.NoError(t, f.catalog.runComplianceCheck(context.Background()))

	alerts := f.notifier.byKind(notify.KindComplianceViolation)
	require.Len(t, alerts, 1)
	assert.Equal(t, "tenant-over", alerts[0].TenantID)
	assert.Equal(t, 30.0, alerts[0].Details["projected_overage"])
}

func TestWeeklyUsageReport(t *testing.T) {
	f := newCatalogFixture(t)
	f.addSubscription(t, "tenant-reported", "basic", storage.SubscriptionActive, nil)
	f.addSubscription(t, "tenant-silent", "basic", storage.SubscriptionActive, nil)

	require.NoError(t, f.store.RecordUsageSnapshot(context.Background(), &storage.UsageSnapshot{
		TenantID: "tenant-reported", Period: usage.MonthOf(time.Now()), Users: 6, StorageGB: 30, APICalls: 4000,
	}))

	require.NoError(t, f.catalog.runWeeklyUsageReport(context.Background()))

	alerts := f.notifier.byKind(notify.KindUsageReport)
	require.Len(t, alerts, 1)
	assert.Equal(t, "tenant-reported", alerts[0].TenantID)
	assert.Equal(t, 6, alerts[0].Details["users"])
}

func TestMonthlyBillingCycleInvoicesAndStaysIdempotent(t *testing.T) {
	f := newCatalogFixture(t)
	f.addSubscription(t, "tenant-over", "basic", storage.SubscriptionActive, nil)

	period := usage.PreviousMonth(time.Now())
	require.NoError(t, f.store.RecordUsageSnapshot(context.Background(), &storage.UsageSnapshot{
		TenantID: "tenant-over", Period: period, Users: 12, StorageGB: 10, APICalls: 100,
	}))

	require.NoError(t, f.catalog.runMonthlyBillingCycle(context.Background()))

	charged, err := f.store.HasOverageCharge(context.Background(), "tenant-over", period)
	require.NoError(t, err)
	assert.True(t, charged)
	assert.Equal(t, 1, f.gateway.invoices)

	// A rerun of the cycle must not double-invoice the same period.
	require.NoError(t, f.catalog.runMonthlyBillingCycle(context.Background()))
	assert.Equal(t, 1, f.gateway.invoices)
}

func TestStatusSyncReconcilesDrift(t *testing.T) {
	f := newCatalogFixture(t)
	drifted := f.addSubscription(t, "tenant-drift", "basic", storage.SubscriptionActive, nil)
	f.addSubscription(t, "tenant-steady", "basic", storage.SubscriptionActive, nil)

	periodEnd := time.Now().Add(20 * 24 * time.Hour)
	f.gateway.subs[drifted.ID] = &gateway.ProviderSubscription{
		ID:               drifted.ID,
		Status:           "past_due",
		CurrentPeriodEnd: &periodEnd,
	}
	f.gateway.subs["sub_tenant-steady"] = &gateway.ProviderSubscription{
		ID:     "sub_tenant-steady",
		Status: "active",
	}

	require.NoError(t, f.catalog.runStatusSync(context.Background()))

	sub, err := f.store.GetSubscription(context.Background(), "tenant-drift")
	require.NoError(t, err)
	assert.Equal(t, storage.SubscriptionPastDue, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.WithinDuration(t, periodEnd, *sub.CurrentPeriodEnd, time.Second)

	sub, err = f.store.GetSubscription(context.Background(), "tenant-steady")
	require.NoError(t, err)
	assert.Equal(t, storage.SubscriptionActive, sub.Status)
}

func TestStatusSyncMarksCancellation(t *testing.T) {
	f := newCatalogFixture(t)
	sub := f.addSubscription(t, "tenant-gone", "basic", storage.SubscriptionActive, nil)
	f.gateway.subs[sub.ID] = &gateway.ProviderSubscription{ID: sub.ID, Status: "canceled"}

	require.NoError(t, f.catalog.runStatusSync(context.Background()))

	got, err := f.store.GetSubscription(context.Background(), "tenant-gone")
	require.NoError(t, err)
	assert.Equal(t, storage.SubscriptionCanceled, got.Status)
	assert.NotNil(t, got.CanceledAt)
}

func TestStatusSyncProviderFailure(t *testing.T) {
	f := newCatalogFixture(t)
	broken := f.addSubscription(t, "tenant-broken", "basic", storage.SubscriptionActive, nil)
	healthy := f.addSubscription(t, "tenant-healthy", "basic", storage.SubscriptionActive, nil)

	f.gateway.failFor = broken.ID
	f.gateway.subs[healthy.ID] = &gateway.ProviderSubscription{ID: healthy.ID, Status: "past_due"}

	err := f.catalog.runStatusSync(context.Background())
	require.Error(t, err)

	// The reachable tenant still gets reconciled.
	sub, serr := f.store.GetSubscription(context.Background(), "tenant-healthy")
	require.NoError(t, serr)
	assert.Equal(t, storage.SubscriptionPastDue, sub.Status)
}

func TestThresholdMonitoringWarnsNearLimit(t *testing.T) {
	f := newCatalogFixture(t)
	f.addSubscription(t, "tenant-near", "basic", storage.SubscriptionActive, nil)
	f.addSubscription(t, "tenant-low", "basic", storage.SubscriptionActive, nil)
	f.addSubscription(t, "tenant-over", "basic", storage.SubscriptionActive, nil)
	f.addSubscription(t, "tenant-unlimited", "enterprise", storage.SubscriptionActive, nil)

	period := usage.MonthOf(time.Now())
	for _, snapshot := range []*storage.UsageSnapshot{
		{TenantID: "tenant-near", Period: period, Users: 9, StorageGB: 10, APICalls: 100},
		{TenantID: "tenant-low", Period: period, Users: 4, StorageGB: 10, APICalls: 100},
		{TenantID: "tenant-over", Period: period, Users: 14, StorageGB: 10, APICalls: 100},
		{TenantID: "tenant-unlimited", Period: period, Users: 900, StorageGB: 10, APICalls: 9000000},
	} {
		require.NoError(t, f.store.RecordUsageSnapshot(context.Background(), snapshot))
	}

	require.NoError(t, f.catalog.runThresholdMonitoring(context.Background()))

	alerts := f.notifier.byKind(notify.KindUsageThreshold)
	require.Len(t, alerts, 1)
	assert.Equal(t, "tenant-near", alerts[0].TenantID)
	assert.Contains(t, alerts[0].Details, "users")
	assert.NotContains(t, alerts[0].Details, "storage_gb")
}

func TestDaysUntilRoundsUp(t *testing.T) {
	assert.Equal(t, 1, daysUntil(time.Now().Add(20*time.Hour)))
	assert.Equal(t, 7, daysUntil(time.Now().Add(7*24*time.Hour)))
	assert.LessOrEqual(t, daysUntil(time.Now().Add(-time.Hour)), 0)
}
