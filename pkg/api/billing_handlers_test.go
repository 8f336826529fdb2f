package api

import (
	"bytes"
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/subkeeper/pkg/billing"
	"github.com/tenantops/subkeeper/pkg/storage"
	"github.com/tenantops/subkeeper/pkg/usage"
)

func TestListPlans(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, "GET", "/api/v1/plans", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var plans []billing.Plan
	decodeBody(t, w, &plans)
	require.Len(t, plans, 3)
	assert.Equal(t, "basic", plans[0].ID)
}

func TestGetPlan(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, "GET", "/api/v1/plans/professional", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var plan billing.Plan
	decodeBody(t, w, &plan)
	assert.Equal(t, "Professional Plan", plan.Name)

	w = f.do(t, "GET", "/api/v1/plans/platinum", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSubscription(t *testing.T) {
	f := newServerFixture(t)

	body := bytes.NewBufferString(`{"plan_id":"basic","interval":"monthly","trial_days":14}`)
	w := f.do(t, "POST", "/api/v1/tenants/tenant-1/subscription", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var sub storage.Subscription
	decodeBody(t, w, &sub)
	assert.Equal(t, "tenant-1", sub.TenantID)
	assert.Equal(t, storage.SubscriptionTrialing, sub.Status)
	assert.NotNil(t, sub.TrialEnd)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	f := newServerFixture(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing plan", `{}`, http.StatusBadRequest},
		{"bad interval", `{"plan_id":"basic","interval":"weekly"}`, http.StatusBadRequest},
		{"negative trial", `{"plan_id":"basic","trial_days":-1}`, http.StatusBadRequest},
		{"unknown plan", `{"plan_id":"platinum"}`, http.StatusNotFound},
		{"broken json", `{broken`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/api/v1/tenants/tenant-1/subscription", bytes.NewBufferString(tt.body))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestCreateSubscriptionConflict(t *testing.T) {
	f := newServerFixture(t)

	body := bytes.NewBufferString(`{"plan_id":"basic"}`)
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/api/v1/tenants/tenant-1/subscription", body).Code)

	body = bytes.NewBufferString(`{"plan_id":"professional"}`)
	assert.Equal(t, http.StatusConflict, f.do(t, "POST", "/api/v1/tenants/tenant-1/subscription", body).Code)
}

func TestGetSubscription(t *testing.T) {
	f := newServerFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", "/api/v1/tenants/tenant-1/subscription", nil).Code)

	body := bytes.NewBufferString(`{"plan_id":"basic"}`)
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/api/v1/tenants/tenant-1/subscription", body).Code)

	w := f.do(t, "GET", "/api/v1/tenants/tenant-1/subscription", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sub storage.Subscription
	decodeBody(t, w, &sub)
	assert.Equal(t, "basic", sub.PlanID)
}

func TestUpdateSubscription(t *testing.T) {
	f := newServerFixture(t)

	body := bytes.NewBufferString(`{"plan_id":"basic"}`)
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/api/v1/tenants/tenant-1/subscription", body).Code)

	body = bytes.NewBufferString(`{"plan_id":"professional","interval":"annual"}`)
	w := f.do(t, "PUT", "/api/v1/tenants/tenant-1/subscription", body)
	require.Equal(t, http.StatusOK, w.Code)

	var sub storage.Subscription
	decodeBody(t, w, &sub)
	assert.Equal(t, "professional", sub.PlanID)
	assert.Equal(t, storage.BillingAnnual, sub.BillingPeriod)

	// Updating a tenant without a subscription is a 404.
	body = bytes.NewBufferString(`{"plan_id":"basic"}`)
	assert.Equal(t, http.StatusNotFound, f.do(t, "PUT", "/api/v1/tenants/tenant-2/subscription", body).Code)
}

func TestCancelSubscription(t *testing.T) {
	f := newServerFixture(t)

	body := bytes.NewBufferString(`{"plan_id":"basic"}`)
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/api/v1/tenants/tenant-1/subscription", body).Code)

	// Default cancellation runs out at period end; status is unchanged.
	w := f.do(t, "DELETE", "/api/v1/tenants/tenant-1/subscription", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	sub, err := f.store.GetSubscription(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, storage.SubscriptionActive, sub.Status)

	// Immediate cancellation transitions to canceled.
	w = f.do(t, "DELETE", "/api/v1/tenants/tenant-1/subscription?immediately=true", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	sub, err = f.store.GetSubscription(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, storage.SubscriptionCanceled, sub.Status)
}

func TestCancelSubscriptionNotFound(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, "DELETE", "/api/v1/tenants/tenant-1/subscription", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetUsage(t *testing.T) {
	f := newServerFixture(t)

	body := bytes.NewBufferString(`{"plan_id":"basic"}`)
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/api/v1/tenants/tenant-1/subscription", body).Code)

	period := usage.MonthOf(time.Now())
	require.NoError(t, f.store.RecordUsageSnapshot(context.Background(), &storage.UsageSnapshot{
		TenantID: "tenant-1",
		Period:   period,
		Users:    12,
	}))

	w := f.do(t, "GET", "/api/v1/tenants/tenant-1/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response UsageResponse
	decodeBody(t, w, &response)
	require.NotNil(t, response.Snapshot)
	assert.Equal(t, 12, response.Snapshot.Users)
	require.NotNil(t, response.Overage)
	assert.Equal(t, 20.0, response.Overage.Total)
}

func TestGetUsageExplicitPeriod(t *testing.T) {
	f := newServerFixture(t)

	body := bytes.NewBufferString(`{"plan_id":"basic"}`)
	require.Equal(t, http.StatusCreated, f.do(t, "POST", "/api/v1/tenants/tenant-1/subscription", body).Code)

	// No snapshot for that month: empty response, zero overage.
	w := f.do(t, "GET", "/api/v1/tenants/tenant-1/usage?period=2026-01", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var response UsageResponse
	decodeBody(t, w, &response)
	assert.Nil(t, response.Snapshot)
	require.NotNil(t, response.Overage)
	assert.Zero(t, response.Overage.Total)

	w = f.do(t, "GET", "/api/v1/tenants/tenant-1/usage?period=january", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUsageWithoutSubscription(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, "GET", "/api/v1/tenants/tenant-1/usage", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
