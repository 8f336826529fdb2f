package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tenantops/subkeeper/pkg/billing"
	"github.com/tenantops/subkeeper/pkg/httputil"
	"github.com/tenantops/subkeeper/pkg/storage"
	"github.com/tenantops/subkeeper/pkg/usage"
)

// listPlans handles GET /api/v1/plans
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, billing.Plans())
}

// getPlan handles GET /api/v1/plans/{planID}
func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := httputil.ParsePathStringOrError(w, r, "planID")
	if !ok {
		return
	}
	plan := billing.PlanByID(planID)
	if plan == nil {
		httputil.WriteNotFoundError(w, fmt.Sprintf("plan %s not found", planID))
		return
	}
	httputil.WriteSuccess(w, plan)
}

// createSubscription handles POST /api/v1/tenants/{tenantID}/subscription
func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	var req CreateSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") {
		return
	}
	interval, ok := parseInterval(req.Interval)
	if !ok {
		httputil.WriteValidationError(w, fmt.Sprintf("invalid interval: %s", req.Interval))
		return
	}
	if req.TrialDays < 0 {
		httputil.WriteValidationError(w, "trial_days must not be negative")
		return
	}

	// A live subscription cannot be replaced through this endpoint.
	if existing, err := s.store.GetSubscription(r.Context(), tenantID); err == nil {
		if existing.Status != storage.SubscriptionCanceled {
			httputil.WriteConflict(w, fmt.Sprintf("tenant %s already has a subscription", tenantID))
			return
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		httputil.WriteInternalError(w, err)
		return
	}

	sub, err := s.billing.CreateSubscription(r.Context(), tenantID, req.PlanID, interval, req.TrialDays)
	if err != nil {
		if errors.Is(err, billing.ErrPlanNotFound) {
			httputil.WriteNotFoundError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, sub)
}

// getSubscription handles GET /api/v1/tenants/{tenantID}/subscription
func (s *Server) getSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	sub, err := s.store.GetSubscription(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteNotFoundError(w, fmt.Sprintf("tenant %s has no subscription", tenantID))
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// updateSubscription handles PUT /api/v1/tenants/{tenantID}/subscription
func (s *Server) updateSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	var req UpdateSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") {
		return
	}
	interval, ok := parseInterval(req.Interval)
	if !ok {
		httputil.WriteValidationError(w, fmt.Sprintf("invalid interval: %s", req.Interval))
		return
	}

	sub, err := s.billing.UpdateSubscription(r.Context(), tenantID, req.PlanID, interval)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrPlanNotFound):
			httputil.WriteNotFoundError(w, err.Error())
		case errors.Is(err, storage.ErrNotFound):
			httputil.WriteNotFoundError(w, fmt.Sprintf("tenant %s has no subscription", tenantID))
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}
	httputil.WriteSuccess(w, sub)
}

// cancelSubscription handles DELETE /api/v1/tenants/{tenantID}/subscription.
// By default the subscription runs out at the end of the paid period; pass
// ?immediately=true to cancel on the spot.
func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}
	immediately, err := httputil.ParseQueryBool(r, "immediately", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := s.billing.CancelSubscription(r.Context(), tenantID, immediately); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteNotFoundError(w, fmt.Sprintf("tenant %s has no subscription", tenantID))
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// getUsage handles GET /api/v1/tenants/{tenantID}/usage. The period query
// parameter takes YYYY-MM and defaults to the current month.
func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
	if !ok {
		return
	}

	period := usage.MonthOf(time.Now())
	if raw := httputil.ParseQueryString(r, "period", ""); raw != "" {
		start, err := time.Parse("2006-01", raw)
		if err != nil {
			httputil.WriteValidationError(w, fmt.Sprintf("invalid period %q, expected YYYY-MM", raw))
			return
		}
		period = usage.MonthOf(start)
	}

	response := UsageResponse{TenantID: tenantID, Period: period}

	snapshot, err := s.store.GetUsageSnapshot(r.Context(), tenantID, period)
	switch {
	case err == nil:
		response.Snapshot = snapshot
	case errors.Is(err, storage.ErrNotFound):
		// No snapshot yet; report the empty period.
	default:
		httputil.WriteInternalError(w, err)
		return
	}

	overage, err := s.usage.CalculateOverage(r.Context(), tenantID, period)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteNotFoundError(w, fmt.Sprintf("tenant %s has no subscription", tenantID))
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	response.Overage = overage

	httputil.WriteSuccess(w, response)
}
