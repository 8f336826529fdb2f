package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used in development and tests. It mirrors
// PostgresStore semantics, including upsert-by-key behavior.
type MemoryStore struct {
	mu             sync.RWMutex
	executions     map[string]*JobExecution
	healthChecks   []*HealthCheckResult
	webhookEvents  map[string]*WebhookEventRecord
	subscriptions  map[string]*Subscription
	usageSnapshots map[string]*UsageSnapshot
	overageCharges map[string]*OverageCharge
	billingEvents  []*BillingEvent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions:     make(map[string]*JobExecution),
		webhookEvents:  make(map[string]*WebhookEventRecord),
		subscriptions:  make(map[string]*Subscription),
		usageSnapshots: make(map[string]*UsageSnapshot),
		overageCharges: make(map[string]*OverageCharge),
	}
}

func (s *MemoryStore) RecordExecution(_ context.Context, execution *JobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *execution
	s.executions[execution.ID] = &copied
	return nil
}

func (s *MemoryStore) ExecutionHistory(_ context.Context, jobName string, limit int) ([]*JobExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*JobExecution
	for _, execution := range s.executions {
		if execution.JobName == jobName {
			copied := *execution
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) RecordHealthCheck(_ context.Context, result *HealthCheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *result
	s.healthChecks = append(s.healthChecks, &copied)
	return nil
}

// HealthChecks returns all recorded health sweeps. Test helper.
func (s *MemoryStore) HealthChecks() []*HealthCheckResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*HealthCheckResult(nil), s.healthChecks...)
}

func (s *MemoryStore) UpsertWebhookEvent(_ context.Context, event *WebhookEventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *event
	if existing, ok := s.webhookEvents[event.ID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	copied.UpdatedAt = time.Now()
	s.webhookEvents[event.ID] = &copied
	return nil
}

func (s *MemoryStore) GetWebhookEvent(_ context.Context, id string) (*WebhookEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.webhookEvents[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *event
	return &copied, nil
}

func (s *MemoryStore) PendingWebhookRetries(_ context.Context, before time.Time) ([]*WebhookEventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*WebhookEventRecord
	for _, event := range s.webhookEvents {
		if event.Status == WebhookEventPending && event.NextRetryAt != nil && !event.NextRetryAt.After(before) {
			copied := *event
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].NextRetryAt.Before(*result[j].NextRetryAt)
	})
	return result, nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, tenantID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (s *MemoryStore) UpsertSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *sub
	if existing, ok := s.subscriptions[sub.TenantID]; ok {
		copied.CreatedAt = existing.CreatedAt
	} else if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	copied.UpdatedAt = time.Now()
	s.subscriptions[sub.TenantID] = &copied
	return nil
}

func (s *MemoryStore) RecordUsageSnapshot(_ context.Context, snapshot *UsageSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *snapshot
	s.usageSnapshots[usageKey(snapshot.TenantID, snapshot.Period)] = &copied
	return nil
}

func (s *MemoryStore) GetUsageSnapshot(_ context.Context, tenantID string, period Period) (*UsageSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.usageSnapshots[usageKey(tenantID, period)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *snapshot
	return &copied, nil
}

func (s *MemoryStore) ListActiveTenants(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tenants []string
	for tenantID, sub := range s.subscriptions {
		if sub.Status != SubscriptionCanceled {
			tenants = append(tenants, tenantID)
		}
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *MemoryStore) RecordOverageCharge(_ context.Context, charge *OverageCharge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(charge.TenantID, charge.Period)
	if _, ok := s.overageCharges[key]; ok {
		// Natural key conflict: keep the first charge, like ON CONFLICT DO NOTHING.
		return nil
	}
	copied := *charge
	s.overageCharges[key] = &copied
	return nil
}

func (s *MemoryStore) HasOverageCharge(_ context.Context, tenantID string, period Period) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.overageCharges[usageKey(tenantID, period)]
	return ok, nil
}

func (s *MemoryStore) RecordBillingEvent(_ context.Context, event *BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now()
	}
	s.billingEvents = append(s.billingEvents, &copied)
	return nil
}

// BillingEvents returns all recorded billing events. Test helper.
func (s *MemoryStore) BillingEvents() []*BillingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*BillingEvent(nil), s.billingEvents...)
}

func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func usageKey(tenantID string, period Period) string {
	return tenantID + "|" + period.Start.UTC().Format(time.RFC3339) + "|" + period.End.UTC().Format(time.RFC3339)
}
