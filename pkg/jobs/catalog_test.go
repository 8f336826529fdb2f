package jobs

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/subkeeper/pkg/scheduler"
	"github.com/tenantops/subkeeper/pkg/storage"
)

func newTestScheduler(t *testing.T, notifier *capturingNotifier) *scheduler.Scheduler {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	tracker := scheduler.NewExecutionTracker(storage.NewMemoryStore(), notifier, nil, logger)
	return scheduler.New(tracker, notifier, logger, time.UTC)
}

func TestRegisterWiresFullCatalog(t *testing.T) {
	f := newCatalogFixture(t)
	s := newTestScheduler(t, f.notifier)

	require.NoError(t, f.catalog.Register(s))

	statuses := s.Status()
	require.Len(t, statuses, 8)

	byName := make(map[string]scheduler.JobStatus)
	for _, status := range statuses {
		byName[status.Name] = status
	}

	for _, name := range []string{
		JobLicenseExpiryCheck,
		JobUsageDataAggregation,
		JobRenewalReminders,
		JobLicenseComplianceCheck,
		JobWeeklyUsageReport,
		JobMonthlyBillingCycle,
		JobLicenseStatusSync,
		JobUsageThresholdMonitoring,
	} {
		assert.Contains(t, byName, name)
	}

	assert.True(t, byName[JobLicenseExpiryCheck].Critical)
	assert.True(t, byName[JobLicenseComplianceCheck].Critical)
	assert.True(t, byName[JobLicenseStatusSync].Critical)
	assert.True(t, byName[JobMonthlyBillingCycle].Critical)
	assert.False(t, byName[JobRenewalReminders].Critical)

	assert.True(t, byName[JobMonthlyBillingCycle].SkipIfRunning)
	assert.False(t, byName[JobLicenseExpiryCheck].SkipIfRunning)

	assert.Equal(t, "0 2 * * *", byName[JobLicenseExpiryCheck].Schedule)
	assert.Equal(t, "0 0 1 * *", byName[JobMonthlyBillingCycle].Schedule)
}

func TestRegisterDisablesAggregationWithoutSource(t *testing.T) {
	f := newCatalogFixture(t)
	f.catalog.source = nil
	s := newTestScheduler(t, f.notifier)

	require.NoError(t, f.catalog.Register(s))
	require.NoError(t, s.Start())
	defer s.Stop()

	byName := make(map[string]scheduler.JobStatus)
	for _, status := range s.Status() {
		byName[status.Name] = status
	}

	assert.False(t, byName[JobUsageDataAggregation].Scheduled)
	assert.True(t, byName[JobLicenseExpiryCheck].Scheduled)
}

func TestRegisterRejectsDuplicateRegistration(t *testing.T) {
	f := newCatalogFixture(t)
	s := newTestScheduler(t, f.notifier)

	require.NoError(t, f.catalog.Register(s))
	assert.Error(t, f.catalog.Register(s))
}
