package jobs

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/gateway"
	"github.com/tenantops/subkeeper/pkg/notify"
	"github.com/tenantops/subkeeper/pkg/scheduler"
	"github.com/tenantops/subkeeper/pkg/storage"
	"github.com/tenantops/subkeeper/pkg/usage"
)

// Job names. These appear in execution records, alerts, and the status API.
const (
	JobLicenseExpiryCheck       = "license-expiry-check"
	JobUsageDataAggregation     = "usage-data-aggregation"
	JobRenewalReminders         = "renewal-reminders"
	JobLicenseComplianceCheck   = "license-compliance-check"
	JobWeeklyUsageReport        = "weekly-usage-report"
	JobMonthlyBillingCycle      = "monthly-billing-cycle"
	JobLicenseStatusSync        = "license-status-sync"
	JobUsageThresholdMonitoring = "usage-threshold-monitoring"
)

// Catalog owns the production job handlers and their shared collaborators.
// Source may be nil; the aggregation job is then registered disabled.
type Catalog struct {
	store    storage.Store
	usage    *usage.Service
	gateway  gateway.Gateway
	notifier notify.Notifier
	source   usage.Source
	logger   *logrus.Logger

	// batchWorkers bounds per-tenant fan-out inside job handlers.
	batchWorkers int
}

// NewCatalog creates the job catalog.
func NewCatalog(store storage.Store, usageSvc *usage.Service, gw gateway.Gateway, notifier notify.Notifier, source usage.Source, logger *logrus.Logger) *Catalog {
	return &Catalog{
		store:        store,
		usage:        usageSvc,
		gateway:      gw,
		notifier:     notifier,
		source:       source,
		logger:       logger,
		batchWorkers: 8,
	}
}

// Register wires the full job catalog into the scheduler with its production
// schedules. Failures of jobs on the critical list page the operators
// immediately; the rest only show up in execution history and health sweeps.
func (c *Catalog) Register(s *scheduler.Scheduler) error {
	definitions := []scheduler.Job{
		{
			Name:     JobLicenseExpiryCheck,
			Schedule: "0 2 * * *",
			Critical: true,
			Handler:  c.runExpiryCheck,
		},
		{
			Name:     JobUsageDataAggregation,
			Schedule: "0 1 * * *",
			Handler:  c.runUsageAggregation,
			Disabled: c.source == nil,
		},
		{
			Name:     JobRenewalReminders,
			Schedule: "0 9 * * *",
			Handler:  c.runRenewalReminders,
		},
		{
			Name:     JobLicenseComplianceCheck,
			Schedule: "0 3 * * *",
			Critical: true,
			Handler:  c.runComplianceCheck,
		},
		{
			Name:     JobWeeklyUsageReport,
			Schedule: "0 8 * * 1",
			Handler:  c.runWeeklyUsageReport,
		},
		{
			Name:          JobMonthlyBillingCycle,
			Schedule:      "0 0 1 * *",
			Critical:      true,
			SkipIfRunning: true,
			Handler:       c.runMonthlyBillingCycle,
		},
		{
			Name:     JobLicenseStatusSync,
			Schedule: "0 * * * *",
			Critical: true,
			Handler:  c.runStatusSync,
		},
		{
			Name:     JobUsageThresholdMonitoring,
			Schedule: "15 * * * *",
			Handler:  c.runThresholdMonitoring,
		},
	}

	for _, job := range definitions {
		if err := s.Register(job); err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.Name, err)
		}
	}
	return nil
}
