package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind identifies the category of an alert and drives routing.
type Kind string

const (
	KindJobFailure        Kind = "job_failure"
	KindInfraFailure      Kind = "infra_failure"
	KindLongRunningJob    Kind = "long_running_job"
	KindRecentJobFailure  Kind = "recent_job_failure"
	KindTrialEnding       Kind = "trial_ending"
	KindPaymentSucceeded  Kind = "payment_succeeded"
	KindPaymentFailed     Kind = "payment_failed"
	KindUsageOverage      Kind = "usage_overage"
	KindWebhookDeadLetter Kind = "webhook_dead_letter"

	KindSubscriptionExpiring Kind = "subscription_expiring"
	KindRenewalReminder      Kind = "renewal_reminder"
	KindComplianceViolation  Kind = "compliance_violation"
	KindUsageThreshold       Kind = "usage_threshold"
	KindUsageReport          Kind = "usage_report"
)

// Severity indicates how urgent an alert is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert represents a single notification to be delivered.
type Alert struct {
	Kind        Kind                   `json:"kind"`
	Severity    Severity               `json:"severity"`
	TenantID    string                 `json:"tenant_id,omitempty"`
	Title       string                 `json:"title"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	TriggeredAt time.Time              `json:"triggered_at"`
}

// Notifier delivers alerts to a channel (Slack, email, log, ...).
type Notifier interface {
	Notify(ctx context.Context, alert *Alert) error
}

// DefaultSeverity returns the severity used when an alert does not set one.
func DefaultSeverity(kind Kind) Severity {
	switch kind {
	case KindJobFailure, KindInfraFailure, KindWebhookDeadLetter, KindPaymentFailed:
		return SeverityCritical
	case KindLongRunningJob, KindRecentJobFailure, KindUsageOverage,
		KindComplianceViolation, KindUsageThreshold:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// LogNotifier writes alerts to the structured log. It is the fallback
// channel and is also useful in tests and development.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the alert at a level matching its severity.
func (n *LogNotifier) Notify(_ context.Context, alert *Alert) error {
	entry := n.logger.WithFields(logrus.Fields{
		"alert_kind": string(alert.Kind),
		"tenant_id":  alert.TenantID,
		"details":    alert.Details,
	})

	switch severityOf(alert) {
	case SeverityCritical:
		entry.Errorf("%s: %s", alert.Title, alert.Message)
	case SeverityWarning:
		entry.Warnf("%s: %s", alert.Title, alert.Message)
	default:
		entry.Infof("%s: %s", alert.Title, alert.Message)
	}
	return nil
}

// Router dispatches alerts to per-kind notifiers, falling back to a default.
// A kind may have multiple notifiers; all of them receive the alert.
type Router struct {
	fallback Notifier
	routes   map[Kind][]Notifier
}

// NewRouter creates a Router with the given fallback notifier.
func NewRouter(fallback Notifier) *Router {
	return &Router{
		fallback: fallback,
		routes:   make(map[Kind][]Notifier),
	}
}

// Route adds a notifier for a specific alert kind.
func (r *Router) Route(kind Kind, n Notifier) {
	r.routes[kind] = append(r.routes[kind], n)
}

// Notify delivers the alert to every notifier registered for its kind, or to
// the fallback when none are registered. Delivery continues past individual
// failures; the first error is returned.
func (r *Router) Notify(ctx context.Context, alert *Alert) error {
	if alert.TriggeredAt.IsZero() {
		alert.TriggeredAt = time.Now()
	}
	if alert.Severity == "" {
		alert.Severity = DefaultSeverity(alert.Kind)
	}

	targets := r.routes[alert.Kind]
	if len(targets) == 0 && r.fallback != nil {
		targets = []Notifier{r.fallback}
	}

	var firstErr error
	for _, n := range targets {
		if err := n.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func severityOf(alert *Alert) Severity {
	if alert.Severity != "" {
		return alert.Severity
	}
	return DefaultSeverity(alert.Kind)
}
