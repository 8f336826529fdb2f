package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tenantops/subkeeper/pkg/storage"
)

// ErrInvalidTransition is returned when a transition's source-state
// precondition does not hold. Combined with event idempotency it makes
// duplicate and out-of-order webhook delivery harmless.
var ErrInvalidTransition = errors.New("invalid subscription transition")

// TransitionCause identifies the webhook-driven cause of a state change.
type TransitionCause string

const (
	CausePaymentSucceeded TransitionCause = "payment_succeeded"
	CausePaymentFailed    TransitionCause = "payment_failed"
	CauseDeleted          TransitionCause = "deleted"
)

// transitions maps each cause to its legal (from -> to) edges.
var transitions = map[TransitionCause]map[storage.SubscriptionStatus]storage.SubscriptionStatus{
	CausePaymentSucceeded: {
		storage.SubscriptionPastDue: storage.SubscriptionActive,
	},
	CausePaymentFailed: {
		storage.SubscriptionActive: storage.SubscriptionPastDue,
	},
	CauseDeleted: {
		storage.SubscriptionTrialing: storage.SubscriptionCanceled,
		storage.SubscriptionActive:   storage.SubscriptionCanceled,
		storage.SubscriptionPastDue:  storage.SubscriptionCanceled,
	},
}

// StateMachine applies event-driven transitions to subscription records.
type StateMachine struct {
	logger *logrus.Logger
}

// NewStateMachine creates a StateMachine.
func NewStateMachine(logger *logrus.Logger) *StateMachine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StateMachine{logger: logger}
}

// InitialStatus returns the status a new subscription starts in.
func InitialStatus(hasTrial bool) storage.SubscriptionStatus {
	if hasTrial {
		return storage.SubscriptionTrialing
	}
	return storage.SubscriptionActive
}

// Apply transitions the subscription for the given cause. On an illegal
// (state, cause) pair the subscription is left untouched and
// ErrInvalidTransition is returned.
func (m *StateMachine) Apply(sub *storage.Subscription, cause TransitionCause) error {
	edges, ok := transitions[cause]
	if !ok {
		return fmt.Errorf("%w: unknown cause %q", ErrInvalidTransition, cause)
	}

	next, ok := edges[sub.Status]
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"tenant_id": sub.TenantID,
			"status":    string(sub.Status),
			"cause":     string(cause),
		}).Info("rejected subscription transition")
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, cause, sub.Status)
	}

	sub.Status = next
	if next == storage.SubscriptionCanceled {
		now := time.Now()
		sub.CanceledAt = &now
	}

	m.logger.WithFields(logrus.Fields{
		"tenant_id": sub.TenantID,
		"status":    string(next),
		"cause":     string(cause),
	}).Info("applied subscription transition")

	return nil
}

// CanApply reports whether the cause is legal from the given state.
func (m *StateMachine) CanApply(status storage.SubscriptionStatus, cause TransitionCause) bool {
	edges, ok := transitions[cause]
	if !ok {
		return false
	}
	_, ok = edges[status]
	return ok
}
