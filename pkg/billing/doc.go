// Package billing provides subscription plan management and the subscription
// lifecycle state machine.
//
// # Overview
//
// This package implements three-tier subscription plans with per-dimension
// usage limits, subscription create/update/cancel against the payment
// gateway, and the event-driven state machine that keeps subscription status
// consistent under duplicate or out-of-order webhook delivery.
//
// # Subscription Plans
//
// Basic ($99/month, $999/year):
//   - Included: 10 users, 50 GB storage, 10,000 API calls
//
// Professional ($299/month, $2,999/year):
//   - Included: 50 users, 200 GB storage, 50,000 API calls
//
// Enterprise ($999/month, $9,999/year):
//   - Included: unlimited users, 1,000 GB storage, unlimited API calls
//
// A limit of -1 means unlimited.
//
// # State Machine
//
// States: trialing, active, past_due, canceled (terminal, retained).
//
//	created                        -> active (trialing with a trial window)
//	payment_succeeded (past_due)   -> active
//	payment_failed    (active)     -> past_due
//	deleted           (any live)   -> canceled
//
// Any other (state, cause) pair is rejected with ErrInvalidTransition and
// leaves the subscription unchanged.
package billing
