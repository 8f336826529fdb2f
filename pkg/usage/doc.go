// Package usage computes per-tenant overage charges by comparing billing
// period usage snapshots against plan limits, and turns chargeable overages
// into provider invoices and tenant notifications.
package usage
