// Package gateway defines the payment-provider collaborator interface.
//
// # Overview
//
// The Gateway interface covers the operations this service consumes from the
// payment provider: webhook signature verification, subscription retrieval,
// invoice creation, and invoice payment. HMACGateway implements signature
// verification with HMAC-SHA256 over the raw body, the scheme providers use
// for webhook signing.
//
// The provider-facing event schema is deliberately minimal: {id, type, data}.
// Typed interpretation of events happens in the webhooks package.
package gateway
