// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, validation, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, resource)
//	httputil.WriteCreated(w, resource)
//
// Error responses:
//
//	httputil.WriteError(w, http.StatusBadRequest, err)
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteNotFoundError(w, "tenant not found")
//	httputil.WriteUnprocessable(w, "event could not be processed")
//
// # Request Parsing
//
// JSON parsing:
//
//	var req CreateSubscriptionRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path parameters:
//
//	tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenantID")
//
// Query parameters:
//
//	limit, err := httputil.ParseQueryInt(r, "limit", 20)
//	period := httputil.ParseQueryString(r, "period", "")
//	immediately, err := httputil.ParseQueryBool(r, "immediately", false)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.MaxBytesMiddleware(1024*1024), // 1MB
//	)
package httputil
