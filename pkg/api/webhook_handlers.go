package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/tenantops/subkeeper/pkg/gateway"
	"github.com/tenantops/subkeeper/pkg/httputil"
	"github.com/tenantops/subkeeper/pkg/webhooks"
)

// SignatureHeader carries the provider's HMAC signature for webhook bodies.
const SignatureHeader = "X-Webhook-Signature"

// handleWebhook handles POST /webhooks/payment.
//
// The response code tells the provider what to do with the delivery: 200
// acknowledges it (including events absorbed into the retry queue), 400
// rejects a bad signature, and 422 marks an event we gave up on so the
// provider stops redelivering it.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		httputil.WriteBadRequest(w, "missing webhook signature")
		return
	}

	err = s.processor.Handle(r.Context(), signature, body)
	switch {
	case err == nil:
		httputil.WriteSuccess(w, map[string]bool{"received": true})
	case errors.Is(err, gateway.ErrInvalidSignature):
		httputil.WriteBadRequest(w, "invalid webhook signature")
	case errors.Is(err, webhooks.ErrProcessingFailed):
		httputil.WriteUnprocessable(w, "event could not be processed")
	default:
		httputil.WriteInternalError(w, err)
	}
}
