package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/subkeeper/pkg/gateway"
	"github.com/tenantops/subkeeper/pkg/storage"
)

func webhookBody(t *testing.T, id, eventType string, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]interface{}{
		"id":   id,
		"type": eventType,
		"data": json.RawMessage(raw),
	})
	require.NoError(t, err)
	return body
}

func postWebhook(t *testing.T, f *serverFixture, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest("POST", "/webhooks/payment", bytes.NewReader(body))
	if signature != "" {
		r.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, r)
	return w
}

func TestWebhookAccepted(t *testing.T) {
	f := newServerFixture(t)

	body := webhookBody(t, "evt_1", "customer.subscription.created", map[string]interface{}{
		"tenant_id": "tenant-1",
		"plan_id":   "basic",
		"interval":  "monthly",
	})
	w := postWebhook(t, f, body, gateway.SignHMAC(body, testSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "received")

	sub, err := f.store.GetSubscription(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "basic", sub.PlanID)
}

func TestWebhookMissingSignature(t *testing.T) {
	f := newServerFixture(t)

	body := webhookBody(t, "evt_1", "customer.subscription.created", map[string]string{"tenant_id": "tenant-1"})
	w := postWebhook(t, f, body, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookBadSignature(t *testing.T) {
	f := newServerFixture(t)

	body := webhookBody(t, "evt_1", "customer.subscription.created", map[string]string{"tenant_id": "tenant-1"})
	w := postWebhook(t, f, body, "sha256=deadbeef")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid webhook signature")
}

func TestWebhookDuplicateAcked(t *testing.T) {
	f := newServerFixture(t)

	body := webhookBody(t, "evt_dup", "customer.subscription.created", map[string]interface{}{
		"tenant_id": "tenant-1",
		"plan_id":   "basic",
	})
	signature := gateway.SignHMAC(body, testSecret)

	assert.Equal(t, http.StatusOK, postWebhook(t, f, body, signature).Code)
	assert.Equal(t, http.StatusOK, postWebhook(t, f, body, signature).Code)
}

func TestWebhookDeadLetteredDelivery(t *testing.T) {
	f := newServerFixture(t)

	// Seed a record that already exhausted its retries.
	require.NoError(t, f.store.UpsertWebhookEvent(context.Background(), &storage.WebhookEventRecord{
		ID:     "evt_dead",
		Type:   "invoice.payment_failed",
		Status: storage.WebhookEventFailed,
	}))

	body := webhookBody(t, "evt_dead", "invoice.payment_failed", map[string]string{"tenant_id": "tenant-1"})
	w := postWebhook(t, f, body, gateway.SignHMAC(body, testSecret))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
