package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/subkeeper/pkg/storage"
)

func TestVerifySignature(t *testing.T) {
	g := NewHMACGateway("whsec_test")
	body := []byte(`{"id":"evt_1","type":"invoice.payment_succeeded","data":{"tenant_id":"t1"}}`)

	t.Run("valid signature", func(t *testing.T) {
		event, err := g.VerifySignature(SignHMAC(body, "whsec_test"), body)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, "invoice.payment_succeeded", event.Type)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := g.VerifySignature(SignHMAC(body, "whsec_other"), body)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := SignHMAC(body, "whsec_test")
		tampered := []byte(`{"id":"evt_2","type":"invoice.payment_succeeded","data":{}}`)
		_, err := g.VerifySignature(sig, tampered)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("unparseable body", func(t *testing.T) {
		garbage := []byte(`not json`)
		_, err := g.VerifySignature(SignHMAC(garbage, "whsec_test"), garbage)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("missing id", func(t *testing.T) {
		noID := []byte(`{"type":"invoice.paid","data":{}}`)
		_, err := g.VerifySignature(SignHMAC(noID, "whsec_test"), noID)
		assert.Error(t, err)
	})
}

func TestCreateInvoice(t *testing.T) {
	g := NewHMACGateway("whsec_test")

	id, err := g.CreateInvoice(context.Background(), "tenant-1", []storage.LineItem{
		{Description: "Extra users (2)", Amount: 20},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = g.CreateInvoice(context.Background(), "tenant-1", nil)
	assert.Error(t, err)
}

func TestVerifyHMACRoundTrip(t *testing.T) {
	payload := []byte("payload")
	sig := SignHMAC(payload, "secret")
	assert.True(t, VerifyHMAC(payload, sig, "secret"))
	assert.False(t, VerifyHMAC(payload, sig, "wrong"))
	assert.False(t, VerifyHMAC([]byte("other"), sig, "secret"))
}
