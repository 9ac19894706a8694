package webhook

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNotification(t *testing.T) {
	n, err := DecodeNotification([]byte(`{"idempotency_key":"k-1","order_id":42,"status":"success","product_id":"7","quantity":2}`))
	require.NoError(t, err)

	assert.Equal(t, "k-1", n.IdempotencyKey)
	assert.EqualValues(t, 42, n.OrderID)
	assert.Equal(t, domain.PaymentSuccess, n.Status)

	data, err := n.orderData()
	require.NoError(t, err)
	assert.EqualValues(t, 7, data.ProductID)
	assert.Equal(t, 2, data.Quantity)
	assert.Nil(t, data.HoldID)
}

func TestDecodeNotificationErrors(t *testing.T) {
	tests := map[string]string{
		"not json":         `{`,
		"missing order_id": `{"idempotency_key":"k","status":"success"}`,
		"fractional id":    `{"idempotency_key":"k","order_id":1.5,"status":"success"}`,
		"missing key":      `{"order_id":1,"status":"success"}`,
		"bad status":       `{"idempotency_key":"k","order_id":1,"status":"pending"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeNotification([]byte(body))
			assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestOrderData(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		wantErr bool
		hold    bool
	}{
		{name: "float numbers", payload: map[string]any{"product_id": float64(3), "quantity": float64(1)}},
		{name: "with hold", payload: map[string]any{"product_id": 3, "quantity": 1, "hold_id": "9"}, hold: true},
		{name: "null hold", payload: map[string]any{"product_id": 3, "quantity": 1, "hold_id": nil}},
		{name: "missing product", payload: map[string]any{"quantity": 1}, wantErr: true},
		{name: "missing quantity", payload: map[string]any{"product_id": 3}, wantErr: true},
		{name: "zero quantity", payload: map[string]any{"product_id": 3, "quantity": 0}, wantErr: true},
		{name: "text quantity", payload: map[string]any{"product_id": 3, "quantity": "two"}, wantErr: true},
		{name: "object hold", payload: map[string]any{"product_id": 3, "quantity": 1, "hold_id": map[string]any{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Notification{Payload: tt.payload}.orderData()
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrMalformedWebhookPayload), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hold, data.HoldID != nil)
		})
	}
}
