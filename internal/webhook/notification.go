package webhook

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/inventory-holds/internal/domain"
)

// Notification is one delivery of a payment result. Payload is the full body
// as received and is stored verbatim on first application.
type Notification struct {
	IdempotencyKey string
	OrderID        int64
	Status         domain.PaymentStatus
	Payload        map[string]any
}

// DecodeNotification parses a JSON webhook body. HTTP and AMQP deliveries
// share the same format.
func DecodeNotification(body []byte) (Notification, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return Notification{}, errors.Mark(errors.Wrap(err, "decode webhook body"), domain.ErrInvalidInput)
	}

	n := Notification{Payload: payload}
	key, _ := payload["idempotency_key"].(string)
	n.IdempotencyKey = strings.TrimSpace(key)

	orderID, ok, err := intField(payload, "order_id")
	if err != nil {
		return Notification{}, err
	}
	if !ok {
		return Notification{}, errors.Wrap(domain.ErrInvalidInput, "order_id is required")
	}
	n.OrderID = orderID

	status, _ := payload["status"].(string)
	n.Status = domain.PaymentStatus(status)

	return n, n.Validate()
}

func (n Notification) Validate() error {
	if n.IdempotencyKey == "" {
		return errors.Wrap(domain.ErrInvalidInput, "idempotency_key is required")
	}
	if n.Status != domain.PaymentSuccess && n.Status != domain.PaymentFailure {
		return errors.Wrapf(domain.ErrInvalidInput, "status must be %q or %q", domain.PaymentSuccess, domain.PaymentFailure)
	}
	return nil
}

// orderData is what an out-of-order delivery must carry to materialize the order.
type orderData struct {
	ProductID int64
	Quantity  int
	HoldID    *int64
}

func (n Notification) orderData() (orderData, error) {
	productID, ok, err := intField(n.Payload, "product_id")
	if err != nil {
		return orderData{}, err
	}
	if !ok {
		return orderData{}, errors.Wrap(domain.ErrMalformedWebhookPayload, "missing product_id")
	}
	qty, ok, err := intField(n.Payload, "quantity")
	if err != nil {
		return orderData{}, err
	}
	if !ok {
		return orderData{}, errors.Wrap(domain.ErrMalformedWebhookPayload, "missing quantity")
	}
	if qty <= 0 || qty > math.MaxInt32 {
		return orderData{}, errors.Wrapf(domain.ErrMalformedWebhookPayload, "quantity %d out of range", qty)
	}

	data := orderData{ProductID: productID, Quantity: int(qty)}
	holdID, ok, err := intField(n.Payload, "hold_id")
	if err != nil {
		return orderData{}, err
	}
	if ok {
		data.HoldID = &holdID
	}
	return data, nil
}

// intField reads an integer that may arrive as a JSON number or a numeric
// string. A missing or null field reports ok=false.
func intField(payload map[string]any, name string) (int64, bool, error) {
	raw, present := payload[name]
	if !present || raw == nil {
		return 0, false, nil
	}

	bad := errors.Wrapf(domain.ErrMalformedWebhookPayload, "%s must be an integer", name)
	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false, bad
		}
		return n, true, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, false, bad
		}
		return int64(v), true, nil
	case int:
		return int64(v), true, nil
	case int64:
		return v, true, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false, bad
		}
		return n, true, nil
	default:
		return 0, false, bad
	}
}
