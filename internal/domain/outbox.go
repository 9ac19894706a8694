package domain

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	EventHoldCreated    = "hold.created"
	EventHoldExpired    = "hold.expired"
	EventOrderCreated   = "order.created"
	EventOrderPaid      = "order.paid"
	EventOrderCancelled = "order.cancelled"
)

func NewOutboxEvent(aggregateType string, aggregateID int64, eventType string, payload any, now time.Time) (OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, errors.Wrapf(err, "marshal %s payload", eventType)
	}
	return OutboxEvent{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     now,
		Status:        "NEW",
		DedupeKey:     uuid.NewString(),
	}, nil
}
