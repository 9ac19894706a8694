package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
	Stock int
}

type Hold struct {
	ID        int64
	ProductID int64
	Quantity  int
	ExpiresAt time.Time
	Consumed  bool
	CreatedAt time.Time
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type Order struct {
	ID         int64
	HoldID     *int64
	ProductID  int64
	Quantity   int
	TotalPrice decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
}

type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentFailure PaymentStatus = "failure"
)

// WebhookEvent is the dedup ledger entry for one idempotency key. OrderID is
// the order the notification was applied to; NotifiedOrderID is the id the
// notification named, which differs when the order was created from it.
type WebhookEvent struct {
	ID              int64
	IdempotencyKey  string
	OrderID         int64
	NotifiedOrderID int64
	Status          PaymentStatus
	Payload         json.RawMessage
	ProcessedAt     time.Time
}

type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   int64
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}
