package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// NewOrder freezes the total price from the product price at creation time.
func NewOrder(product Product, quantity int, holdID *int64, now time.Time) Order {
	return Order{
		HoldID:     holdID,
		ProductID:  product.ID,
		Quantity:   quantity,
		TotalPrice: product.Price.Mul(decimal.NewFromInt(int64(quantity))),
		Status:     OrderStatusPending,
		CreatedAt:  now,
	}
}

func (o Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

func (o Order) IsCancelled() bool {
	return o.Status == OrderStatusCancelled
}
