// Package orders turns holds or payment-supplied data into orders and applies
// payment outcomes to them.
package orders

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("orders")

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetProduct(ctx context.Context, tx pgx.Tx, id int64) (domain.Product, error)
	GetHold(ctx context.Context, tx pgx.Tx, id int64) (domain.Hold, error)
	CreateOrder(ctx context.Context, tx pgx.Tx, order domain.Order) (domain.Order, error)
	GetOrder(ctx context.Context, tx pgx.Tx, id int64) (domain.Order, error)
	GetOrderByHoldID(ctx context.Context, tx pgx.Tx, holdID int64) (*domain.Order, error)
	TransitionOrderStatus(ctx context.Context, tx pgx.Tx, id int64, to domain.OrderStatus, from ...domain.OrderStatus) (bool, error)
	InsertOutbox(ctx context.Context, tx pgx.Tx, record domain.OutboxEvent) error
}

// HoldConsumer performs the one-time consume transition of a hold.
type HoldConsumer interface {
	Consume(ctx context.Context, tx pgx.Tx, holdID int64) (bool, error)
}

type StockLedger interface {
	Decrement(ctx context.Context, tx pgx.Tx, productID int64, qty int) error
	Increment(ctx context.Context, tx pgx.Tx, productID int64, qty int) error
}

type Lifecycle struct {
	store  Store
	holds  HoldConsumer
	ledger StockLedger
	clock  clock.Clock
	logger observability.Logger
}

func NewLifecycle(store Store, holds HoldConsumer, ledger StockLedger, clk clock.Clock, logger observability.Logger) *Lifecycle {
	return &Lifecycle{store: store, holds: holds, ledger: ledger, clock: clk, logger: logger}
}

type orderEvent struct {
	OrderID    int64              `json:"order_id"`
	HoldID     *int64             `json:"hold_id,omitempty"`
	ProductID  int64              `json:"product_id"`
	Quantity   int                `json:"quantity"`
	TotalPrice string             `json:"total_price"`
	Status     domain.OrderStatus `json:"status"`
}

func (l *Lifecycle) publish(ctx context.Context, tx pgx.Tx, eventType string, o domain.Order) error {
	evt, err := domain.NewOutboxEvent("order", o.ID, eventType, orderEvent{
		OrderID:    o.ID,
		HoldID:     o.HoldID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice.StringFixed(2),
		Status:     o.Status,
	}, l.clock.Now())
	if err != nil {
		return err
	}
	return l.store.InsertOutbox(ctx, tx, evt)
}

func (l *Lifecycle) Get(ctx context.Context, id int64) (domain.Order, error) {
	return l.store.GetOrder(ctx, nil, id)
}

// CreateFromHold converts a valid hold into a pending order. Retrying with the
// same hold returns the order created the first time, even after the hold
// has expired.
func (l *Lifecycle) CreateFromHold(ctx context.Context, holdID int64) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateFromHold", trace.WithAttributes(attribute.Int64("hold_id", holdID)))
	defer span.End()

	var order domain.Order
	err := l.store.WithTx(ctx, func(tx pgx.Tx) error {
		existing, err := l.store.GetOrderByHoldID(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if existing != nil {
			order = *existing
			return nil
		}

		hold, err := l.store.GetHold(ctx, tx, holdID)
		if err != nil {
			return err
		}
		now := l.clock.Now()
		if !hold.IsValid(now) {
			return errors.Wrapf(domain.ErrHoldInvalid, "hold %d", holdID)
		}

		product, err := l.store.GetProduct(ctx, tx, hold.ProductID)
		if err != nil {
			return err
		}

		won, err := l.holds.Consume(ctx, tx, hold.ID)
		if err != nil {
			return err
		}
		if !won {
			return errors.Wrapf(domain.ErrHoldAlreadyConsumed, "hold %d", holdID)
		}

		created, err := l.store.CreateOrder(ctx, tx, domain.NewOrder(product, hold.Quantity, &hold.ID, now))
		if err != nil {
			return err
		}
		if err := l.publish(ctx, tx, domain.EventOrderCreated, created); err != nil {
			return err
		}
		order = created
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order from hold")
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.Int64("order_id", order.ID))
	return order, nil
}

// reservedHold consumes holdID when it is still valid and reserves exactly
// productID x qty. It returns nil when the hold cannot back the order.
func (l *Lifecycle) reservedHold(ctx context.Context, tx pgx.Tx, holdID, productID int64, qty int) (*int64, error) {
	hold, err := l.store.GetHold(ctx, tx, holdID)
	if errors.Is(err, domain.ErrHoldNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log := l.logger.WithField("hold_id", holdID)
	if !hold.IsValid(l.clock.Now()) {
		log.Info("referenced hold is no longer valid")
		return nil, nil
	}
	if hold.ProductID != productID || hold.Quantity != qty {
		log.Warn("referenced hold does not match the order")
		return nil, nil
	}

	won, err := l.holds.Consume(ctx, tx, hold.ID)
	if err != nil || !won {
		return nil, err
	}
	return &hold.ID, nil
}

// CreateDirect materializes a pending order from payment-supplied data inside
// tx. A valid matching hold backs the order; otherwise the stock is taken
// from the ledger now, so the order never goes unreserved.
func (l *Lifecycle) CreateDirect(ctx context.Context, tx pgx.Tx, productID int64, qty int, holdID *int64) (domain.Order, error) {
	if qty <= 0 {
		return domain.Order{}, domain.ErrInvalidQuantity
	}
	product, err := l.store.GetProduct(ctx, tx, productID)
	if err != nil {
		return domain.Order{}, err
	}

	var linked *int64
	if holdID != nil {
		if linked, err = l.reservedHold(ctx, tx, *holdID, productID, qty); err != nil {
			return domain.Order{}, err
		}
	}
	if linked == nil {
		if err := l.ledger.Decrement(ctx, tx, productID, qty); err != nil {
			return domain.Order{}, err
		}
	}

	order, err := l.store.CreateOrder(ctx, tx, domain.NewOrder(product, qty, linked, l.clock.Now()))
	if err != nil {
		return domain.Order{}, err
	}
	if err := l.publish(ctx, tx, domain.EventOrderCreated, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// CreateDirectCancelled records an order whose payment failed before the
// client ever created it. Stock reserved by a valid matching hold is
// returned; nothing else touches the ledger.
func (l *Lifecycle) CreateDirectCancelled(ctx context.Context, tx pgx.Tx, productID int64, qty int, holdID *int64) (domain.Order, error) {
	if qty <= 0 {
		return domain.Order{}, domain.ErrInvalidQuantity
	}
	product, err := l.store.GetProduct(ctx, tx, productID)
	if err != nil {
		return domain.Order{}, err
	}

	var linked *int64
	if holdID != nil {
		if linked, err = l.reservedHold(ctx, tx, *holdID, productID, qty); err != nil {
			return domain.Order{}, err
		}
	}
	if linked != nil {
		if err := l.ledger.Increment(ctx, tx, productID, qty); err != nil {
			return domain.Order{}, err
		}
	}

	order := domain.NewOrder(product, qty, linked, l.clock.Now())
	order.Status = domain.OrderStatusCancelled
	order, err = l.store.CreateOrder(ctx, tx, order)
	if err != nil {
		return domain.Order{}, err
	}
	if err := l.publish(ctx, tx, domain.EventOrderCancelled, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// MarkAsPaid moves a pending order to paid. Paid and cancelled orders are
// returned unchanged.
func (l *Lifecycle) MarkAsPaid(ctx context.Context, tx pgx.Tx, order domain.Order) (domain.Order, error) {
	if !order.IsPending() {
		return order, nil
	}

	changed, err := l.store.TransitionOrderStatus(ctx, tx, order.ID, domain.OrderStatusPaid, domain.OrderStatusPending)
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		return l.store.GetOrder(ctx, tx, order.ID)
	}

	order.Status = domain.OrderStatusPaid
	if err := l.publish(ctx, tx, domain.EventOrderPaid, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Cancel moves the order to cancelled and returns its quantity to stock. Only
// the caller whose conditional update changes the row releases stock, so
// repeated or concurrent cancels release once.
func (l *Lifecycle) Cancel(ctx context.Context, tx pgx.Tx, order domain.Order) (domain.Order, error) {
	if order.IsCancelled() {
		return order, nil
	}

	changed, err := l.store.TransitionOrderStatus(ctx, tx, order.ID, domain.OrderStatusCancelled,
		domain.OrderStatusPending, domain.OrderStatusPaid)
	if err != nil {
		return domain.Order{}, err
	}
	if !changed {
		return l.store.GetOrder(ctx, tx, order.ID)
	}

	if err := l.ledger.Increment(ctx, tx, order.ProductID, order.Quantity); err != nil {
		return domain.Order{}, errors.Wrapf(err, "release stock of order %d", order.ID)
	}
	order.Status = domain.OrderStatusCancelled
	if err := l.publish(ctx, tx, domain.EventOrderCancelled, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}
