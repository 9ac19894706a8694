// Package webhook applies payment notifications to orders exactly once per
// idempotency key, whatever order they arrive in.
package webhook

import (
	"context"
	"encoding/json"

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

var tracer = otel.Tracer("webhook")

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetOrder(ctx context.Context, tx pgx.Tx, id int64) (domain.Order, error)
	GetWebhookEvent(ctx context.Context, tx pgx.Tx, key string) (*domain.WebhookEvent, error)
	InsertWebhookEvent(ctx context.Context, tx pgx.Tx, ev domain.WebhookEvent) (domain.WebhookEvent, error)
	NotifiedOrderID(ctx context.Context, tx pgx.Tx, notifiedOrderID int64) (*int64, error)
}

type Orders interface {
	CreateDirect(ctx context.Context, tx pgx.Tx, productID int64, qty int, holdID *int64) (domain.Order, error)
	CreateDirectCancelled(ctx context.Context, tx pgx.Tx, productID int64, qty int, holdID *int64) (domain.Order, error)
	MarkAsPaid(ctx context.Context, tx pgx.Tx, order domain.Order) (domain.Order, error)
	Cancel(ctx context.Context, tx pgx.Tx, order domain.Order) (domain.Order, error)
}

type StockLedger interface {
	Invalidate(ctx context.Context, productID int64)
}

type Result struct {
	Processed bool                 `json:"processed"`
	Duplicate bool                 `json:"duplicate"`
	OrderID   int64                `json:"order_id"`
	Status    domain.PaymentStatus `json:"status"`
}

type Reconciler struct {
	store    Store
	orders   Orders
	ledger   StockLedger
	clock    clock.Clock
	recorder observability.Recorder
	logger   observability.Logger
}

func NewReconciler(store Store, orders Orders, ledger StockLedger, clk clock.Clock, recorder observability.Recorder, logger observability.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		orders:   orders,
		ledger:   ledger,
		clock:    clk,
		recorder: recorder,
		logger:   logger,
	}
}

func duplicateOf(ev domain.WebhookEvent) Result {
	return Result{Processed: true, Duplicate: true, OrderID: ev.OrderID, Status: ev.Status}
}

// Process applies n on the first delivery of its idempotency key and returns
// the recorded outcome, flagged as a duplicate, on every later one.
func (r *Reconciler) Process(ctx context.Context, n Notification) (Result, error) {
	ctx, span := tracer.Start(ctx, "webhook.Process", trace.WithAttributes(
		attribute.String("idempotency_key", n.IdempotencyKey),
		attribute.Int64("order_id", n.OrderID),
		attribute.String("status", string(n.Status)),
	))
	defer span.End()

	if err := n.Validate(); err != nil {
		return Result{}, err
	}
	payload := n.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, errors.Mark(errors.Wrap(err, "encode webhook payload"), domain.ErrMalformedWebhookPayload)
	}

	var res Result
	var productID int64
	err = r.store.WithTx(ctx, func(tx pgx.Tx) error {
		res, productID = Result{}, 0

		existing, err := r.store.GetWebhookEvent(ctx, tx, n.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			res = duplicateOf(*existing)
			return nil
		}

		order, err := r.apply(ctx, tx, n)
		if err != nil {
			return err
		}

		_, err = r.store.InsertWebhookEvent(ctx, tx, domain.WebhookEvent{
			IdempotencyKey:  n.IdempotencyKey,
			OrderID:         order.ID,
			NotifiedOrderID: n.OrderID,
			Status:          n.Status,
			Payload:         raw,
			ProcessedAt:     r.clock.Now(),
		})
		if err != nil {
			return err
		}

		res = Result{Processed: true, OrderID: order.ID, Status: n.Status}
		productID = order.ProductID
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateWebhook) {
		// A concurrent delivery of the same key committed first.
		res, err = r.recorded(ctx, n.IdempotencyKey, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process webhook")
		return Result{}, err
	}

	if !res.Duplicate {
		r.ledger.Invalidate(ctx, productID)
	}
	span.SetAttributes(attribute.Bool("duplicate", res.Duplicate))
	r.recorder.WebhookProcessed(ctx, n.IdempotencyKey, res.Duplicate)
	return res, nil
}

func (r *Reconciler) recorded(ctx context.Context, key string, cause error) (Result, error) {
	ev, err := r.store.GetWebhookEvent(ctx, nil, key)
	if err != nil {
		return Result{}, err
	}
	if ev == nil {
		return Result{}, cause
	}
	return duplicateOf(*ev), nil
}

// resolveOrder finds the order n refers to: by its id, or through an earlier
// notification for the same id that created the order. It returns nil when
// neither exists.
func (r *Reconciler) resolveOrder(ctx context.Context, tx pgx.Tx, n Notification) (*domain.Order, error) {
	order, err := r.store.GetOrder(ctx, tx, n.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		created, lerr := r.store.NotifiedOrderID(ctx, tx, n.OrderID)
		if lerr != nil || created == nil {
			return nil, lerr
		}
		order, err = r.store.GetOrder(ctx, tx, *created)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// apply resolves the order, materializing it from the payload when the
// notification outran the client, and applies the payment result.
func (r *Reconciler) apply(ctx context.Context, tx pgx.Tx, n Notification) (domain.Order, error) {
	existing, err := r.resolveOrder(ctx, tx, n)
	if err != nil {
		return domain.Order{}, err
	}
	if existing != nil {
		if n.Status == domain.PaymentSuccess {
			return r.orders.MarkAsPaid(ctx, tx, *existing)
		}
		return r.orders.Cancel(ctx, tx, *existing)
	}

	data, err := n.orderData()
	if err != nil {
		return domain.Order{}, err
	}
	r.logger.WithFields(map[string]interface{}{
		"idempotency_key": n.IdempotencyKey,
		"order_id":        n.OrderID,
		"product_id":      data.ProductID,
	}).Info("payment notification arrived before its order, creating it")

	if n.Status != domain.PaymentSuccess {
		return r.orders.CreateDirectCancelled(ctx, tx, data.ProductID, data.Quantity, data.HoldID)
	}
	order, err := r.orders.CreateDirect(ctx, tx, data.ProductID, data.Quantity, data.HoldID)
	if err != nil {
		return domain.Order{}, err
	}
	return r.orders.MarkAsPaid(ctx, tx, order)
}
