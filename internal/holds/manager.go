// Package holds creates and consumes time-boxed stock reservations.
package holds

import (
	"context"
	"time"

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

var tracer = otel.Tracer("holds")

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateHold(ctx context.Context, tx pgx.Tx, hold domain.Hold) (domain.Hold, error)
	GetHold(ctx context.Context, tx pgx.Tx, id int64) (domain.Hold, error)
	ConsumeHold(ctx context.Context, tx pgx.Tx, id int64) (bool, error)
	InsertOutbox(ctx context.Context, tx pgx.Tx, record domain.OutboxEvent) error
}

type StockLedger interface {
	Decrement(ctx context.Context, tx pgx.Tx, productID int64, qty int) error
	Invalidate(ctx context.Context, productID int64)
}

type Manager struct {
	store    Store
	ledger   StockLedger
	clock    clock.Clock
	recorder observability.Recorder
	logger   observability.Logger
	ttl      time.Duration
}

func NewManager(store Store, ledger StockLedger, clk clock.Clock, recorder observability.Recorder, logger observability.Logger, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = domain.DefaultHoldTTL
	}
	return &Manager{
		store:    store,
		ledger:   ledger,
		clock:    clk,
		recorder: recorder,
		logger:   logger,
		ttl:      ttl,
	}
}

type holdEvent struct {
	HoldID    int64     `json:"hold_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Create reserves qty units of the product. The stock decrement, the hold row
// and its outbox record commit together or not at all.
func (m *Manager) Create(ctx context.Context, productID int64, qty int) (domain.Hold, error) {
	ctx, span := tracer.Start(ctx, "holds.Create", trace.WithAttributes(
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	if qty <= 0 {
		return domain.Hold{}, domain.ErrInvalidQuantity
	}

	var hold domain.Hold
	err := m.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := m.ledger.Decrement(ctx, tx, productID, qty); err != nil {
			return err
		}

		now := m.clock.Now()
		created, err := m.store.CreateHold(ctx, tx, domain.NewHold(productID, qty, now, m.ttl))
		if err != nil {
			return err
		}

		evt, err := domain.NewOutboxEvent("hold", created.ID, domain.EventHoldCreated, holdEvent{
			HoldID:    created.ID,
			ProductID: created.ProductID,
			Quantity:  created.Quantity,
			ExpiresAt: created.ExpiresAt,
		}, now)
		if err != nil {
			return err
		}
		if err := m.store.InsertOutbox(ctx, tx, evt); err != nil {
			return err
		}

		hold = created
		return nil
	})
	if errors.Is(err, domain.ErrInsufficientStock) {
		err = errors.Mark(errors.Wrapf(err, "hold on product %d", productID), domain.ErrHoldCreationFailed)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create hold")
		return domain.Hold{}, err
	}

	m.ledger.Invalidate(ctx, productID)
	m.recorder.HoldCreated(ctx, hold.ID, productID, qty)
	span.SetAttributes(attribute.Int64("hold_id", hold.ID))
	return hold, nil
}

func (m *Manager) Get(ctx context.Context, id int64) (domain.Hold, error) {
	return m.store.GetHold(ctx, nil, id)
}

// Consume flips the hold to consumed with a single conditional write. It
// reports false when another caller already consumed it; the caller decides
// what losing the race means.
func (m *Manager) Consume(ctx context.Context, tx pgx.Tx, holdID int64) (bool, error) {
	ctx, span := tracer.Start(ctx, "holds.Consume", trace.WithAttributes(attribute.Int64("hold_id", holdID)))
	defer span.End()

	won, err := m.store.ConsumeHold(ctx, tx, holdID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "consume hold")
		return false, err
	}
	span.SetAttributes(attribute.Bool("won", won))
	if !won {
		m.logger.WithField("hold_id", holdID).Info("hold already consumed")
	}
	return won, nil
}
