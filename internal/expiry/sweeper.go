// Package expiry releases stock held by holds nobody converted in time.
package expiry

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
)

const defaultBatchSize = 500

var tracer = otel.Tracer("expiry")

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ListExpiredHolds(ctx context.Context, now time.Time, after domain.HoldCursor, limit int) ([]domain.Hold, error)
	GetHold(ctx context.Context, tx pgx.Tx, id int64) (domain.Hold, error)
	InsertOutbox(ctx context.Context, tx pgx.Tx, record domain.OutboxEvent) error
}

// HoldConsumer performs the one-time consume transition of a hold.
type HoldConsumer interface {
	Consume(ctx context.Context, tx pgx.Tx, holdID int64) (bool, error)
}

type StockLedger interface {
	Increment(ctx context.Context, tx pgx.Tx, productID int64, qty int) error
	Invalidate(ctx context.Context, productID int64)
}

// Result summarizes one sweep. Skipped holds were consumed or renewed by
// someone else between selection and their own transaction.
type Result struct {
	Candidates int
	Released   int
	Skipped    int
	Failed     int
}

type Sweeper struct {
	store     Store
	holds     HoldConsumer
	ledger    StockLedger
	clock     clock.Clock
	recorder  observability.Recorder
	logger    observability.Logger
	batchSize int
}

func NewSweeper(store Store, holds HoldConsumer, ledger StockLedger, clk clock.Clock, recorder observability.Recorder, logger observability.Logger, batchSize int) *Sweeper {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Sweeper{
		store:     store,
		holds:     holds,
		ledger:    ledger,
		clock:     clk,
		recorder:  recorder,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.WithField("interval", interval.String()).Info("expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Error("expiry sweep failed")
			}
		}
	}
}

// Sweep releases every hold that was unconsumed and past expiry at selection
// time, paging through them batchSize at a time. Each hold gets its own
// transaction; one failing hold does not stop the rest of the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "expiry.Sweep")
	defer span.End()

	started := time.Now()
	now := s.clock.Now()

	var (
		res    Result
		cursor domain.HoldCursor
	)
	for {
		page, err := s.store.ListExpiredHolds(ctx, now, cursor, s.batchSize)
		if err != nil {
			span.RecordError(err)
			return res, errors.Wrap(err, "select expired holds")
		}
		res.Candidates += len(page)

		for _, candidate := range page {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			released, err := s.release(ctx, candidate.ID)
			switch {
			case err != nil:
				res.Failed++
				s.logger.WithError(err).WithField("hold_id", candidate.ID).Error("failed to release expired hold")
			case released:
				res.Released++
			default:
				res.Skipped++
			}
		}

		if len(page) < s.batchSize {
			break
		}
		cursor = domain.CursorOf(page[len(page)-1])
	}

	span.SetAttributes(
		attribute.Int("candidates", res.Candidates),
		attribute.Int("released", res.Released),
		attribute.Int("failed", res.Failed),
	)
	s.recorder.ExpiryBatch(ctx, res.Candidates, res.Released, time.Since(started))
	return res, nil
}

type expiredEvent struct {
	HoldID    int64 `json:"hold_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// release reports whether this call consumed the hold and returned its stock.
func (s *Sweeper) release(ctx context.Context, holdID int64) (bool, error) {
	var hold domain.Hold
	released := false

	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		released = false

		h, err := s.store.GetHold(ctx, tx, holdID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if h.Consumed || !h.ExpiresAt.Before(now) {
			return nil
		}

		won, err := s.holds.Consume(ctx, tx, h.ID)
		if err != nil || !won {
			return err
		}
		if err := s.ledger.Increment(ctx, tx, h.ProductID, h.Quantity); err != nil {
			return errors.Wrapf(err, "release stock of hold %d", h.ID)
		}

		evt, err := domain.NewOutboxEvent("hold", h.ID, domain.EventHoldExpired, expiredEvent{
			HoldID:    h.ID,
			ProductID: h.ProductID,
			Quantity:  h.Quantity,
		}, now)
		if err != nil {
			return err
		}
		if err := s.store.InsertOutbox(ctx, tx, evt); err != nil {
			return err
		}

		hold = h
		released = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if released {
		s.ledger.Invalidate(ctx, hold.ProductID)
		s.recorder.HoldExpired(ctx, hold.ID)
	}
	return released, nil
}
