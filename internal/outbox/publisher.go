// Package outbox relays committed domain events to the message broker.
package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/robertarktes/inventory-holds/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ClaimUnpublishedOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, routingKey, messageID string, body []byte) error
}

// Relay publishes outbox records at least once. A record is marked published
// in the same transaction that claimed it; if that transaction fails after a
// publish, the record goes out again with the same message id.
type Relay struct {
	store     Store
	broker    Broker
	clock     clock.Clock
	logger    observability.Logger
	batchSize int
}

func NewRelay(store Store, broker Broker, clk clock.Clock, logger observability.Logger, batchSize int) *Relay {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Relay{store: store, broker: broker, clock: clk, logger: logger, batchSize: batchSize}
}

func (r *Relay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Error("outbox flush failed")
				continue
			}
			if n > 0 {
				r.logger.WithField("published", n).Debug("outbox flushed")
			}
		}
	}
}

// Flush publishes one batch in creation order and reports how many records
// were marked published. It stops at the first broker failure so later
// records never overtake an earlier one.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	published := 0
	var publishErr error

	err := r.store.WithTx(ctx, func(tx pgx.Tx) error {
		published, publishErr = 0, nil

		records, err := r.store.ClaimUnpublishedOutbox(ctx, tx, r.batchSize)
		if err != nil {
			return err
		}

		now := r.clock.Now()
		for _, rec := range records {
			if err := r.broker.Publish(ctx, rec.EventType, rec.DedupeKey, rec.Payload); err != nil {
				observability.RabbitPublishRetries.Inc()
				publishErr = errors.Wrapf(err, "outbox record %s", rec.ID)
				break
			}
			if err := r.store.MarkPublished(ctx, tx, rec.ID, now); err != nil {
				return err
			}
			observability.OutboxLag.Set(now.Sub(rec.CreatedAt).Seconds())
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, publishErr
}
