package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/domain"
)

func (r *Repository) GetWebhookEvent(ctx context.Context, tx pgx.Tx, key string) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	var status string
	err := r.q(tx).QueryRow(ctx, `
		SELECT id, idempotency_key, order_id, notified_order_id, status, payload, processed_at
		FROM webhook_events WHERE idempotency_key = $1
	`, key).Scan(&ev.ID, &ev.IdempotencyKey, &ev.OrderID, &ev.NotifiedOrderID, &status, &ev.Payload, &ev.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get webhook event")
	}
	ev.Status = domain.PaymentStatus(status)
	return &ev, nil
}

// InsertWebhookEvent relies on the unique idempotency_key constraint: a
// concurrent insert of the same key fails with domain.ErrDuplicateWebhook.
func (r *Repository) InsertWebhookEvent(ctx context.Context, tx pgx.Tx, ev domain.WebhookEvent) (domain.WebhookEvent, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO webhook_events (idempotency_key, order_id, notified_order_id, status, payload, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, ev.IdempotencyKey, ev.OrderID, ev.NotifiedOrderID, string(ev.Status), []byte(ev.Payload), ev.ProcessedAt).Scan(&ev.ID)
	if err != nil {
		if pgCode(err) == UniqueViolationCode {
			return domain.WebhookEvent{}, errors.Mark(err, domain.ErrDuplicateWebhook)
		}
		return domain.WebhookEvent{}, errors.Wrap(err, "insert webhook event")
	}
	return ev, nil
}

// NotifiedOrderID returns the order an earlier notification naming
// notifiedOrderID was applied to, or nil when none was.
func (r *Repository) NotifiedOrderID(ctx context.Context, tx pgx.Tx, notifiedOrderID int64) (*int64, error) {
	var orderID int64
	err := r.q(tx).QueryRow(ctx, `
		SELECT order_id FROM webhook_events
		WHERE notified_order_id = $1
		ORDER BY id ASC
		LIMIT 1
	`, notifiedOrderID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "resolve notified order %d", notifiedOrderID)
	}
	return &orderID, nil
}
