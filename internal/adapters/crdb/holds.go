package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/domain"
)

const holdColumns = `id, product_id, quantity, expires_at, consumed, created_at`

func scanHold(row pgx.Row) (domain.Hold, error) {
	var h domain.Hold
	err := row.Scan(&h.ID, &h.ProductID, &h.Quantity, &h.ExpiresAt, &h.Consumed, &h.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Hold{}, domain.ErrHoldNotFound
		}
		return domain.Hold{}, errors.Wrap(err, "scan hold")
	}
	return h, nil
}

func (r *Repository) CreateHold(ctx context.Context, tx pgx.Tx, hold domain.Hold) (domain.Hold, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO holds (product_id, quantity, expires_at, consumed, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, hold.ProductID, hold.Quantity, hold.ExpiresAt, hold.Consumed, hold.CreatedAt).Scan(&hold.ID)
	if err != nil {
		return domain.Hold{}, errors.Wrap(err, "create hold")
	}
	return hold, nil
}

func (r *Repository) GetHold(ctx context.Context, tx pgx.Tx, id int64) (domain.Hold, error) {
	return scanHold(r.q(tx).QueryRow(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = $1`, id))
}

// ConsumeHold flips consumed false->true in a single conditional write and
// reports whether this caller performed the transition.
func (r *Repository) ConsumeHold(ctx context.Context, tx pgx.Tx, id int64) (bool, error) {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE holds SET consumed = true WHERE id = $1 AND consumed = false
	`, id)
	if err != nil {
		return false, errors.Wrapf(err, "consume hold %d", id)
	}
	return tag.RowsAffected() == 1, nil
}

// ListExpiredHolds returns up to limit unconsumed holds whose expiry is
// strictly before now and that sort after the cursor, in (expires_at, id) order.
func (r *Repository) ListExpiredHolds(ctx context.Context, now time.Time, after domain.HoldCursor, limit int) ([]domain.Hold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+holdColumns+`
		FROM holds
		WHERE consumed = false AND expires_at < $1 AND (expires_at, id) > ($2, $3)
		ORDER BY expires_at ASC, id ASC
		LIMIT $4
	`, now, after.ExpiresAt, after.ID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list expired holds")
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, errors.Wrap(rows.Err(), "iterate expired holds")
}
