package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, hold_id, product_id, quantity, total_price::TEXT, status, created_at`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var total, status string
	err := row.Scan(&o.ID, &o.HoldID, &o.ProductID, &o.Quantity, &total, &status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, errors.Wrap(err, "scan order")
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return domain.Order{}, errors.Wrapf(err, "parse total of order %d", o.ID)
	}
	o.TotalPrice = d
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func (r *Repository) CreateOrder(ctx context.Context, tx pgx.Tx, order domain.Order) (domain.Order, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO orders (hold_id, product_id, quantity, total_price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, order.HoldID, order.ProductID, order.Quantity, order.TotalPrice.StringFixed(2), string(order.Status), order.CreatedAt).Scan(&order.ID)
	if pgCode(err) == UniqueViolationCode {
		return domain.Order{}, errors.Mark(errors.Wrapf(err, "hold %v already has an order", *order.HoldID), domain.ErrHoldAlreadyConsumed)
	}
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "create order")
	}
	return order, nil
}

func (r *Repository) GetOrder(ctx context.Context, tx pgx.Tx, id int64) (domain.Order, error) {
	return scanOrder(r.q(tx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetOrderByHoldID returns nil when no order was created from the hold.
func (r *Repository) GetOrderByHoldID(ctx context.Context, tx pgx.Tx, holdID int64) (*domain.Order, error) {
	o, err := scanOrder(r.q(tx).QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE hold_id = $1`, holdID))
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// TransitionOrderStatus sets status to `to` only while the current status is one of `from`.
// It reports whether the row changed.
func (r *Repository) TransitionOrderStatus(ctx context.Context, tx pgx.Tx, id int64, to domain.OrderStatus, from ...domain.OrderStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, id, string(to), allowed)
	if err != nil {
		return false, errors.Wrapf(err, "transition order %d to %s", id, to)
	}
	return tag.RowsAffected() == 1, nil
}
