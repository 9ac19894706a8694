package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, price::TEXT, stock`

func scanProduct(row pgx.Row) (domain.Product, error) {
	var p domain.Product
	var price string
	if err := row.Scan(&p.ID, &p.Name, &price, &p.Stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, errors.Wrap(err, "scan product")
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, errors.Wrapf(err, "parse price of product %d", p.ID)
	}
	p.Price = d
	return p, nil
}

func (r *Repository) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO products (name, price, stock)
		VALUES ($1, $2, $3)
		RETURNING id
	`, p.Name, p.Price.StringFixed(2), p.Stock).Scan(&p.ID)
	if err != nil {
		return domain.Product{}, errors.Wrap(err, "create product")
	}
	return p, nil
}

func (r *Repository) GetProduct(ctx context.Context, tx pgx.Tx, id int64) (domain.Product, error) {
	return scanProduct(r.q(tx).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// GetProductForUpdate reads the product under an exclusive row lock held until tx ends.
func (r *Repository) GetProductForUpdate(ctx context.Context, tx pgx.Tx, id int64) (domain.Product, error) {
	return scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

// AdjustStock adds delta (negative to subtract) to the product's stock.
func (r *Repository) AdjustStock(ctx context.Context, tx pgx.Tx, id int64, delta int) error {
	tag, err := r.q(tx).Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1
	`, id, delta)
	if err != nil {
		if pgCode(err) == CheckViolationCode {
			return domain.ErrInsufficientStock
		}
		return errors.Wrapf(err, "adjust stock of product %d", id)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// SumActiveHolds totals unconsumed holds that have not yet expired at now.
func (r *Repository) SumActiveHolds(ctx context.Context, productID int64, now time.Time) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::INT8
		FROM holds
		WHERE product_id = $1 AND consumed = false AND expires_at > $2
	`, productID, now).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "sum active holds")
	}
	return total, nil
}
