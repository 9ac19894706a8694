// Package ledger owns product stock: locked decrements, releases, and the
// short-lived available-stock read model.
package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = 5 * time.Second

type Store interface {
	GetProduct(ctx context.Context, tx pgx.Tx, id int64) (domain.Product, error)
	GetProductForUpdate(ctx context.Context, tx pgx.Tx, id int64) (domain.Product, error)
	AdjustStock(ctx context.Context, tx pgx.Tx, id int64, delta int) error
	SumActiveHolds(ctx context.Context, productID int64, now time.Time) (int, error)
}

// Cache is advisory: failures are logged and the value is recomputed.
type Cache interface {
	Get(ctx context.Context, key string) (int, bool, error)
	Set(ctx context.Context, key string, value int, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

type Ledger struct {
	store    Store
	cache    Cache
	clock    clock.Clock
	recorder observability.Recorder
	logger   observability.Logger
	cacheTTL time.Duration
	group    singleflight.Group
}

type Option func(*Ledger)

func WithCacheTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.cacheTTL = d
		}
	}
}

func New(store Store, cache Cache, clk clock.Clock, recorder observability.Recorder, logger observability.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		cache:    cache,
		clock:    clk,
		recorder: recorder,
		logger:   logger,
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func CacheKey(productID int64) string {
	return "product:" + strconv.FormatInt(productID, 10) + ":available_stock"
}

// Decrement locks the product row, re-reads stock under the lock and subtracts
// qty. It must run inside the caller's transaction so a later failure rolls it back.
func (l *Ledger) Decrement(ctx context.Context, tx pgx.Tx, productID int64, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	product, err := l.store.GetProductForUpdate(ctx, tx, productID)
	if err != nil {
		return err
	}
	if product.Stock < qty {
		l.recorder.StockContention(ctx, productID, 1)
		return errors.Wrapf(domain.ErrInsufficientStock, "product %d: requested %d, in stock %d", productID, qty, product.Stock)
	}

	if err := l.store.AdjustStock(ctx, tx, productID, -qty); err != nil {
		return err
	}
	l.Invalidate(ctx, productID)
	return nil
}

// Increment returns qty to stock. Callers only release what they reserved earlier.
func (l *Ledger) Increment(ctx context.Context, tx pgx.Tx, productID int64, qty int) error {
	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	if err := l.store.AdjustStock(ctx, tx, productID, qty); err != nil {
		return err
	}
	l.Invalidate(ctx, productID)
	return nil
}

// AvailableStock is stock minus quantity held by unconsumed, unexpired holds,
// floored at zero and cached for the configured TTL.
func (l *Ledger) AvailableStock(ctx context.Context, productID int64) (int, error) {
	key := CacheKey(productID)

	n, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		l.logger.WithError(err).WithField("product_id", productID).Warn("availability cache read failed")
	} else if ok {
		return n, nil
	}

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		product, err := l.store.GetProduct(ctx, nil, productID)
		if err != nil {
			return 0, err
		}
		held, err := l.store.SumActiveHolds(ctx, productID, l.clock.Now())
		if err != nil {
			return 0, err
		}

		available := max(0, product.Stock-held)
		if err := l.cache.Set(ctx, key, available, l.cacheTTL); err != nil {
			l.logger.WithError(err).WithField("product_id", productID).Warn("availability cache write failed")
		}
		return available, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (l *Ledger) Invalidate(ctx context.Context, productID int64) {
	if err := l.cache.Forget(ctx, CacheKey(productID)); err != nil {
		l.logger.WithError(err).WithField("product_id", productID).Warn("availability cache invalidation failed")
	}
}
