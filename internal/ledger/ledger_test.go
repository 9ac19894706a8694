package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/robertarktes/inventory-holds/internal/ledger"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"github.com/robertarktes/inventory-holds/internal/testutil"
	"github.com/robertarktes/inventory-holds/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *memstore.Store
	cache    *testutil.MemCache
	recorder *testutil.Recorder
	clock    *clock.Manual
	ledger   *ledger.Ledger
	product  domain.Product
}

func setup(t *testing.T, stock int) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		cache:    testutil.NewMemCache(),
		recorder: &testutil.Recorder{},
		clock:    clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.ledger = ledger.New(f.store, f.cache, f.clock, f.recorder, observability.NewNopLogger())

	p, err := f.store.CreateProduct(context.Background(), domain.Product{
		Name:  "Widget",
		Price: decimal.RequireFromString("19.99"),
		Stock: stock,
	})
	require.NoError(t, err)
	f.product = p
	return f
}

func (f *fixture) decrement(qty int) error {
	return f.store.WithTx(context.Background(), func(tx pgx.Tx) error {
		return f.ledger.Decrement(context.Background(), tx, f.product.ID, qty)
	})
}

func TestDecrement(t *testing.T) {
	f := setup(t, 10)

	require.NoError(t, f.decrement(3))
	assert.Equal(t, 7, f.store.Product(f.product.ID).Stock)
	assert.Equal(t, 1, f.cache.ForgetCount(ledger.CacheKey(f.product.ID)))
}

func TestDecrementInsufficientStock(t *testing.T) {
	f := setup(t, 2)

	err := f.decrement(3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
	assert.Equal(t, 2, f.store.Product(f.product.ID).Stock)
	assert.Equal(t, 1, f.recorder.Count("stock.contention"))
	assert.Zero(t, f.cache.ForgetCount(ledger.CacheKey(f.product.ID)))
}

func TestDecrementRejectsInvalidQuantity(t *testing.T) {
	f := setup(t, 5)

	for _, qty := range []int{0, -1} {
		err := f.decrement(qty)
		assert.True(t, errors.Is(err, domain.ErrInvalidQuantity), "qty %d", qty)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "qty %d", qty)
	}
	assert.Equal(t, 5, f.store.Product(f.product.ID).Stock)
}

func TestDecrementUnknownProduct(t *testing.T) {
	f := setup(t, 5)

	err := f.store.WithTx(context.Background(), func(tx pgx.Tx) error {
		return f.ledger.Decrement(context.Background(), tx, 999, 1)
	})
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
}

func TestDecrementRolledBackWithTransaction(t *testing.T) {
	f := setup(t, 5)
	boom := errors.New("boom")

	err := f.store.WithTx(context.Background(), func(tx pgx.Tx) error {
		if err := f.ledger.Decrement(context.Background(), tx, f.product.ID, 2); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 5, f.store.Product(f.product.ID).Stock)
}

func TestIncrement(t *testing.T) {
	f := setup(t, 4)

	err := f.store.WithTx(context.Background(), func(tx pgx.Tx) error {
		return f.ledger.Increment(context.Background(), tx, f.product.ID, 3)
	})
	require.NoError(t, err)
	assert.Equal(t, 7, f.store.Product(f.product.ID).Stock)
	assert.Equal(t, 1, f.cache.ForgetCount(ledger.CacheKey(f.product.ID)))
}

func TestConcurrentDecrementsNeverOversell(t *testing.T) {
	f := setup(t, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, failed := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.decrement(1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, domain.ErrInsufficientStock) {
				failed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, failed)
	assert.Zero(t, f.store.Product(f.product.ID).Stock)
}

func TestAvailableStock(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	now := f.clock.Now()

	// Holds are recorded directly so that stock still counts them, which is
	// how the read model is defined.
	err := f.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := f.store.CreateHold(ctx, tx, domain.NewHold(f.product.ID, 3, now, time.Minute)); err != nil {
			return err
		}
		expired := domain.NewHold(f.product.ID, 4, now.Add(-time.Hour), time.Minute)
		_, err := f.store.CreateHold(ctx, tx, expired)
		return err
	})
	require.NoError(t, err)

	n, err := f.ledger.AvailableStock(ctx, f.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 1, f.cache.Sets)

	t.Run("served from cache", func(t *testing.T) {
		require.NoError(t, f.store.AdjustStock(ctx, nil, f.product.ID, -5))
		n, err := f.ledger.AvailableStock(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, n)
		assert.Equal(t, 1, f.cache.Sets)
	})

	t.Run("recomputed after invalidation", func(t *testing.T) {
		f.ledger.Invalidate(ctx, f.product.ID)
		n, err := f.ledger.AvailableStock(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("floored at zero", func(t *testing.T) {
		require.NoError(t, f.store.AdjustStock(ctx, nil, f.product.ID, -4))
		f.ledger.Invalidate(ctx, f.product.ID)
		n, err := f.ledger.AvailableStock(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestAvailableStockCacheFailureFallsBack(t *testing.T) {
	f := setup(t, 6)
	f.cache.GetErr = errors.New("redis down")

	n, err := f.ledger.AvailableStock(context.Background(), f.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestAvailableStockUnknownProduct(t *testing.T) {
	f := setup(t, 1)

	_, err := f.ledger.AvailableStock(context.Background(), 404)
	assert.True(t, errors.Is(err, domain.ErrProductNotFound))
}
