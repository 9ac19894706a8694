package orders_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/robertarktes/inventory-holds/internal/expiry"
	"github.com/robertarktes/inventory-holds/internal/holds"
	"github.com/robertarktes/inventory-holds/internal/ledger"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"github.com/robertarktes/inventory-holds/internal/orders"
	"github.com/robertarktes/inventory-holds/internal/testutil"
	"github.com/robertarktes/inventory-holds/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *memstore.Store
	clock     *clock.Manual
	holds     *holds.Manager
	sweeper   *expiry.Sweeper
	lifecycle *orders.Lifecycle
	product   domain.Product
}

func setup(t *testing.T, stock int) *fixture {
	t.Helper()
	f := &fixture{
		store: memstore.New(),
		clock: clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	logger := observability.NewNopLogger()
	recorder := &testutil.Recorder{}
	l := ledger.New(f.store, testutil.NewMemCache(), f.clock, recorder, logger)
	f.holds = holds.NewManager(f.store, l, f.clock, recorder, logger, 2*time.Minute)
	f.sweeper = expiry.NewSweeper(f.store, f.holds, l, f.clock, recorder, logger, 10)
	f.lifecycle = orders.NewLifecycle(f.store, f.holds, l, f.clock, logger)

	p, err := f.store.CreateProduct(context.Background(), domain.Product{
		Name:  "Widget",
		Price: decimal.RequireFromString("12.50"),
		Stock: stock,
	})
	require.NoError(t, err)
	f.product = p
	return f
}

func (f *fixture) hold(t *testing.T, qty int) domain.Hold {
	t.Helper()
	h, err := f.holds.Create(context.Background(), f.product.ID, qty)
	require.NoError(t, err)
	return h
}

func (f *fixture) stock() int {
	return f.store.Product(f.product.ID).Stock
}

func (f *fixture) inTx(t *testing.T, fn func(tx pgx.Tx) (domain.Order, error)) (domain.Order, error) {
	t.Helper()
	var out domain.Order
	err := f.store.WithTx(context.Background(), func(tx pgx.Tx) error {
		o, err := fn(tx)
		out = o
		return err
	})
	return out, err
}

func TestCreateFromHold(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	h := f.hold(t, 2)

	order, err := f.lifecycle.CreateFromHold(ctx, h.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	require.NotNil(t, order.HoldID)
	assert.Equal(t, h.ID, *order.HoldID)
	assert.True(t, decimal.RequireFromString("25.00").Equal(order.TotalPrice))
	assert.True(t, f.store.Hold(h.ID).Consumed)
	assert.Equal(t, 8, f.stock(), "converting a hold does not touch stock again")

	t.Run("retry returns the same order", func(t *testing.T) {
		again, err := f.lifecycle.CreateFromHold(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, order.ID, again.ID)
		assert.Len(t, f.store.Orders(), 1)
	})

	t.Run("retry after expiry still returns the order", func(t *testing.T) {
		f.clock.Advance(time.Hour)
		again, err := f.lifecycle.CreateFromHold(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, order.ID, again.ID)
	})
}

func TestCreateFromHoldRejected(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture) int64
		want    error
	}{
		{
			name: "expired hold",
			prepare: func(t *testing.T, f *fixture) int64 {
				h := f.hold(t, 2)
				f.clock.Advance(2 * time.Minute)
				return h.ID
			},
			want: domain.ErrHoldInvalid,
		},
		{
			name: "hold released by the sweeper",
			prepare: func(t *testing.T, f *fixture) int64 {
				h := f.hold(t, 2)
				f.clock.Advance(3 * time.Minute)
				_, err := f.sweeper.Sweep(context.Background())
				require.NoError(t, err)
				f.clock.Advance(-3 * time.Minute)
				return h.ID
			},
			want: domain.ErrHoldInvalid,
		},
		{
			name: "unknown hold",
			prepare: func(*testing.T, *fixture) int64 {
				return 999
			},
			want: domain.ErrHoldNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, 10)
			id := tt.prepare(t, f)
			before := f.stock()

			_, err := f.lifecycle.CreateFromHold(context.Background(), id)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Empty(t, f.store.Orders())
			assert.Equal(t, before, f.stock())
		})
	}
}

func TestCreateDirect(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes a valid matching hold", func(t *testing.T) {
		f := setup(t, 10)
		h := f.hold(t, 3)

		order, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
			return f.lifecycle.CreateDirect(ctx, tx, f.product.ID, 3, &h.ID)
		})
		require.NoError(t, err)
		require.NotNil(t, order.HoldID)
		assert.Equal(t, h.ID, *order.HoldID)
		assert.True(t, f.store.Hold(h.ID).Consumed)
		assert.Equal(t, 7, f.stock())
	})

	t.Run("falls back to the ledger when the hold expired", func(t *testing.T) {
		f := setup(t, 10)
		h := f.hold(t, 3)
		f.clock.Advance(5 * time.Minute)

		order, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
			return f.lifecycle.CreateDirect(ctx, tx, f.product.ID, 3, &h.ID)
		})
		require.NoError(t, err)
		assert.Nil(t, order.HoldID)
		assert.False(t, f.store.Hold(h.ID).Consumed, "the sweeper still owns the expired hold")
		assert.Equal(t, 4, f.stock())
	})

	t.Run("ignores a hold for a different quantity", func(t *testing.T) {
		f := setup(t, 10)
		h := f.hold(t, 3)

		order, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
			return f.lifecycle.CreateDirect(ctx, tx, f.product.ID, 1, &h.ID)
		})
		require.NoError(t, err)
		assert.Nil(t, order.HoldID)
		assert.False(t, f.store.Hold(h.ID).Consumed)
		assert.Equal(t, 6, f.stock())
	})

	t.Run("without a hold", func(t *testing.T) {
		f := setup(t, 10)

		order, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
			return f.lifecycle.CreateDirect(ctx, tx, f.product.ID, 4, nil)
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, order.Status)
		assert.True(t, decimal.RequireFromString("50").Equal(order.TotalPrice))
		assert.Equal(t, 6, f.stock())
	})

	t.Run("insufficient stock rolls back", func(t *testing.T) {
		f := setup(t, 2)

		_, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
			return f.lifecycle.CreateDirect(ctx, tx, f.product.ID, 3, nil)
		})
		assert.True(t, errors.Is(err, domain.ErrInsufficientStock))
		assert.Empty(t, f.store.Orders())
		assert.Equal(t, 2, f.stock())
	})

	t.Run("invalid quantity", func(t *testing.T) {
		f := setup(t, 2)

		_, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
			return f.lifecycle.CreateDirect(ctx, tx, f.product.ID, 0, nil)
		})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestCreateDirectCancelled(t *testing.T) {
	ctx := context.Background()

	t.Run("releases a valid hold", func(t *testing.T) {
		f := setup(t, 10)
		h := f.hold(t, 3)

		order, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
			return f.lifecycle.CreateDirectCancelled(ctx, tx, f.product.ID, 3, &h.ID)
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, order.Status)
		assert.True(t, f.store.Hold(h.ID).Consumed)
		assert.Equal(t, 10, f.stock())
	})

	t.Run("leaves stock alone without a hold", func(t *testing.T) {
		f := setup(t, 10)

		order, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
			return f.lifecycle.CreateDirectCancelled(ctx, tx, f.product.ID, 3, nil)
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, order.Status)
		assert.Equal(t, 10, f.stock())
	})
}

func TestMarkAsPaid(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	order, err := f.lifecycle.CreateFromHold(ctx, f.hold(t, 2).ID)
	require.NoError(t, err)

	paid, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
		return f.lifecycle.MarkAsPaid(ctx, tx, order)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)

	again, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
		return f.lifecycle.MarkAsPaid(ctx, tx, paid)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, again.Status)
	assert.Equal(t, 8, f.stock())

	stored, err := f.lifecycle.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, stored.Status)

	var paidEvents int
	for _, rec := range f.store.Outbox() {
		if rec.EventType == domain.EventOrderPaid {
			paidEvents++
		}
	}
	assert.Equal(t, 1, paidEvents)
}

func TestMarkAsPaidStaleOrder(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	order, err := f.lifecycle.CreateFromHold(ctx, f.hold(t, 2).ID)
	require.NoError(t, err)

	_, err = f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
		return f.lifecycle.Cancel(ctx, tx, order)
	})
	require.NoError(t, err)

	// order still reads pending in memory; the store knows better.
	got, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
		return f.lifecycle.MarkAsPaid(ctx, tx, order)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, got.Status)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	order, err := f.lifecycle.CreateFromHold(ctx, f.hold(t, 4).ID)
	require.NoError(t, err)
	require.Equal(t, 6, f.stock())

	cancelled, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
		return f.lifecycle.Cancel(ctx, tx, order)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 10, f.stock())

	for _, o := range []domain.Order{cancelled, order} {
		_, err := f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
			return f.lifecycle.Cancel(ctx, tx, o)
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 10, f.stock(), "stock is released once")

	_, err = f.lifecycle.Get(ctx, 12345)
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
}

// recordingConsumer counts consume attempts on the way to the hold manager.
type recordingConsumer struct {
	next  orders.HoldConsumer
	calls []int64
}

func (c *recordingConsumer) Consume(ctx context.Context, tx pgx.Tx, holdID int64) (bool, error) {
	c.calls = append(c.calls, holdID)
	return c.next.Consume(ctx, tx, holdID)
}

func TestHoldsAreConsumedThroughHoldConsumer(t *testing.T) {
	ctx := context.Background()
	f := setup(t, 10)
	consumer := &recordingConsumer{next: f.holds}
	l := ledger.New(f.store, testutil.NewMemCache(), f.clock, &testutil.Recorder{}, observability.NewNopLogger())
	lifecycle := orders.NewLifecycle(f.store, consumer, l, f.clock, observability.NewNopLogger())

	fromHold := f.hold(t, 2)
	_, err := lifecycle.CreateFromHold(ctx, fromHold.ID)
	require.NoError(t, err)

	direct := f.hold(t, 3)
	_, err = f.inTx(t, func(tx pgx.Tx) (domain.Order, error) {
		return lifecycle.CreateDirect(ctx, tx, f.product.ID, 3, &direct.ID)
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{fromHold.ID, direct.ID}, consumer.calls)
	assert.Equal(t, 5, f.stock())
}
