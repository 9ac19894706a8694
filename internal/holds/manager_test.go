package holds_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/clock"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/robertarktes/inventory-holds/internal/holds"
	"github.com/robertarktes/inventory-holds/internal/ledger"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"github.com/robertarktes/inventory-holds/internal/testutil"
	"github.com/robertarktes/inventory-holds/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memstore.Store
	recorder *testutil.Recorder
	clock    *clock.Manual
	manager  *holds.Manager
	product  domain.Product
}

func setup(t *testing.T, stock int) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		recorder: &testutil.Recorder{},
		clock:    clock.NewManual(start),
	}
	logger := observability.NewNopLogger()
	l := ledger.New(f.store, testutil.NewMemCache(), f.clock, f.recorder, logger)
	f.manager = holds.NewManager(f.store, l, f.clock, f.recorder, logger, domain.DefaultHoldTTL)

	p, err := f.store.CreateProduct(context.Background(), domain.Product{
		Name:  "Widget",
		Price: decimal.RequireFromString("10.00"),
		Stock: stock,
	})
	require.NoError(t, err)
	f.product = p
	return f
}

func TestCreate(t *testing.T) {
	f := setup(t, 10)

	hold, err := f.manager.Create(context.Background(), f.product.ID, 3)
	require.NoError(t, err)

	assert.NotZero(t, hold.ID)
	assert.Equal(t, 3, hold.Quantity)
	assert.False(t, hold.Consumed)
	assert.Equal(t, start.Add(2*time.Minute), hold.ExpiresAt)
	assert.Equal(t, 7, f.store.Product(f.product.ID).Stock)

	outbox := f.store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, domain.EventHoldCreated, outbox[0].EventType)
	assert.Equal(t, hold.ID, outbox[0].AggregateID)

	obs, ok := f.recorder.Last("hold.created")
	require.True(t, ok)
	assert.Equal(t, hold.ID, obs.HoldID)
	assert.Equal(t, 3, obs.Quantity)
}

func TestCreateFailures(t *testing.T) {
	tests := []struct {
		name    string
		product func(f *fixture) int64
		qty     int
		want    []error
	}{
		{
			name:    "zero quantity",
			product: func(f *fixture) int64 { return f.product.ID },
			qty:     0,
			want:    []error{domain.ErrInvalidQuantity, domain.ErrInvalidInput},
		},
		{
			name:    "negative quantity",
			product: func(f *fixture) int64 { return f.product.ID },
			qty:     -2,
			want:    []error{domain.ErrInvalidQuantity},
		},
		{
			name:    "insufficient stock",
			product: func(f *fixture) int64 { return f.product.ID },
			qty:     3,
			want:    []error{domain.ErrHoldCreationFailed, domain.ErrInsufficientStock},
		},
		{
			name:    "unknown product",
			product: func(*fixture) int64 { return 4040 },
			qty:     1,
			want:    []error{domain.ErrProductNotFound},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, 2)

			_, err := f.manager.Create(context.Background(), tt.product(f), tt.qty)
			require.Error(t, err)
			for _, want := range tt.want {
				assert.True(t, errors.Is(err, want), "expected %v in %v", want, err)
			}
			assert.Equal(t, 2, f.store.Product(f.product.ID).Stock)
			assert.Empty(t, f.store.Outbox(), "failed creation must not leave records behind")
			assert.Zero(t, f.recorder.Count("hold.created"))
		})
	}
}

func TestInsufficientStockRecordsContention(t *testing.T) {
	f := setup(t, 1)

	_, err := f.manager.Create(context.Background(), f.product.ID, 2)
	require.Error(t, err)
	assert.Equal(t, 1, f.recorder.Count("stock.contention"))
}

func TestConcurrentCreateNeverOversells(t *testing.T) {
	f := setup(t, 5)

	var wg sync.WaitGroup
	var succeeded, rejected atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.Create(context.Background(), f.product.ID, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrHoldCreationFailed):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, succeeded.Load())
	assert.EqualValues(t, 5, rejected.Load())
	assert.Zero(t, f.store.Product(f.product.ID).Stock)
	assert.Len(t, f.store.Outbox(), 5)
}

func TestConcurrentCreateUnevenQuantities(t *testing.T) {
	f := setup(t, 7)

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.manager.Create(context.Background(), f.product.ID, 2); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 3, succeeded.Load())
	assert.Equal(t, 1, f.store.Product(f.product.ID).Stock)
}

func TestConsumeAtMostOnce(t *testing.T) {
	f := setup(t, 5)
	hold, err := f.manager.Create(context.Background(), f.product.ID, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.store.WithTx(context.Background(), func(tx pgx.Tx) error {
				won, err := f.manager.Consume(context.Background(), tx, hold.ID)
				if won {
					winners.Add(1)
				}
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners.Load())
	got, err := f.manager.Get(context.Background(), hold.ID)
	require.NoError(t, err)
	assert.True(t, got.Consumed)
}
