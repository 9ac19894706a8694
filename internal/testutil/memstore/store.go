// Package memstore is an in-memory stand-in for the CockroachDB repository.
// Transactions are fully serialized and roll back on error, which gives the
// same observable guarantees as row locks plus SERIALIZABLE isolation.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/domain"
)

type memTx struct {
	pgx.Tx
}

type state struct {
	nextID   int64
	products map[int64]domain.Product
	holds    map[int64]domain.Hold
	orders   map[int64]domain.Order
	events   map[string]domain.WebhookEvent
	outbox   []domain.OutboxEvent
}

func (s state) clone() state {
	c := state{
		nextID:   s.nextID,
		products: make(map[int64]domain.Product, len(s.products)),
		holds:    make(map[int64]domain.Hold, len(s.holds)),
		orders:   make(map[int64]domain.Order, len(s.orders)),
		events:   make(map[string]domain.WebhookEvent, len(s.events)),
		outbox:   append([]domain.OutboxEvent(nil), s.outbox...),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

type Store struct {
	mu    sync.Mutex
	state state

	// ConsumeErr, when set, can fail ConsumeHold for chosen holds.
	ConsumeErr func(holdID int64) error
	// StaleWebhookReads hides webhook events from reads inside a transaction,
	// as if the transaction's snapshot predates a concurrent commit.
	StaleWebhookReads bool
}

func New() *Store {
	return &Store{state: state{
		products: map[int64]domain.Product{},
		holds:    map[int64]domain.Hold{},
		orders:   map[int64]domain.Order{},
		events:   map[string]domain.WebhookEvent{},
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.state.clone()
	if err := fn(&memTx{}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

// lock takes the store mutex for calls made outside WithTx.
func (s *Store) lock(tx pgx.Tx) func() {
	if tx != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) id() int64 {
	s.state.nextID++
	return s.state.nextID
}

func (s *Store) CreateProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	defer s.lock(nil)()
	p.ID = s.id()
	s.state.products[p.ID] = p
	return p, nil
}

func (s *Store) GetProduct(_ context.Context, tx pgx.Tx, id int64) (domain.Product, error) {
	defer s.lock(tx)()
	p, ok := s.state.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) GetProductForUpdate(ctx context.Context, tx pgx.Tx, id int64) (domain.Product, error) {
	return s.GetProduct(ctx, tx, id)
}

func (s *Store) AdjustStock(_ context.Context, tx pgx.Tx, id int64, delta int) error {
	defer s.lock(tx)()
	p, ok := s.state.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	if p.Stock+delta < 0 {
		return domain.ErrInsufficientStock
	}
	p.Stock += delta
	s.state.products[id] = p
	return nil
}

func (s *Store) SumActiveHolds(_ context.Context, productID int64, now time.Time) (int, error) {
	defer s.lock(nil)()
	total := 0
	for _, h := range s.state.holds {
		if h.ProductID == productID && !h.Consumed && h.ExpiresAt.After(now) {
			total += h.Quantity
		}
	}
	return total, nil
}

func (s *Store) CreateHold(_ context.Context, tx pgx.Tx, hold domain.Hold) (domain.Hold, error) {
	defer s.lock(tx)()
	if _, ok := s.state.products[hold.ProductID]; !ok {
		return domain.Hold{}, domain.ErrProductNotFound
	}
	hold.ID = s.id()
	s.state.holds[hold.ID] = hold
	return hold, nil
}

func (s *Store) GetHold(_ context.Context, tx pgx.Tx, id int64) (domain.Hold, error) {
	defer s.lock(tx)()
	h, ok := s.state.holds[id]
	if !ok {
		return domain.Hold{}, domain.ErrHoldNotFound
	}
	return h, nil
}

func (s *Store) ConsumeHold(_ context.Context, tx pgx.Tx, id int64) (bool, error) {
	defer s.lock(tx)()
	if s.ConsumeErr != nil {
		if err := s.ConsumeErr(id); err != nil {
			return false, err
		}
	}
	h, ok := s.state.holds[id]
	if !ok || h.Consumed {
		return false, nil
	}
	h.Consumed = true
	s.state.holds[id] = h
	return true, nil
}

func (s *Store) ListExpiredHolds(_ context.Context, now time.Time, after domain.HoldCursor, limit int) ([]domain.Hold, error) {
	defer s.lock(nil)()
	var out []domain.Hold
	for _, h := range s.state.holds {
		if !h.Consumed && h.ExpiresAt.Before(now) && after.Precedes(h) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateOrder(_ context.Context, tx pgx.Tx, order domain.Order) (domain.Order, error) {
	defer s.lock(tx)()
	if order.HoldID != nil {
		for _, o := range s.state.orders {
			if o.HoldID != nil && *o.HoldID == *order.HoldID {
				return domain.Order{}, domain.ErrHoldAlreadyConsumed
			}
		}
	}
	order.ID = s.id()
	s.state.orders[order.ID] = order
	return order, nil
}

func (s *Store) GetOrder(_ context.Context, tx pgx.Tx, id int64) (domain.Order, error) {
	defer s.lock(tx)()
	o, ok := s.state.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) GetOrderByHoldID(_ context.Context, tx pgx.Tx, holdID int64) (*domain.Order, error) {
	defer s.lock(tx)()
	for _, o := range s.state.orders {
		if o.HoldID != nil && *o.HoldID == holdID {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (s *Store) TransitionOrderStatus(_ context.Context, tx pgx.Tx, id int64, to domain.OrderStatus, from ...domain.OrderStatus) (bool, error) {
	defer s.lock(tx)()
	o, ok := s.state.orders[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			s.state.orders[id] = o
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetWebhookEvent(_ context.Context, tx pgx.Tx, key string) (*domain.WebhookEvent, error) {
	defer s.lock(tx)()
	if tx != nil && s.StaleWebhookReads {
		return nil, nil
	}
	ev, ok := s.state.events[key]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (s *Store) InsertWebhookEvent(_ context.Context, tx pgx.Tx, ev domain.WebhookEvent) (domain.WebhookEvent, error) {
	defer s.lock(tx)()
	if _, ok := s.state.events[ev.IdempotencyKey]; ok {
		return domain.WebhookEvent{}, domain.ErrDuplicateWebhook
	}
	ev.ID = s.id()
	s.state.events[ev.IdempotencyKey] = ev
	return ev, nil
}

func (s *Store) NotifiedOrderID(_ context.Context, tx pgx.Tx, notifiedOrderID int64) (*int64, error) {
	defer s.lock(tx)()
	var first *domain.WebhookEvent
	for _, ev := range s.state.events {
		if ev.NotifiedOrderID != notifiedOrderID {
			continue
		}
		if first == nil || ev.ID < first.ID {
			e := ev
			first = &e
		}
	}
	if first == nil {
		return nil, nil
	}
	return &first.OrderID, nil
}

func (s *Store) InsertOutbox(_ context.Context, tx pgx.Tx, record domain.OutboxEvent) error {
	defer s.lock(tx)()
	s.state.outbox = append(s.state.outbox, record)
	return nil
}

func (s *Store) ClaimUnpublishedOutbox(_ context.Context, tx pgx.Tx, limit int) ([]domain.OutboxEvent, error) {
	defer s.lock(tx)()
	var out []domain.OutboxEvent
	for _, rec := range s.state.outbox {
		if rec.Status == "NEW" && len(out) < limit {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error {
	defer s.lock(tx)()
	for i := range s.state.outbox {
		if s.state.outbox[i].ID == id {
			at := publishedAt
			s.state.outbox[i].Status = "PUBLISHED"
			s.state.outbox[i].PublishedAt = &at
		}
	}
	return nil
}

// Test accessors.

func (s *Store) Product(id int64) domain.Product {
	defer s.lock(nil)()
	return s.state.products[id]
}

func (s *Store) Hold(id int64) domain.Hold {
	defer s.lock(nil)()
	return s.state.holds[id]
}

func (s *Store) Orders() []domain.Order {
	defer s.lock(nil)()
	out := make([]domain.Order, 0, len(s.state.orders))
	for _, o := range s.state.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) WebhookEvents() []domain.WebhookEvent {
	defer s.lock(nil)()
	out := make([]domain.WebhookEvent, 0, len(s.state.events))
	for _, ev := range s.state.events {
		out = append(out, ev)
	}
	return out
}

func (s *Store) Outbox() []domain.OutboxEvent {
	defer s.lock(nil)()
	return append([]domain.OutboxEvent(nil), s.state.outbox...)
}

// SetHold overwrites a hold, e.g. to move its expiry into the past.
func (s *Store) SetHold(h domain.Hold) {
	defer s.lock(nil)()
	s.state.holds[h.ID] = h
}
