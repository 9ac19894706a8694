// Package testutil holds fakes shared by service tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// MemCache is an in-memory ledger cache that counts invalidations per key.
type MemCache struct {
	mu      sync.Mutex
	values  map[string]int
	Forgets map[string]int
	GetErr  error
	Sets    int
}

func NewMemCache() *MemCache {
	return &MemCache{values: map[string]int{}, Forgets: map[string]int{}}
}

func (c *MemCache) Get(_ context.Context, key string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return 0, false, c.GetErr
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *MemCache) Set(_ context.Context, key string, value int, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.Sets++
	return nil
}

func (c *MemCache) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	c.Forgets[key]++
	return nil
}

func (c *MemCache) ForgetCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Forgets[key]
}

// Observation is one call captured by Recorder.
type Observation struct {
	Metric    string
	HoldID    int64
	ProductID int64
	Quantity  int
	Key       string
	Duplicate bool
	Processed int
	Released  int
}

type Recorder struct {
	mu           sync.Mutex
	Observations []Observation
}

func (r *Recorder) add(o Observation) {
	r.mu.Lock()
	r.Observations = append(r.Observations, o)
	r.mu.Unlock()
}

func (r *Recorder) HoldCreated(_ context.Context, holdID, productID int64, quantity int) {
	r.add(Observation{Metric: "hold.created", HoldID: holdID, ProductID: productID, Quantity: quantity})
}

func (r *Recorder) HoldExpired(_ context.Context, holdID int64) {
	r.add(Observation{Metric: "hold.expired", HoldID: holdID})
}

func (r *Recorder) ExpiryBatch(_ context.Context, processed, released int, _ time.Duration) {
	r.add(Observation{Metric: "expiry.batch", Processed: processed, Released: released})
}

func (r *Recorder) WebhookProcessed(_ context.Context, key string, duplicate bool) {
	r.add(Observation{Metric: "webhook.processed", Key: key, Duplicate: duplicate})
}

func (r *Recorder) StockContention(_ context.Context, productID int64, _ int) {
	r.add(Observation{Metric: "stock.contention", ProductID: productID})
}

// Count returns how many observations of metric were recorded.
func (r *Recorder) Count(metric string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, o := range r.Observations {
		if o.Metric == metric {
			n++
		}
	}
	return n
}

func (r *Recorder) Last(metric string) (Observation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.Observations) - 1; i >= 0; i-- {
		if r.Observations[i].Metric == metric {
			return r.Observations[i], true
		}
	}
	return Observation{}, false
}
