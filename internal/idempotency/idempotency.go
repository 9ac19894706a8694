// Package idempotency replays the first successful response to a request that
// carries an Idempotency-Key header.
package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"time"

	redisadapter "github.com/robertarktes/inventory-holds/internal/adapters/redis"
	"github.com/robertarktes/inventory-holds/internal/observability"
)

const (
	Header         = "Idempotency-Key"
	ReplayedHeader = "Idempotent-Replayed"

	lockTTL = 30 * time.Second
)

type Response = redisadapter.IdempResponse

type Store interface {
	Get(ctx context.Context, key string) (*Response, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	store  Store
	ttl    time.Duration
	logger observability.Logger
}

func NewIdempotency(store Store, ttl time.Duration, logger observability.Logger) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, logger: logger}
}

// scoped keeps one client key from colliding across endpoints.
func scoped(r *http.Request, key string) string {
	return r.Method + ":" + r.URL.Path + ":" + key
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// Middleware is a no-op for requests without the header. A store outage
// degrades to plain request handling rather than failing the request.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(Header)
		if raw == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := scoped(r, raw)
		log := i.logger.WithField("idempotency_key", raw)

		existing, err := i.store.Get(ctx, key)
		if err != nil {
			log.WithError(err).Warn("idempotency lookup failed")
			next.ServeHTTP(w, r)
			return
		}
		if existing != nil {
			replay(w, existing)
			return
		}

		locked, err := i.store.Lock(ctx, key, lockTTL)
		if err != nil {
			log.WithError(err).Warn("idempotency lock failed")
			next.ServeHTTP(w, r)
			return
		}
		if !locked {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"a request with this idempotency key is in progress","code":"idempotency_conflict"}`))
			return
		}
		defer func() {
			if err := i.store.Unlock(context.WithoutCancel(ctx), key); err != nil {
				log.WithError(err).Warn("idempotency unlock failed")
			}
		}()

		// A request holding the lock between our first lookup and Lock may
		// already have stored its response.
		existing, err = i.store.Get(ctx, key)
		if err != nil {
			log.WithError(err).Warn("idempotency lookup failed")
		}
		if existing != nil {
			replay(w, existing)
			return
		}

		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		if rec.status < 200 || rec.status >= 300 {
			return
		}
		resp := Response{
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Result:      rec.body.Bytes(),
		}
		if err := i.store.Set(context.WithoutCancel(ctx), key, resp, i.ttl); err != nil {
			log.WithError(err).Warn("idempotency record not saved")
		}
	})
}

func replay(w http.ResponseWriter, resp *Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Result)
}
