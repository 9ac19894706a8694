package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/inventory-holds/internal/idempotency"
	"github.com/robertarktes/inventory-holds/internal/observability"
)

// RouterOptions holds the optional edge protections; nil members are skipped.
// TrustProxyHeaders takes the client address from X-Forwarded-For/X-Real-IP
// and must only be set behind a proxy that overwrites them.
type RouterOptions struct {
	Limiter            Limiter
	RateLimitPerMinute int
	Idempotency        *idempotency.Idempotency
	TrustProxyHeaders  bool
}

func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(TracingMiddleware)
	r.Use(LoggerMiddleware(logger))

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(RateLimitMiddleware(opts.Limiter, opts.RateLimitPerMinute, logger))
		}

		r.Get("/v1/products/{id}", h.GetProduct)
		r.Post("/v1/products", h.CreateProduct)
		r.Get("/v1/holds/{id}", h.GetHold)
		r.Get("/v1/orders/{id}", h.GetOrder)
		r.Post("/v1/payments/webhook", h.PaymentWebhook)

		r.Group(func(r chi.Router) {
			if opts.Idempotency != nil {
				r.Use(opts.Idempotency.Middleware)
			}
			r.Post("/v1/holds", h.CreateHold)
			r.Post("/v1/orders", h.CreateOrder)
		})
	})

	return r
}
