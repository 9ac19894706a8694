package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holds_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "holds_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holds_db_tx_retries_total",
			Help: "Transactions retried after a serialization failure",
		},
	)

	HoldsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holds_created_total",
			Help: "Holds created",
		},
	)

	HoldsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holds_expired_total",
			Help: "Holds released by the expiry sweeper",
		},
	)

	StockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holds_stock_contention_total",
			Help: "Stock decrements rejected for insufficient stock",
		},
	)

	WebhooksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "holds_webhooks_processed_total",
			Help: "Payment webhooks processed",
		},
		[]string{"duplicate"},
	)

	ExpiryBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "holds_expiry_batch_seconds",
			Help:    "Duration of expiry sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "holds_outbox_lag_seconds",
			Help: "Age of the oldest outbox record published in the last batch",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holds_rabbit_publish_failures_total",
			Help: "Outbox records left for the next batch after a failed publish",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "holds_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			DBTxDuration,
			DBTxRetries,
			HoldsCreated,
			HoldsExpired,
			StockContention,
			WebhooksProcessed,
			ExpiryBatchDuration,
			OutboxLag,
			RabbitPublishRetries,
			RateLimitExceeded,
		)
	})
}
