package observability

import (
	"context"
	"strconv"
	"time"
)

// Recorder receives fire-and-forget observations from the core services.
type Recorder interface {
	HoldCreated(ctx context.Context, holdID, productID int64, quantity int)
	HoldExpired(ctx context.Context, holdID int64)
	ExpiryBatch(ctx context.Context, processed, released int, duration time.Duration)
	WebhookProcessed(ctx context.Context, idempotencyKey string, duplicate bool)
	StockContention(ctx context.Context, productID int64, attempts int)
}

// AuditSink persists observations out of band (the Mongo audit log in production).
type AuditSink interface {
	Append(ctx context.Context, metric string, data map[string]interface{}) error
}

const auditTimeout = 2 * time.Second

type MetricsRecorder struct {
	logger Logger
	audit  AuditSink
}

// NewRecorder logs every observation and counts it in Prometheus. audit may be nil.
func NewRecorder(logger Logger, audit AuditSink) *MetricsRecorder {
	return &MetricsRecorder{logger: logger, audit: audit}
}

func (r *MetricsRecorder) HoldCreated(ctx context.Context, holdID, productID int64, quantity int) {
	HoldsCreated.Inc()
	r.emit(ctx, "hold.created", "Hold created", map[string]interface{}{
		"hold_id":    holdID,
		"product_id": productID,
		"quantity":   quantity,
	}, false)
}

func (r *MetricsRecorder) HoldExpired(ctx context.Context, holdID int64) {
	HoldsExpired.Inc()
	r.emit(ctx, "hold.expired", "Hold expired", map[string]interface{}{
		"hold_id": holdID,
	}, false)
}

func (r *MetricsRecorder) ExpiryBatch(ctx context.Context, processed, released int, duration time.Duration) {
	ExpiryBatchDuration.Observe(duration.Seconds())
	r.emit(ctx, "expiry.batch", "Batch expiry processed", map[string]interface{}{
		"expired_count":  processed,
		"released_count": released,
		"duration_ms":    float64(duration.Microseconds()) / 1000,
	}, false)
}

func (r *MetricsRecorder) WebhookProcessed(ctx context.Context, idempotencyKey string, duplicate bool) {
	WebhooksProcessed.WithLabelValues(strconv.FormatBool(duplicate)).Inc()
	r.emit(ctx, "webhook.processed", "Webhook processed", map[string]interface{}{
		"idempotency_key": idempotencyKey,
		"is_duplicate":    duplicate,
	}, false)
}

func (r *MetricsRecorder) StockContention(ctx context.Context, productID int64, attempts int) {
	StockContention.Inc()
	r.emit(ctx, "stock.contention", "Stock contention detected", map[string]interface{}{
		"product_id": productID,
		"attempts":   attempts,
	}, true)
}

func (r *MetricsRecorder) emit(ctx context.Context, metric, msg string, data map[string]interface{}, warn bool) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	entry := r.logger.WithFields(data).WithField("metric", metric)
	if warn {
		entry.Warn(msg)
	} else {
		entry.Info(msg)
	}

	if r.audit == nil {
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()
		if err := r.audit.Append(actx, metric, data); err != nil {
			r.logger.WithError(err).WithField("metric", metric).Warn("audit append failed")
		}
	}()
}
