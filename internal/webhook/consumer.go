package webhook

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/robertarktes/inventory-holds/internal/observability"
)

// Consumer feeds payment notifications delivered over AMQP to the Reconciler.
// The idempotency key makes redelivery safe, so transient failures requeue.
type Consumer struct {
	reconciler *Reconciler
	logger     observability.Logger
}

func NewConsumer(reconciler *Reconciler, logger observability.Logger) *Consumer {
	return &Consumer{reconciler: reconciler, logger: logger}
}

// Run handles deliveries until ctx is cancelled or the channel closes.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("payment delivery channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle acks a delivery once it has been applied. Permanent failures are
// dropped and anything else goes back to the queue.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	log := c.logger.WithField("message_id", d.MessageId)

	res, err := c.process(ctx, d.Body)
	switch {
	case err == nil:
		log.WithFields(map[string]interface{}{
			"order_id":  res.OrderID,
			"duplicate": res.Duplicate,
		}).Debug("payment notification applied")
		if err := d.Ack(false); err != nil {
			log.WithError(err).Error("ack payment notification")
		}
	case permanent(err):
		log.WithError(err).Warn("rejecting payment notification")
		if err := d.Nack(false, false); err != nil {
			log.WithError(err).Error("nack payment notification")
		}
	default:
		log.WithError(err).Error("payment notification failed, requeueing")
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Error("nack payment notification")
		}
	}
}

func (c *Consumer) process(ctx context.Context, body []byte) (Result, error) {
	n, err := DecodeNotification(body)
	if err != nil {
		return Result{}, err
	}
	return c.reconciler.Process(ctx, n)
}

// permanent errors fail the same way on every redelivery.
func permanent(err error) bool {
	return errors.IsAny(err,
		domain.ErrInvalidInput,
		domain.ErrProductNotFound,
		domain.ErrInsufficientStock,
	)
}
