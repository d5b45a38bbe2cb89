package payment

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/tidwall/gjson"
)

const (
	WebhookRoutingKey = "payment.webhook"
	WebhookQueue      = "payments.webhook"
)

type Publisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// QueueSink defers reconciliation to the payment consumer.
type QueueSink struct {
	pub Publisher
}

func NewQueueSink(pub Publisher) *QueueSink {
	return &QueueSink{pub: pub}
}

func (s *QueueSink) Dispatch(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		MessageId:    ev.ID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
	if err := s.pub.Publish(ctx, WebhookRoutingKey, msg); err != nil {
		return errors.Wrap(err, "publish payment event")
	}
	return nil
}

type QueueConsumer struct {
	reconciler *Reconciler
	logger     observability.Logger
}

func NewQueueConsumer(reconciler *Reconciler, logger observability.Logger) *QueueConsumer {
	return &QueueConsumer{reconciler: reconciler, logger: logger}
}

// Run handles deliveries until ctx is done or the channel closes.
func (c *QueueConsumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("payment queue: delivery channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle acks processed and replayed events, drops permanently bad ones
// and requeues transient failures.
func (c *QueueConsumer) Handle(ctx context.Context, d amqp.Delivery) {
	log := c.logger.WithField("message_id", d.MessageId)

	if !gjson.ValidBytes(d.Body) || !gjson.GetBytes(d.Body, "intent_id").Exists() {
		log.Error("dropping malformed payment message")
		c.settle(log, d.Nack(false, false))
		return
	}
	var ev Event
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		log.WithError(err).Error("dropping undecodable payment message")
		c.settle(log, d.Nack(false, false))
		return
	}

	err := c.reconciler.Reconcile(ctx, ev)
	switch {
	case err == nil:
		c.settle(log, d.Ack(false))
	case requeue(err, d.Redelivered):
		log.WithError(err).Warn("requeueing payment message")
		c.settle(log, d.Nack(false, true))
	default:
		log.WithError(err).Error("dropping payment message")
		c.settle(log, d.Nack(false, false))
	}
}

func requeue(err error, redelivered bool) bool {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindIntegrity, domain.KindBusiness:
		return false
	case domain.KindNotFound:
		// the intent may be attached by a request that has not committed yet
		return !redelivered
	default:
		return true
	}
}

func (c *QueueConsumer) settle(log observability.Logger, err error) {
	if err != nil {
		log.WithError(err).Error("failed to settle delivery")
	}
}
