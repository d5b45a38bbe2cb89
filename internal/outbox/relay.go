package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
)

// Source is the durable outbox table.
type Source interface {
	FetchUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Relay forwards committed outbox records to the broker. Delivery is at
// least once; consumers deduplicate on MessageId.
type Relay struct {
	source   Source
	broker   Broker
	logger   observability.Logger
	interval time.Duration
	batch    int
	clock    func() time.Time
}

func NewRelay(source Source, broker Broker, logger observability.Logger, interval time.Duration) *Relay {
	return &Relay{source: source, broker: broker, logger: logger, interval: interval, batch: 50, clock: time.Now}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.logger.WithError(err).Error("outbox flush failed")
			}
		}
	}
}

// Flush publishes one batch and returns how many records were published.
// A record that fails to publish stays NEW and is retried on the next flush.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	records, err := r.source.FetchUnpublishedOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, rec := range records {
		log := r.logger.WithField("outbox_id", rec.ID).WithField("event_type", rec.EventType)
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
		}
		if err := r.broker.Publish(ctx, rec.EventType, msg); err != nil {
			observability.RabbitPublishRetries.Inc()
			log.WithError(err).Warn("outbox publish failed")
			continue
		}

		now := r.clock()
		if err := r.source.MarkPublished(ctx, rec.ID, now); err != nil {
			log.WithError(err).Warn("failed to mark outbox record published")
			continue
		}
		observability.OutboxLag.Set(now.Sub(rec.CreatedAt).Seconds())
		published++
	}
	return published, nil
}
