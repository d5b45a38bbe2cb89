package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger keeps an append-only trail of committed transitions.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID            string    `bson:"_id"`
	Action        string    `bson:"action"`
	AggregateType string    `bson:"aggregate_type"`
	AggregateID   string    `bson:"aggregate_id"`
	UserID        string    `bson:"user_id"`
	EventID       string    `bson:"event_id,omitempty"`
	Timestamp     time.Time `bson:"timestamp"`
	Data          bson.M    `bson:"data,omitempty"`
}

func auditLogOf(c domain.Change) AuditLog {
	log := AuditLog{
		ID:            uuid.NewString(),
		Action:        c.Type,
		AggregateType: c.AggregateType,
		AggregateID:   c.AggregateID.String(),
		UserID:        c.UserID.String(),
		Timestamp:     c.At,
		Data:          bson.M(c.Data),
	}
	if c.EventID != uuid.Nil {
		log.EventID = c.EventID.String()
	}
	return log
}

func (a *AuditLogger) AfterCommit(ctx context.Context, changes []domain.Change) error {
	if len(changes) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(changes))
	for _, c := range changes {
		docs = append(docs, auditLogOf(c))
	}
	if _, err := a.coll.InsertMany(ctx, docs); err != nil {
		a.logger.WithError(err).Error("failed to insert audit logs")
		return errors.Wrap(err, "insert audit logs")
	}
	return nil
}

// LogEvent records an action that is not tied to a committed change, such
// as a provider event that matched no booking.
func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	return a.AfterCommit(ctx, []domain.Change{{
		Type:   action,
		UserID: userID,
		Data:   data,
		At:     time.Now().UTC(),
	}})
}

// ForAggregate returns the trail of one aggregate, oldest first.
func (a *AuditLogger) ForAggregate(ctx context.Context, aggregateID uuid.UUID) ([]AuditLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := a.coll.Find(ctx, bson.M{"aggregate_id": aggregateID.String()}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return logs, nil
}
