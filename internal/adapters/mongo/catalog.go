package mongo

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Catalog is the availability projection read by catalog clients.
type Catalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalog(db *mongo.Database, logger observability.Logger) *Catalog {
	return &Catalog{
		coll:   db.Collection("event_availability"),
		logger: logger,
	}
}

// PutAvailability upserts the snapshot unless a newer one is already stored.
func (c *Catalog) PutAvailability(ctx context.Context, a inventory.Availability) error {
	filter := bson.M{
		"_id":        a.EventID.String(),
		"updated_at": bson.M{"$lte": a.UpdatedAt},
	}
	update := bson.M{"$set": bson.M{
		"title":        a.Title,
		"tickets_sold": a.TicketsSold,
		"ticket_limit": a.TicketLimit,
		"remaining":    a.Remaining,
		"on_hold":      a.OnHold,
		"date":         a.Date,
		"updated_at":   a.UpdatedAt,
	}}
	_, err := c.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// a newer snapshot won the race
		return nil
	}
	if err != nil {
		c.logger.WithField("event_id", a.EventID).WithError(err).Error("failed to update event availability")
		return errors.Wrap(err, "upsert availability")
	}
	return nil
}

func (c *Catalog) GetAvailability(ctx context.Context, eventID uuid.UUID) (inventory.Availability, bool, error) {
	var doc struct {
		inventory.Availability `bson:",inline"`
		ID                     string `bson:"_id"`
	}
	err := c.coll.FindOne(ctx, bson.M{"_id": eventID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return inventory.Availability{}, false, nil
	}
	if err != nil {
		return inventory.Availability{}, false, errors.Wrap(err, "find availability")
	}
	a := doc.Availability
	a.EventID = eventID
	return a, true, nil
}
