package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func availabilityKey(eventID uuid.UUID) string {
	return "avail:" + eventID.String()
}

func (c *Cache) GetAvailability(ctx context.Context, eventID uuid.UUID) (inventory.Availability, bool, error) {
	val, err := c.client.Get(ctx, availabilityKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return inventory.Availability{}, false, nil
	}
	if err != nil {
		return inventory.Availability{}, false, err
	}
	var a inventory.Availability
	if err := json.Unmarshal(val, &a); err != nil {
		return inventory.Availability{}, false, errors.Wrap(err, "decode availability")
	}
	return a, true, nil
}

func (c *Cache) PutAvailability(ctx context.Context, a inventory.Availability) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, availabilityKey(a.EventID), data, c.ttl).Err()
}
