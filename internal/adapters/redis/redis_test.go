package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	redisadapter "github.com/robertarktes/event-bookings-and-settlements/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyGet(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	store := redisadapter.NewIdempotency(client)

	mock.ExpectGet("idemp:u:missing").RedisNil()
	mock.ExpectGet("idemp:u:hit").SetVal(`{"status":201,"content_type":"application/json","body":"eyJpZCI6MX0=","fingerprint":"fp"}`)

	resp, err := store.Get(ctx, "u:missing")
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = store.Get(ctx, "u:hit")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, `{"id":1}`, string(resp.Body))
	assert.Equal(t, "fp", resp.Fingerprint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyLock(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	store := redisadapter.NewIdempotency(client)

	mock.ExpectSetNX("idemp:lock:k", 1, 30*time.Second).SetVal(true)
	mock.ExpectSetNX("idemp:lock:k", 1, 30*time.Second).SetVal(false)
	mock.ExpectDel("idemp:lock:k").SetVal(1)

	ok, err := store.Lock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Lock(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.Unlock(ctx, "k"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityCacheMiss(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	cache := redisadapter.NewCache(client, time.Minute)
	id := uuid.New()

	mock.ExpectGet("avail:" + id.String()).RedisNil()
	mock.ExpectGet("avail:" + id.String()).SetVal(`{"event_id":"` + id.String() + `","tickets_sold":3,"ticket_limit":5,"remaining":2}`)

	_, ok, err := cache.GetAvailability(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	a, ok, err := cache.GetAvailability(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, a.EventID)
	assert.Equal(t, 2, a.Remaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}
