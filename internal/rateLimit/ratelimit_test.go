package rateLimit_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	redisadapter "github.com/robertarktes/event-bookings-and-settlements/internal/adapters/redis"
	"github.com/robertarktes/event-bookings-and-settlements/internal/rateLimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinWindow(t *testing.T) {
	ctx := context.Background()
	client, mock := redismock.NewClientMock()
	limiter := rateLimit.NewRateLimiter(redisadapter.NewCache(client, time.Minute))
	now := time.Unix(1_700_000_000, 0)
	limiter.SetClock(func() time.Time { return now })

	key := "rl:user:42:" + strconv.FormatInt(now.UnixNano()/int64(time.Minute), 10)
	mock.ExpectIncr(key).SetVal(2)
	mock.ExpectExpire(key, time.Minute).SetVal(true)
	mock.ExpectIncr(key).SetVal(3)
	mock.ExpectExpire(key, time.Minute).SetVal(true)

	ok, err := limiter.Allow(ctx, "user:42", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.Allow(ctx, "user:42", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
