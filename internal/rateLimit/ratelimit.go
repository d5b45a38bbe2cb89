package rateLimit

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/event-bookings-and-settlements/internal/adapters/redis"
)

// RateLimiter counts hits per key in fixed windows stored in Redis.
type RateLimiter struct {
	redis *redisadapter.Cache
	clock func() time.Time
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis, clock: time.Now}
}

// Allow records one hit for key and reports whether it is within rate for
// the current window of length period.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	window := rl.clock().UnixNano() / int64(period)
	fullKey := "rl:" + key + ":" + strconv.FormatInt(window, 10)

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrap(err, "rate limit pipeline")
	}
	return incr.Val() <= int64(rate), nil
}
