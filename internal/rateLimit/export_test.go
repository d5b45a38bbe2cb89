package rateLimit

import "time"

func (rl *RateLimiter) SetClock(clock func() time.Time) {
	rl.clock = clock
}
