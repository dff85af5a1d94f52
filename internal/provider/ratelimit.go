package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces calls to one backend. Every request made through a
// provider instance shares it. A nil limiter never waits.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter returns nil when ratePerMinute is not positive.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if ratePerMinute <= 0 {
		return nil
	}
	if maxBurst <= 0 {
		maxBurst = 1
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(ratePerMinute/60.0), maxBurst)}
}

// Wait blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	return rl.lim.Wait(ctx)
}
