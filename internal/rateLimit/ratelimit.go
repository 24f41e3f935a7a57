package rateLimit

import (
	"context"
	"time"

	"github.com/robertarktes/seat-booking/internal/observability"
)

type Counter interface {
	IncrWindow(ctx context.Context, key string, period time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
	logger  observability.Logger
}

func NewRateLimiter(counter Counter, logger observability.Logger) *RateLimiter {
	return &RateLimiter{counter: counter, logger: logger}
}

// Allow reports whether key is still within rate hits per period. When the counter is
// unreachable requests are let through.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	n, err := rl.counter.IncrWindow(ctx, key, period)
	if err != nil {
		rl.logger.WithError(err).Warn("rate limiter unavailable")
		return true
	}
	if n > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
