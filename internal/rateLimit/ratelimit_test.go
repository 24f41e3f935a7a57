package rateLimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/rateLimit"
)

type fakeCounter struct {
	hits map[string]int64
	err  error
}

func (c *fakeCounter) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	c.hits[key]++
	return c.hits[key], nil
}

func TestAllow(t *testing.T) {
	rl := rateLimit.NewRateLimiter(&fakeCounter{hits: map[string]int64{}}, observability.NewNopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !rl.Allow(ctx, "ip:a", 3, time.Minute) {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	if rl.Allow(ctx, "ip:a", 3, time.Minute) {
		t.Error("4th hit should be limited")
	}
	if !rl.Allow(ctx, "ip:b", 3, time.Minute) {
		t.Error("keys must be limited independently")
	}
}

func TestAllow_FailsOpen(t *testing.T) {
	rl := rateLimit.NewRateLimiter(&fakeCounter{err: errors.New("connection refused")}, observability.NewNopLogger())
	if !rl.Allow(context.Background(), "ip:a", 1, time.Minute) {
		t.Error("expected requests to pass while the counter is down")
	}
}
