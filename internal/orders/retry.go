package orders

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robertarktes/seat-booking/internal/domain"
)

const DefaultAttempts = 3

// Retry runs fn up to attempts times while it fails with a retryable storage error
// (serialization failure or lock timeout). Any other error is returned at once.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err == nil || domain.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}
