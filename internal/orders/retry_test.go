package orders

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
)

func TestRetry_RetryableUntilSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return errors.Wrap(domain.ErrLockTimeout, "claim seats")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Errorf("expected success on 3rd call, got %v after %d", err, calls)
	}
}

func TestRetry_Bounded(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, func() error {
		calls++
		return domain.ErrSerializationFailure
	})
	if !errors.Is(err, domain.ErrSerializationFailure) || calls != 2 {
		t.Errorf("expected 2 attempts ending in serialization failure, got %v after %d", err, calls)
	}
}

func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, func() error {
		calls++
		return domain.NewSeatConflictError("S1", []string{"A1"})
	})
	var conflict *domain.SeatConflictError
	if !errors.As(err, &conflict) || calls != 1 {
		t.Errorf("expected one attempt returning the conflict, got %v after %d", err, calls)
	}
}
