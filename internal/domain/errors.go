package domain

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrLockTimeout          = errors.New("lock timeout")
	ErrNotFound             = errors.New("not found")
	ErrDuplicate            = errors.New("duplicate")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrStaleState           = errors.New("stale order state")

	ErrUnknownSeat          = errors.Mark(errors.New("unknown seat"), ErrInvalidInput)
	ErrInvalidTicketType    = errors.New("invalid ticket type")
	ErrInvalidConfiguration = errors.New("invalid rate configuration")
	ErrInvalidReferrerCode  = errors.Mark(errors.New("invalid referrer code"), ErrConflict)
	ErrOrderNotPending      = errors.New("order is not pending")
	ErrOrderNotCancellable  = errors.New("order is not cancellable")
	ErrInvalidTransition    = errors.New("invalid order transition")
	ErrShowingStarted       = errors.Mark(errors.New("showing already started"), ErrInvalidInput)
)

// SeatConflictError names the seats that could not be claimed because another order owns them.
type SeatConflictError struct {
	ShowingID string
	Seats     []string
}

func NewSeatConflictError(showingID string, seats []string) *SeatConflictError {
	sorted := append([]string(nil), seats...)
	sort.Strings(sorted)
	return &SeatConflictError{ShowingID: showingID, Seats: sorted}
}

func (e *SeatConflictError) Error() string {
	return "seats already taken for showing " + e.ShowingID + ": " + strings.Join(e.Seats, ",")
}

func (e *SeatConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsRetryable reports whether err is a transient storage failure the caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerializationFailure) || errors.Is(err, ErrLockTimeout)
}

// Validation wraps a message as an ErrInvalidInput.
func Validation(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidInput)
}
