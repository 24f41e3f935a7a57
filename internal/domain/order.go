package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const orderNoPrefix = "SB"

// NewOrderNo returns a human readable order number such as SB-261018-9F3A1C.
// Uniqueness is enforced by storage; callers regenerate on ErrDuplicate.
func NewOrderNo(now time.Time) string {
	id := uuid.New()
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:6])
	return orderNoPrefix + "-" + now.UTC().Format("060102") + "-" + suffix
}

// IsStanding reports whether the order has no seat references.
func (o *Order) IsStanding() bool {
	return o.TicketType == TicketStanding
}

// Outstanding is the amount still owed; never negative.
func (o *Order) Outstanding() decimal.Decimal {
	rest := o.Total.Sub(o.PaidAmount)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// FullyPaid reports whether the cumulative payments cover the total.
func (o *Order) FullyPaid() bool {
	return o.PaidAmount.GreaterThanOrEqual(o.Total)
}

// Transition moves the order to next if the state machine allows it.
func (o *Order) Transition(next OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	o.Status = next
	o.UpdatedAt = now
	return nil
}

func (o *Order) Clone() *Order {
	c := *o
	c.Seats = append([]string(nil), o.Seats...)
	return &c
}
