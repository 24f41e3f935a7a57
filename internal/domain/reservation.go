package domain

import "time"

// HoldActive reports whether the order still has a live reservation hold at now.
func (o *Order) HoldActive(now time.Time) bool {
	return o.Status == OrderPending && now.Before(o.ExpiresAt)
}

// HoldExpired reports whether the sweeper may expire the order at now.
func (o *Order) HoldExpired(now time.Time) bool {
	return o.Status == OrderPending && !now.Before(o.ExpiresAt)
}
