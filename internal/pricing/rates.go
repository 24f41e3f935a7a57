package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/shopspring/decimal"
)

const DefaultReservationTimeoutMinutes = 5

// RateTable is the typed rate configuration read at pricing time.
type RateTable struct {
	ReservationTimeoutMinutes int
	UnitPrices                map[domain.TicketType]decimal.Decimal
	CommissionRates           map[domain.TicketType]decimal.Decimal
	Standing                  *StandingRates
}

type StandingRates struct {
	AdultPrice      decimal.Decimal
	ChildPrice      decimal.Decimal
	AdultCommission decimal.Decimal
	ChildCommission decimal.Decimal
}

// RateSource supplies the current rate table. Implementations must not cache it
// indefinitely so that admin changes apply to subsequent orders.
type RateSource interface {
	Rates(ctx context.Context) (RateTable, error)
}

// RateSourceFunc adapts a function to RateSource.
type RateSourceFunc func(ctx context.Context) (RateTable, error)

func (f RateSourceFunc) Rates(ctx context.Context) (RateTable, error) { return f(ctx) }

// ReservationTimeout returns the hold window, falling back to the default when unset.
func (t RateTable) ReservationTimeout() time.Duration {
	minutes := t.ReservationTimeoutMinutes
	if minutes <= 0 {
		minutes = DefaultReservationTimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// ParseAmount parses a configured money value; anything non-numeric or negative is a
// configuration error.
func ParseAmount(key, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, errors.Mark(errors.Wrapf(err, "rate %s=%q is not numeric", key, raw), domain.ErrInvalidConfiguration)
	}
	if d.IsNegative() {
		return decimal.Zero, errors.Mark(errors.Newf("rate %s=%q is negative", key, raw), domain.ErrInvalidConfiguration)
	}
	return d, nil
}

// ParseTicketRates parses "VIP=1500,PREMIUM=1000". Only recognized seated ticket types are accepted.
func ParseTicketRates(raw string) (map[domain.TicketType]decimal.Decimal, error) {
	out := map[domain.TicketType]decimal.Decimal{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Mark(errors.Newf("malformed rate entry %q", pair), domain.ErrInvalidConfiguration)
		}
		tt := domain.TicketType(strings.ToUpper(strings.TrimSpace(k)))
		if !tt.IsSeated() {
			return nil, errors.Mark(errors.Newf("unrecognized ticket type %q", k), domain.ErrInvalidConfiguration)
		}
		amount, err := ParseAmount(string(tt), v)
		if err != nil {
			return nil, err
		}
		out[tt] = amount
	}
	return out, nil
}
