package config

import (
	"context"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/pricing"
	"github.com/shopspring/decimal"
)

// EnvRates reads the rate table from the environment on every call, so a changed
// environment (e.g. a reloaded .env) applies to the next order.
type EnvRates struct {
	lookup func(string) string
}

func NewEnvRates() *EnvRates {
	return &EnvRates{lookup: os.Getenv}
}

// NewRatesFromMap is used where the rate keys come from somewhere other than the process env.
func NewRatesFromMap(values map[string]string) *EnvRates {
	return &EnvRates{lookup: func(k string) string { return values[k] }}
}

func (e *EnvRates) Rates(_ context.Context) (pricing.RateTable, error) {
	var t pricing.RateTable

	if raw := e.lookup("RESERVATION_TIMEOUT_MINUTES"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return t, errors.Mark(errors.Newf("RESERVATION_TIMEOUT_MINUTES=%q is not a positive integer", raw), domain.ErrInvalidConfiguration)
		}
		t.ReservationTimeoutMinutes = n
	}

	var err error
	if t.UnitPrices, err = pricing.ParseTicketRates(e.lookup("TICKET_PRICES")); err != nil {
		return t, err
	}
	if t.CommissionRates, err = pricing.ParseTicketRates(e.lookup("SEAT_COMMISSIONS")); err != nil {
		return t, err
	}

	var s pricing.StandingRates
	standing := []struct {
		key string
		dst *decimal.Decimal
	}{
		{"STANDING_ADULT_PRICE", &s.AdultPrice},
		{"STANDING_CHILD_PRICE", &s.ChildPrice},
		{"STANDING_ADULT_COMMISSION", &s.AdultCommission},
		{"STANDING_CHILD_COMMISSION", &s.ChildCommission},
	}
	configured := false
	for _, r := range standing {
		if e.lookup(r.key) != "" {
			configured = true
		}
	}
	// Standing sales are optional; a partially configured table is an error.
	if !configured {
		return t, nil
	}
	for _, r := range standing {
		d, err := pricing.ParseAmount(r.key, e.lookup(r.key))
		if err != nil {
			return t, err
		}
		*r.dst = d
	}
	t.Standing = &s
	return t, nil
}
