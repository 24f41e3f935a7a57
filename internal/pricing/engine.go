// Package pricing computes order totals and referrer commission from the current rate table.
package pricing

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/shopspring/decimal"
)

type Quote struct {
	Total      decimal.Decimal
	Commission decimal.Decimal
}

type Engine struct {
	source RateSource
}

func NewEngine(source RateSource) *Engine {
	return &Engine{source: source}
}

// Rates exposes the rate table the engine prices against.
func (e *Engine) Rates(ctx context.Context) (RateTable, error) {
	rates, err := e.source.Rates(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfiguration) {
			return RateTable{}, err
		}
		return RateTable{}, errors.Wrap(err, "load rate table")
	}
	return rates, nil
}

func (e *Engine) PriceSeatedOrder(ctx context.Context, ticketType domain.TicketType, quantity int) (Quote, error) {
	rates, err := e.Rates(ctx)
	if err != nil {
		return Quote{}, err
	}
	return PriceSeated(rates, ticketType, quantity)
}

func (e *Engine) PriceStandingOrder(ctx context.Context, adultQty, childQty int) (Quote, error) {
	rates, err := e.Rates(ctx)
	if err != nil {
		return Quote{}, err
	}
	return PriceStanding(rates, adultQty, childQty)
}

// PriceSeated is total = qty × unit price, commission = qty × per-seat rate.
func PriceSeated(rates RateTable, ticketType domain.TicketType, quantity int) (Quote, error) {
	if quantity <= 0 {
		return Quote{}, domain.Validation("quantity must be positive, got %d", quantity)
	}
	price, ok := rates.UnitPrices[ticketType]
	if !ok || !ticketType.IsSeated() {
		return Quote{}, errors.Wrapf(domain.ErrInvalidTicketType, "%q", ticketType)
	}
	rate, ok := rates.CommissionRates[ticketType]
	if !ok {
		return Quote{}, errors.Wrapf(domain.ErrInvalidConfiguration, "no commission rate for %s", ticketType)
	}
	if price.IsNegative() || rate.IsNegative() {
		return Quote{}, errors.Wrapf(domain.ErrInvalidConfiguration, "negative rate for %s", ticketType)
	}
	qty := decimal.NewFromInt(int64(quantity))
	return Quote{Total: qty.Mul(price), Commission: qty.Mul(rate)}, nil
}

func PriceStanding(rates RateTable, adultQty, childQty int) (Quote, error) {
	if adultQty < 0 || childQty < 0 || adultQty+childQty == 0 {
		return Quote{}, domain.Validation("standing quantities must be non-negative and not both zero, got %d/%d", adultQty, childQty)
	}
	s := rates.Standing
	if s == nil {
		return Quote{}, errors.Wrap(domain.ErrInvalidConfiguration, "standing rates are not configured")
	}
	for _, v := range []decimal.Decimal{s.AdultPrice, s.ChildPrice, s.AdultCommission, s.ChildCommission} {
		if v.IsNegative() {
			return Quote{}, errors.Wrap(domain.ErrInvalidConfiguration, "negative standing rate")
		}
	}
	adults := decimal.NewFromInt(int64(adultQty))
	children := decimal.NewFromInt(int64(childQty))
	return Quote{
		Total:      adults.Mul(s.AdultPrice).Add(children.Mul(s.ChildPrice)),
		Commission: adults.Mul(s.AdultCommission).Add(children.Mul(s.ChildCommission)),
	}, nil
}
