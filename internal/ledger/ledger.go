// Package ledger accumulates referrer commission.
//
// Commit must run inside the transaction that moves an order to PAID; that transition
// happens once per order, which is what keeps each commission counted once.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/store"
	"github.com/shopspring/decimal"
)

type Ledger struct {
	store  store.Store
	logger observability.Logger
}

func NewLedger(st store.Store, logger observability.Logger) *Ledger {
	return &Ledger{store: st, logger: logger}
}

// NormalizeCode canonicalizes a referral code as typed by a customer.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks that the referrer exists, within tx.
func (l *Ledger) Validate(ctx context.Context, tx store.Tx, code string) error {
	_, err := tx.GetReferrer(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return errors.Wrapf(domain.ErrInvalidReferrerCode, "%q", code)
	}
	return err
}

// Commit adds amount to the referrer's total within tx.
func (l *Ledger) Commit(ctx context.Context, tx store.Tx, code string, amount decimal.Decimal) error {
	if code == "" || amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return domain.Validation("commission must not be negative, got %s", amount)
	}
	err := tx.AddCommission(ctx, code, amount)
	if errors.Is(err, domain.ErrNotFound) {
		return errors.Wrapf(domain.ErrInvalidReferrerCode, "%q", code)
	}
	return err
}

// Total is the commission snapshot for reporting.
func (l *Ledger) Total(ctx context.Context, code string) (decimal.Decimal, error) {
	ref, err := l.store.GetReferrer(ctx, NormalizeCode(code))
	if err != nil {
		return decimal.Zero, err
	}
	return ref.TotalCommission, nil
}

func (l *Ledger) Register(ctx context.Context, code string) (*domain.Referrer, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, domain.Validation("referral code is required")
	}
	now := time.Now().UTC()
	ref := domain.Referrer{Code: code, TotalCommission: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertReferrer(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithField("referrer", code).Info("referrer registered")
	return &ref, nil
}

// Adjust applies a manual correction. The total never goes below zero.
func (l *Ledger) Adjust(ctx context.Context, code string, delta decimal.Decimal, reason string) (decimal.Decimal, error) {
	code = NormalizeCode(code)
	var total decimal.Decimal
	err := l.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ref, err := tx.GetReferrer(ctx, code)
		if err != nil {
			return err
		}
		total = ref.TotalCommission.Add(delta)
		if total.IsNegative() {
			return domain.Validation("correction of %s would make commission of %s negative", delta, code)
		}
		return tx.AddCommission(ctx, code, delta)
	})
	if err != nil {
		return decimal.Zero, err
	}
	l.logger.WithFields(map[string]interface{}{"referrer": code, "delta": delta.String(), "reason": reason}).Warn("commission corrected")
	return total, nil
}
