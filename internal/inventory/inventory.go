// Package inventory tracks per-showing seat status. Seats only change through the
// operations here, each of which runs inside the caller's store transaction.
package inventory

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/store"
)

// SeatStatus is the display view of one seat.
type SeatStatus struct {
	SeatID string            `json:"seat_id"`
	Zone   string            `json:"zone"`
	Status domain.SeatStatus `json:"status"`
}

type Inventory struct {
	store   store.Store
	layouts *Layouts
	logger  observability.Logger
}

func NewInventory(st store.Store, layouts *Layouts, logger observability.Logger) *Inventory {
	return &Inventory{store: st, layouts: layouts, logger: logger}
}

// OpenShowing registers a showing and creates its seats from the venue layout, all AVAILABLE.
func (i *Inventory) OpenShowing(ctx context.Context, showing domain.Showing) (int64, error) {
	layout, ok := i.layouts.Get(showing.VenueID)
	if !ok {
		return 0, domain.Validation("unknown venue %q", showing.VenueID)
	}
	if showing.ID == "" || showing.StartsAt.IsZero() {
		return 0, domain.Validation("showing id and start time are required")
	}

	seats := make([]domain.Seat, len(layout.Seats))
	for idx, def := range layout.Seats {
		seats[idx] = domain.Seat{ShowingID: showing.ID, ID: def.ID, Zone: def.Zone, Status: domain.SeatAvailable}
	}

	var created int64
	err := i.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertShowing(ctx, showing); err != nil {
			return err
		}
		n, err := tx.InsertSeats(ctx, seats)
		created = n
		return err
	})
	if err != nil {
		return 0, err
	}
	i.logger.WithFields(map[string]interface{}{"showing_id": showing.ID, "venue_id": showing.VenueID, "seats": created}).Info("showing opened")
	return created, nil
}

// ClaimSeats moves all requested seats from AVAILABLE to HELD for orderNo, or none of them.
// On error the caller must abort the transaction.
func (i *Inventory) ClaimSeats(ctx context.Context, tx store.Tx, showingID string, seatIDs []string, orderNo string) error {
	want := unique(seatIDs)
	if len(want) == 0 {
		return domain.Validation("no seats requested")
	}

	claimed, err := tx.ClaimSeats(ctx, showingID, want, orderNo)
	if err != nil {
		return err
	}
	if len(claimed) == len(want) {
		return nil
	}

	missing := difference(want, claimed)
	existing, err := tx.GetSeats(ctx, showingID, missing)
	if err != nil {
		return err
	}
	if len(existing) < len(missing) {
		found := make([]string, len(existing))
		for idx, s := range existing {
			found[idx] = s.ID
		}
		return errors.Wrapf(domain.ErrUnknownSeat, "showing %s: %v", showingID, difference(missing, found))
	}
	observability.SeatConflicts.Inc()
	return domain.NewSeatConflictError(showingID, missing)
}

// ConfirmSeats moves the order's HELD seats to BOOKED. Already booked seats are left as they are.
func (i *Inventory) ConfirmSeats(ctx context.Context, tx store.Tx, orderNo string) error {
	_, err := tx.ConfirmSeats(ctx, orderNo)
	return err
}

// ReleaseSeats returns every seat of the order to AVAILABLE, whatever its state.
func (i *Inventory) ReleaseSeats(ctx context.Context, tx store.Tx, orderNo string) error {
	_, err := tx.ReleaseSeats(ctx, orderNo, nil)
	return err
}

// ReleaseSeatIDs frees only the listed seats of the order.
func (i *Inventory) ReleaseSeatIDs(ctx context.Context, tx store.Tx, orderNo string, seatIDs []string) error {
	if len(seatIDs) == 0 {
		return nil
	}
	_, err := tx.ReleaseSeats(ctx, orderNo, seatIDs)
	return err
}

// SeatsForShowing reads committed seat state.
func (i *Inventory) SeatsForShowing(ctx context.Context, showingID string) ([]SeatStatus, error) {
	seats, err := i.store.SeatsForShowing(ctx, showingID)
	if err != nil {
		return nil, err
	}
	out := make([]SeatStatus, len(seats))
	for idx, s := range seats {
		out[idx] = SeatStatus{SeatID: s.ID, Zone: s.Zone, Status: s.Status}
	}
	return out, nil
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = NormalizeSeatID(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// difference returns the items of a that are not in b, keeping a's order.
func difference(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, id := range b {
		drop[id] = true
	}
	var out []string
	for _, id := range a {
		if !drop[id] {
			out = append(out, id)
		}
	}
	return out
}

// Difference returns the distinct items of a that are not in b.
func Difference(a, b []string) []string {
	return difference(unique(a), b)
}
