package sweeper_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/adapters/memory"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/inventory"
	"github.com/robertarktes/seat-booking/internal/ledger"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/orders"
	"github.com/robertarktes/seat-booking/internal/pricing"
	"github.com/robertarktes/seat-booking/internal/sweeper"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/sync/errgroup"
)

var now = time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T, seatCount int) (*orders.Manager, *inventory.Inventory, *memory.Store) {
	t.Helper()
	seats := make([]inventory.SeatDef, seatCount)
	for i := range seats {
		seats[i] = inventory.SeatDef{ID: fmt.Sprintf("R%d", i+1), Zone: "R"}
	}
	layouts, err := inventory.NewLayouts(inventory.Layout{VenueID: "hall", Seats: seats})
	if err != nil {
		t.Fatal(err)
	}
	st := memory.NewStore()
	logger := observability.NewNopLogger()
	inv := inventory.NewInventory(st, layouts, logger)
	if _, err := inv.OpenShowing(context.Background(), domain.Showing{ID: "S1", VenueID: "hall", StartsAt: now.Add(24 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	rates := pricing.RateTable{
		ReservationTimeoutMinutes: 5,
		UnitPrices:                map[domain.TicketType]decimal.Decimal{domain.TicketRegular: decimal.NewFromInt(800)},
		CommissionRates:           map[domain.TicketType]decimal.Decimal{domain.TicketRegular: decimal.NewFromInt(100)},
	}
	engine := pricing.NewEngine(pricing.RateSourceFunc(func(context.Context) (pricing.RateTable, error) { return rates, nil }))
	mgr := orders.NewManager(st, inv, engine, ledger.NewLedger(st, logger), logger,
		orders.WithClock(func() time.Time { return now }))
	return mgr, inv, st
}

func book(t *testing.T, mgr *orders.Manager, seat string) *domain.Order {
	t.Helper()
	o, err := mgr.Create(context.Background(), orders.BookingRequest{
		Customer:      domain.Customer{Name: "Ana", Email: "ana@example.com"},
		ShowingID:     "S1",
		TicketType:    domain.TicketRegular,
		Seats:         []string{seat},
		PurchaseType:  domain.PurchaseWebsite,
		PaymentMethod: domain.PaymentQR,
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func available(t *testing.T, inv *inventory.Inventory) int {
	t.Helper()
	seats, err := inv.SeatsForShowing(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, s := range seats {
		if s.Status == domain.SeatAvailable {
			n++
		}
	}
	return n
}

func TestSweep_ExpiresLapsedHoldsOnly(t *testing.T) {
	mgr, inv, st := setup(t, 3)
	ctx := context.Background()
	lapsed := book(t, mgr, "R1")
	paid := book(t, mgr, "R2")
	if _, err := mgr.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderNo: paid.OrderNo, PaymentRef: "p", Amount: paid.Total}); err != nil {
		t.Fatal(err)
	}

	s := sweeper.New(st, mgr, observability.NewNopLogger())
	n, err := s.Sweep(ctx, now.Add(4*time.Minute))
	if err != nil || n != 0 {
		t.Fatalf("nothing has lapsed yet, got %d %v", n, err)
	}

	later := now.Add(6 * time.Minute)
	n, err = s.Sweep(ctx, later)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired, got %d %v", n, err)
	}
	o, _ := mgr.Get(ctx, lapsed.OrderNo)
	if o.Status != domain.OrderExpired {
		t.Errorf("expected EXPIRED, got %s", o.Status)
	}
	if got := available(t, inv); got != 2 {
		t.Errorf("expected 2 available seats, got %d", got)
	}

	n, err = s.Sweep(ctx, later)
	if err != nil || n != 0 {
		t.Errorf("second sweep must be a no-op, got %d %v", n, err)
	}
	if got := available(t, inv); got != 2 {
		t.Errorf("second sweep changed seats: %d available", got)
	}
}

func TestSweep_PagesThroughBacklog(t *testing.T) {
	mgr, inv, st := setup(t, 25)
	for i := 1; i <= 25; i++ {
		book(t, mgr, fmt.Sprintf("R%d", i))
	}

	s := sweeper.New(st, mgr, observability.NewNopLogger(), sweeper.WithBatch(10), sweeper.WithConcurrency(3))
	n, err := s.Sweep(context.Background(), now.Add(time.Hour))
	if err != nil || n != 25 {
		t.Fatalf("expected 25 expired, got %d %v", n, err)
	}
	if got := available(t, inv); got != 25 {
		t.Errorf("expected every seat back, got %d", got)
	}
}

func TestSweep_ConcurrentSweepersExpireOnce(t *testing.T) {
	mgr, inv, st := setup(t, 20)
	for i := 1; i <= 20; i++ {
		book(t, mgr, fmt.Sprintf("R%d", i))
	}

	counts := make([]int, 4)
	g, ctx := errgroup.WithContext(context.Background())
	for i := range counts {
		s := sweeper.New(st, mgr, observability.NewNopLogger(), sweeper.WithBatch(5))
		g.Go(func() error {
			n, err := s.Sweep(ctx, now.Add(time.Hour))
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total != 20 {
		t.Errorf("expected 20 expirations across sweepers, got %d (%v)", total, counts)
	}
	if got := available(t, inv); got != 20 {
		t.Errorf("expected 20 available, got %d", got)
	}
}

type failingExpirer struct{}

func (failingExpirer) Expire(context.Context, string, time.Time) (bool, error) {
	return false, errors.Wrap(domain.ErrLockTimeout, "order locked")
}

func TestSweep_FailuresAreLoggedAndLeft(t *testing.T) {
	mgr, _, st := setup(t, 2)
	o := book(t, mgr, "R1")

	log, hook := test.NewNullLogger()
	s := sweeper.New(st, failingExpirer{}, observability.FromLogrus(log))
	n, err := s.Sweep(context.Background(), now.Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("expected 0 expired without error, got %d %v", n, err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.WarnLevel || entry.Data["order_no"] != o.OrderNo {
		t.Fatalf("expected a warning for %s, got %+v", o.OrderNo, entry)
	}

	stored, _ := mgr.Get(context.Background(), o.OrderNo)
	if stored.Status != domain.OrderPending {
		t.Errorf("failed order must stay PENDING for the next sweep, got %s", stored.Status)
	}
}

type stubLease struct {
	granted bool
	calls   int
}

func (l *stubLease) AcquireLease(context.Context, string, string, time.Duration) (bool, error) {
	l.calls++
	return l.granted, nil
}

func TestRun_SkipsWithoutLease(t *testing.T) {
	mgr, _, st := setup(t, 1)
	o := book(t, mgr, "R1")

	lease := &stubLease{}
	s := sweeper.New(st, mgr, observability.NewNopLogger(),
		sweeper.WithLease(lease, "worker-1"),
		sweeper.WithClock(func() time.Time { return now.Add(time.Hour) }))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx, 10*time.Millisecond)

	if lease.calls == 0 {
		t.Fatal("lease never requested")
	}
	stored, _ := mgr.Get(context.Background(), o.OrderNo)
	if stored.Status != domain.OrderPending {
		t.Errorf("sweeper without the lease must not expire orders, got %s", stored.Status)
	}
}
