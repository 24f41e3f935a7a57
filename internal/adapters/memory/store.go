// Package memory is a process-local store.Store. Transactions are serialized by a single
// lock and applied copy-on-write, so a failed transaction leaves no trace.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/store"
	"github.com/shopspring/decimal"
)

const (
	defaultLockTimeout = 5 * time.Second
	defaultOutboxLimit = 10000
)

type seatKey struct {
	showingID string
	seatID    string
}

type state struct {
	showings  map[string]domain.Showing
	seats     map[seatKey]domain.Seat
	orders    map[string]*domain.Order
	payments  map[string]domain.Payment
	referrers map[string]domain.Referrer
	// outbox keeps only unpublished records.
	outbox []store.OutboxRecord
}

func newState() *state {
	return &state{
		showings:  map[string]domain.Showing{},
		seats:     map[seatKey]domain.Seat{},
		orders:    map[string]*domain.Order{},
		payments:  map[string]domain.Payment{},
		referrers: map[string]domain.Referrer{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.showings {
		c.showings[k] = v
	}
	for k, v := range s.seats {
		c.seats[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v.Clone()
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.referrers {
		c.referrers[k] = v
	}
	c.outbox = append([]store.OutboxRecord(nil), s.outbox...)
	return c
}

type Store struct {
	sem         chan struct{}
	lockTimeout time.Duration
	outboxLimit int
	state       *state
}

type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for the store lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithOutboxLimit caps the unpublished backlog; the oldest records are dropped past it.
// Zero or less keeps every record.
func WithOutboxLimit(n int) Option {
	return func(s *Store) {
		s.outboxLimit = n
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		sem:         make(chan struct{}, 1),
		lockTimeout: defaultLockTimeout,
		outboxLimit: defaultOutboxLimit,
		state:       newState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lock(ctx context.Context) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return domain.ErrLockTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock() { <-s.sem }

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	work := &tx{st: s.state.clone(), outboxLimit: s.outboxLimit}
	if err := fn(ctx, work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work.st
	if work.dropped > 0 {
		observability.OutboxDropped.Add(float64(work.dropped))
	}
	return nil
}

func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()
	return fn(s.state)
}

func (s *Store) GetShowing(ctx context.Context, showingID string) (*domain.Showing, error) {
	var out *domain.Showing
	err := s.read(ctx, func(st *state) error {
		sh, ok := st.showings[showingID]
		if !ok {
			return domain.ErrNotFound
		}
		out = &sh
		return nil
	})
	return out, err
}

func (s *Store) SeatsForShowing(ctx context.Context, showingID string) ([]domain.Seat, error) {
	var out []domain.Seat
	err := s.read(ctx, func(st *state) error {
		for k, seat := range st.seats {
			if k.showingID == showingID {
				out = append(out, seat)
			}
		}
		return nil
	})
	sortSeats(out)
	return out, err
}

func (s *Store) GetOrder(ctx context.Context, orderNo string) (*domain.Order, error) {
	var out *domain.Order
	err := s.read(ctx, func(st *state) error {
		o, ok := st.orders[orderNo]
		if !ok {
			return domain.ErrNotFound
		}
		out = o.Clone()
		return nil
	})
	return out, err
}

func (s *Store) ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var expired []*domain.Order
	err := s.read(ctx, func(st *state) error {
		for _, o := range st.orders {
			if o.Status == domain.OrderPending && o.ExpiresAt.Before(now) {
				expired = append(expired, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	var out []string
	for _, o := range expired {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, o.OrderNo)
	}
	return out, nil
}

func (s *Store) GetReferrer(ctx context.Context, code string) (*domain.Referrer, error) {
	var out *domain.Referrer
	err := s.read(ctx, func(st *state) error {
		r, ok := st.referrers[code]
		if !ok {
			return domain.ErrNotFound
		}
		out = &r
		return nil
	})
	return out, err
}

type tx struct {
	st          *state
	outboxLimit int
	dropped     int
}

func (t *tx) InsertShowing(_ context.Context, showing domain.Showing) error {
	if _, ok := t.st.showings[showing.ID]; ok {
		return errors.Wrapf(domain.ErrDuplicate, "showing %s", showing.ID)
	}
	t.st.showings[showing.ID] = showing
	return nil
}

func (t *tx) GetShowing(_ context.Context, showingID string) (*domain.Showing, error) {
	sh, ok := t.st.showings[showingID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sh, nil
}

func (t *tx) InsertSeats(_ context.Context, seats []domain.Seat) (int64, error) {
	var n int64
	for _, seat := range seats {
		k := seatKey{seat.ShowingID, seat.ID}
		if _, ok := t.st.seats[k]; ok {
			continue
		}
		seat.Status = domain.SeatAvailable
		seat.OrderNo = ""
		t.st.seats[k] = seat
		n++
	}
	return n, nil
}

func (t *tx) ClaimSeats(_ context.Context, showingID string, seatIDs []string, orderNo string) ([]string, error) {
	var claimed []string
	for _, id := range seatIDs {
		k := seatKey{showingID, id}
		seat, ok := t.st.seats[k]
		if !ok || seat.Status != domain.SeatAvailable {
			continue
		}
		seat.Status = domain.SeatHeld
		seat.OrderNo = orderNo
		t.st.seats[k] = seat
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (t *tx) GetSeats(_ context.Context, showingID string, seatIDs []string) ([]domain.Seat, error) {
	var out []domain.Seat
	for _, id := range seatIDs {
		if seat, ok := t.st.seats[seatKey{showingID, id}]; ok {
			out = append(out, seat)
		}
	}
	return out, nil
}

func (t *tx) ConfirmSeats(_ context.Context, orderNo string) (int64, error) {
	var n int64
	for k, seat := range t.st.seats {
		if seat.OrderNo == orderNo && seat.Status == domain.SeatHeld {
			seat.Status = domain.SeatBooked
			t.st.seats[k] = seat
			n++
		}
	}
	return n, nil
}

func (t *tx) ReleaseSeats(_ context.Context, orderNo string, seatIDs []string) (int64, error) {
	only := map[string]bool{}
	for _, id := range seatIDs {
		only[id] = true
	}
	var n int64
	for k, seat := range t.st.seats {
		if seat.OrderNo != orderNo || (seatIDs != nil && !only[seat.ID]) {
			continue
		}
		seat.Status = domain.SeatAvailable
		seat.OrderNo = ""
		t.st.seats[k] = seat
		n++
	}
	return n, nil
}

func (t *tx) InsertOrder(_ context.Context, order *domain.Order) error {
	if _, ok := t.st.orders[order.OrderNo]; ok {
		return errors.Wrapf(domain.ErrDuplicate, "order %s", order.OrderNo)
	}
	t.st.orders[order.OrderNo] = order.Clone()
	return nil
}

func (t *tx) GetOrderForUpdate(_ context.Context, orderNo string) (*domain.Order, error) {
	o, ok := t.st.orders[orderNo]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (t *tx) UpdateOrder(_ context.Context, order *domain.Order, expected domain.OrderStatus) error {
	cur, ok := t.st.orders[order.OrderNo]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != expected {
		return domain.ErrStaleState
	}
	t.st.orders[order.OrderNo] = order.Clone()
	return nil
}

func (t *tx) ListSettledOrders(_ context.Context, showingID string) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range t.st.orders {
		if o.ShowingID == showingID && o.Status.Settled() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNo < out[j].OrderNo })
	return out, nil
}

func (t *tx) InsertPayment(_ context.Context, payment domain.Payment) (bool, error) {
	k := payment.OrderNo + "|" + payment.PaymentRef
	if _, ok := t.st.payments[k]; ok {
		return false, nil
	}
	t.st.payments[k] = payment
	return true, nil
}

func (t *tx) InsertReferrer(_ context.Context, referrer domain.Referrer) error {
	if _, ok := t.st.referrers[referrer.Code]; ok {
		return errors.Wrapf(domain.ErrDuplicate, "referrer %s", referrer.Code)
	}
	t.st.referrers[referrer.Code] = referrer
	return nil
}

func (t *tx) GetReferrer(_ context.Context, code string) (*domain.Referrer, error) {
	r, ok := t.st.referrers[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (t *tx) AddCommission(_ context.Context, code string, amount decimal.Decimal) error {
	r, ok := t.st.referrers[code]
	if !ok {
		return domain.ErrNotFound
	}
	r.TotalCommission = r.TotalCommission.Add(amount)
	r.UpdatedAt = time.Now()
	t.st.referrers[code] = r
	return nil
}

func (t *tx) InsertOutbox(_ context.Context, record store.OutboxRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	record.Status = "NEW"
	t.st.outbox = append(t.st.outbox, record)
	if over := len(t.st.outbox) - t.outboxLimit; t.outboxLimit > 0 && over > 0 {
		t.st.outbox = append([]store.OutboxRecord(nil), t.st.outbox[over:]...)
		t.dropped += over
	}
	return nil
}

func (t *tx) FetchOutbox(_ context.Context, limit int) ([]store.OutboxRecord, error) {
	var out []store.OutboxRecord
	for _, rec := range t.st.outbox {
		if rec.Status != "NEW" {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}

func (t *tx) MarkPublished(_ context.Context, id uuid.UUID, _ time.Time) error {
	for i := range t.st.outbox {
		if t.st.outbox[i].ID == id {
			t.st.outbox = append(t.st.outbox[:i], t.st.outbox[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func sortSeats(seats []domain.Seat) {
	sort.Slice(seats, func(i, j int) bool {
		if seats[i].Zone != seats[j].Zone {
			return seats[i].Zone < seats[j].Zone
		}
		return seats[i].ID < seats[j].ID
	})
}

var _ store.Store = (*Store)(nil)
