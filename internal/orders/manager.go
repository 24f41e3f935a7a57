// Package orders owns the order state machine. Every operation runs as one store
// transaction covering the order row, its seats, the referrer ledger and the outbox.
package orders

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/inventory"
	"github.com/robertarktes/seat-booking/internal/ledger"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/pricing"
	"github.com/robertarktes/seat-booking/internal/store"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const orderNoAttempts = 3

type BookingRequest struct {
	Customer      domain.Customer
	ShowingID     string
	TicketType    domain.TicketType
	Seats         []string
	AdultQty      int
	ChildQty      int
	PurchaseType  domain.PurchaseType
	PaymentMethod domain.PaymentMethod
	ReferrerCode  string
}

type PaymentConfirmation struct {
	OrderNo    string
	PaymentRef string
	Amount     decimal.Decimal
	Method     domain.PaymentMethod
	ReceivedAt time.Time
}

// Auditor receives every committed order event. Failures are logged and never fail the operation.
type Auditor interface {
	RecordEvent(ctx context.Context, ev Event) error
}

type Manager struct {
	store     store.Store
	inventory *inventory.Inventory
	pricing   *pricing.Engine
	ledger    *ledger.Ledger
	auditor   Auditor
	logger    observability.Logger
	tracer    trace.Tracer
	now       func() time.Time
	attempts  int
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithAuditor(a Auditor) Option {
	return func(m *Manager) { m.auditor = a }
}

// WithRetryAttempts bounds how often a transaction is retried after a retryable storage failure.
func WithRetryAttempts(n int) Option {
	return func(m *Manager) { m.attempts = n }
}

func NewManager(st store.Store, inv *inventory.Inventory, engine *pricing.Engine, l *ledger.Ledger, logger observability.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     st,
		inventory: inv,
		pricing:   engine,
		ledger:    l,
		logger:    logger,
		tracer:    observability.Tracer("orders"),
		now:       func() time.Time { return time.Now().UTC() },
		attempts:  DefaultAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Get(ctx context.Context, orderNo string) (*domain.Order, error) {
	return m.store.GetOrder(ctx, orderNo)
}

func (m *Manager) Create(ctx context.Context, req BookingRequest) (order *domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "orders.Create", trace.WithAttributes(
		attribute.String("showing_id", req.ShowingID),
		attribute.String("ticket_type", string(req.TicketType)),
	))
	defer func() { endSpan(span, err) }()

	req, err = normalize(req)
	if err != nil {
		return nil, err
	}

	rates, err := m.rates(ctx)
	if err != nil {
		return nil, err
	}
	var quote pricing.Quote
	if req.TicketType.IsSeated() {
		quote, err = pricing.PriceSeated(rates, req.TicketType, len(req.Seats))
	} else {
		quote, err = pricing.PriceStanding(rates, req.AdultQty, req.ChildQty)
	}
	if err != nil {
		return nil, m.pricingFailed(err)
	}

	var events []Event
	for attempt := 1; ; attempt++ {
		err = m.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
			events = events[:0]
			now := m.now()
			order = newOrder(req, quote, now, now.Add(rates.ReservationTimeout()))
			showing, err := tx.GetShowing(ctx, req.ShowingID)
			if errors.Is(err, domain.ErrNotFound) {
				return domain.Validation("unknown showing %q", req.ShowingID)
			}
			if err != nil {
				return err
			}
			if !now.Before(showing.StartsAt) {
				return errors.Wrapf(domain.ErrShowingStarted, "showing %s", showing.ID)
			}
			order.ShowDate = showing.StartsAt

			if order.ReferrerCode != "" {
				if err := m.ledger.Validate(ctx, tx, order.ReferrerCode); err != nil {
					return err
				}
			}
			if len(order.Seats) > 0 {
				if err := m.inventory.ClaimSeats(ctx, tx, order.ShowingID, order.Seats, order.OrderNo); err != nil {
					return err
				}
			}
			if err := tx.InsertOrder(ctx, order); err != nil {
				return err
			}
			created := newEvent(EventCreated, order, "", now)
			if err := writeEvent(ctx, tx, created); err != nil {
				return err
			}
			events = append(events, created)

			if !settledAtCounter(order, showing.StartsAt) {
				return nil
			}
			order.PaidAmount = order.Total
			if err := order.Transition(domain.OrderPaid, now); err != nil {
				return err
			}
			if err := m.ledger.Commit(ctx, tx, order.ReferrerCode, order.Commission); err != nil {
				return err
			}
			if err := tx.UpdateOrder(ctx, order, domain.OrderPending); err != nil {
				return err
			}
			paid := newEvent(EventPaid, order, domain.OrderPending, now)
			events = append(events, paid)
			return writeEvent(ctx, tx, paid)
		})
		if errors.Is(err, domain.ErrDuplicate) && attempt < orderNoAttempts {
			m.logger.WithField("order_no", order.OrderNo).Warn("order number collision, regenerating")
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	m.committed(ctx, events)
	m.logger.WithFields(map[string]interface{}{
		"order_no":   order.OrderNo,
		"showing_id": order.ShowingID,
		"status":     order.Status,
		"total":      order.Total.String(),
	}).Info("order created")
	return order, nil
}

// ConfirmPayment records a payment against a PENDING or PAID order. A payment ref that was
// already recorded for the order changes nothing. Reaching the total moves PENDING to PAID,
// books the seats and commits the referrer commission, all in the same transaction.
func (m *Manager) ConfirmPayment(ctx context.Context, p PaymentConfirmation) (order *domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "orders.ConfirmPayment", trace.WithAttributes(attribute.String("order_no", p.OrderNo)))
	defer func() { endSpan(span, err) }()

	if p.OrderNo == "" || strings.TrimSpace(p.PaymentRef) == "" {
		return nil, domain.Validation("order number and payment reference are required")
	}
	if !p.Amount.IsPositive() {
		return nil, domain.Validation("payment amount must be positive, got %s", p.Amount)
	}
	if p.Method != "" && !p.Method.IsValid() {
		return nil, domain.Validation("unknown payment method %q", p.Method)
	}

	var events []Event
	err = m.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		now := m.now()
		o, err := tx.GetOrderForUpdate(ctx, p.OrderNo)
		if err != nil {
			return err
		}
		order = o
		if o.Status != domain.OrderPending && o.Status != domain.OrderPaid {
			return errors.Wrapf(domain.ErrOrderNotPending, "order %s is %s", o.OrderNo, o.Status)
		}

		receivedAt := p.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = now
		}
		inserted, err := tx.InsertPayment(ctx, domain.Payment{
			OrderNo:    o.OrderNo,
			PaymentRef: p.PaymentRef,
			Amount:     p.Amount,
			ReceivedAt: receivedAt,
		})
		if err != nil {
			return err
		}
		if !inserted {
			m.logger.WithFields(map[string]interface{}{"order_no": o.OrderNo, "payment_ref": p.PaymentRef}).Info("duplicate payment ignored")
			return nil
		}

		previous := o.Status
		o.PaidAmount = o.PaidAmount.Add(p.Amount)
		o.UpdatedAt = now
		if p.Method != "" {
			o.PaymentMethod = p.Method
		}
		eventType := EventPaymentReceived
		if previous == domain.OrderPending && o.FullyPaid() {
			if err := o.Transition(domain.OrderPaid, now); err != nil {
				return err
			}
			if err := m.inventory.ConfirmSeats(ctx, tx, o.OrderNo); err != nil {
				return err
			}
			if err := m.ledger.Commit(ctx, tx, o.ReferrerCode, o.Commission); err != nil {
				return err
			}
			eventType = EventPaid
		}
		if err := tx.UpdateOrder(ctx, o, previous); err != nil {
			return err
		}
		ev := newEvent(eventType, o, previous, now)
		events = append(events, ev)
		return writeEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	m.committed(ctx, events)
	return order, nil
}

// Cancel is allowed only while the order is PENDING.
func (m *Manager) Cancel(ctx context.Context, orderNo string) (order *domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "orders.Cancel", trace.WithAttributes(attribute.String("order_no", orderNo)))
	defer func() { endSpan(span, err) }()

	var events []Event
	err = m.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		now := m.now()
		o, err := tx.GetOrderForUpdate(ctx, orderNo)
		if err != nil {
			return err
		}
		order = o
		if o.Status != domain.OrderPending {
			return errors.Wrapf(domain.ErrOrderNotCancellable, "order %s is %s", o.OrderNo, o.Status)
		}
		ev, err := m.release(ctx, tx, o, domain.OrderCancelled, EventCancelled, now)
		if err != nil {
			return err
		}
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.committed(ctx, events)
	return order, nil
}

// Expire moves a PENDING order whose hold has lapsed at now to EXPIRED and frees its seats.
// It reports false, without error, when the order is no longer eligible.
func (m *Manager) Expire(ctx context.Context, orderNo string, now time.Time) (expired bool, err error) {
	ctx, span := m.tracer.Start(ctx, "orders.Expire", trace.WithAttributes(attribute.String("order_no", orderNo)))
	defer func() { endSpan(span, err) }()

	var events []Event
	err = m.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		expired = false
		o, err := tx.GetOrderForUpdate(ctx, orderNo)
		if err != nil {
			return err
		}
		if !o.HoldExpired(now) {
			return nil
		}
		ev, err := m.release(ctx, tx, o, domain.OrderExpired, EventExpired, now)
		if errors.Is(err, domain.ErrStaleState) {
			return nil
		}
		if err != nil {
			return err
		}
		expired = true
		events = append(events, ev)
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		observability.ExpiredOrders.Inc()
		m.committed(ctx, events)
	}
	return expired, nil
}

// ChangeSeats replaces the seats of a PENDING or PAID order. New seats are claimed before the
// dropped ones are released. Unpaid orders are re-priced, and a pending order whose payments
// already cover the new total is settled in the same transaction. Paid orders keep their price
// and must keep the same number of seats.
func (m *Manager) ChangeSeats(ctx context.Context, orderNo string, seatIDs []string) (order *domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "orders.ChangeSeats", trace.WithAttributes(attribute.String("order_no", orderNo)))
	defer func() { endSpan(span, err) }()

	want := uniqueSeats(seatIDs)
	if len(want) == 0 {
		return nil, domain.Validation("at least one seat is required")
	}
	// Rates are only needed for unpaid orders; a broken table must not block a paid swap.
	rates, ratesErr := m.rates(ctx)

	var events []Event
	err = m.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		now := m.now()
		o, err := tx.GetOrderForUpdate(ctx, orderNo)
		if err != nil {
			return err
		}
		order = o
		if o.IsStanding() {
			return domain.Validation("standing order %s has no seats", o.OrderNo)
		}
		previous := o.Status
		switch previous {
		case domain.OrderPending:
			if ratesErr != nil {
				return ratesErr
			}
			quote, err := pricing.PriceSeated(rates, o.TicketType, len(want))
			if err != nil {
				return m.pricingFailed(err)
			}
			o.Total = quote.Total
			o.Commission = quote.Commission
		case domain.OrderPaid:
			if len(want) != len(o.Seats) {
				return domain.Validation("paid order %s must keep %d seats, got %d", o.OrderNo, len(o.Seats), len(want))
			}
		default:
			return errors.Wrapf(domain.ErrOrderNotPending, "order %s is %s", o.OrderNo, o.Status)
		}
		settles := previous == domain.OrderPending && o.FullyPaid()
		if settles {
			if err := o.Transition(domain.OrderPaid, now); err != nil {
				return err
			}
		}

		added := inventory.Difference(want, o.Seats)
		dropped := inventory.Difference(o.Seats, want)
		if len(added) > 0 {
			if err := m.inventory.ClaimSeats(ctx, tx, o.ShowingID, added, o.OrderNo); err != nil {
				return err
			}
		}
		if o.Status.SeatStatus() == domain.SeatBooked {
			if err := m.inventory.ConfirmSeats(ctx, tx, o.OrderNo); err != nil {
				return err
			}
		}
		if err := m.inventory.ReleaseSeatIDs(ctx, tx, o.OrderNo, dropped); err != nil {
			return err
		}
		if settles {
			if err := m.ledger.Commit(ctx, tx, o.ReferrerCode, o.Commission); err != nil {
				return err
			}
		}

		o.Seats = want
		o.Quantity = len(want)
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o, previous); err != nil {
			return err
		}
		ev := newEvent(EventSeatsChanged, o, previous, now)
		events = append(events, ev)
		if err := writeEvent(ctx, tx, ev); err != nil {
			return err
		}
		if settles {
			paid := newEvent(EventPaid, o, previous, now)
			events = append(events, paid)
			return writeEvent(ctx, tx, paid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.committed(ctx, events)
	return order, nil
}

// MarkBooked settles a PAID advance booking as BOOKED.
func (m *Manager) MarkBooked(ctx context.Context, orderNo string) (order *domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "orders.MarkBooked", trace.WithAttributes(attribute.String("order_no", orderNo)))
	defer func() { endSpan(span, err) }()

	var events []Event
	err = m.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		now := m.now()
		o, err := tx.GetOrderForUpdate(ctx, orderNo)
		if err != nil {
			return err
		}
		order = o
		previous := o.Status
		if err := o.Transition(domain.OrderBooked, now); err != nil {
			return errors.Wrapf(err, "order %s is %s", o.OrderNo, previous)
		}
		if err := tx.UpdateOrder(ctx, o, previous); err != nil {
			return err
		}
		ev := newEvent(EventBooked, o, previous, now)
		events = append(events, ev)
		return writeEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	m.committed(ctx, events)
	return order, nil
}

// CheckIn records attendance for a settled order. Checking in twice is a no-op.
func (m *Manager) CheckIn(ctx context.Context, orderNo string) (order *domain.Order, err error) {
	ctx, span := m.tracer.Start(ctx, "orders.CheckIn", trace.WithAttributes(attribute.String("order_no", orderNo)))
	defer func() { endSpan(span, err) }()

	var events []Event
	err = m.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		now := m.now()
		o, err := tx.GetOrderForUpdate(ctx, orderNo)
		if err != nil {
			return err
		}
		order = o
		if !o.Status.Settled() {
			return errors.Wrapf(domain.ErrInvalidTransition, "order %s is %s and cannot check in", o.OrderNo, o.Status)
		}
		if o.Attendance == domain.AttendanceCheckedIn {
			return nil
		}
		o.Attendance = domain.AttendanceCheckedIn
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o, o.Status); err != nil {
			return err
		}
		ev := newEvent(EventCheckedIn, o, o.Status, now)
		events = append(events, ev)
		return writeEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	m.committed(ctx, events)
	return order, nil
}

// MarkNoShows flags every settled order of a started showing that never checked in.
func (m *Manager) MarkNoShows(ctx context.Context, showingID string) (marked int, err error) {
	ctx, span := m.tracer.Start(ctx, "orders.MarkNoShows", trace.WithAttributes(attribute.String("showing_id", showingID)))
	defer func() { endSpan(span, err) }()

	var events []Event
	err = m.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events = events[:0]
		marked = 0
		now := m.now()
		showing, err := tx.GetShowing(ctx, showingID)
		if err != nil {
			return err
		}
		if now.Before(showing.StartsAt) {
			return domain.Validation("showing %s has not started", showingID)
		}
		settled, err := tx.ListSettledOrders(ctx, showingID)
		if err != nil {
			return err
		}
		for _, o := range settled {
			if o.Attendance != domain.AttendancePending {
				continue
			}
			o.Attendance = domain.AttendanceNoShow
			o.UpdatedAt = now
			if err := tx.UpdateOrder(ctx, o, o.Status); err != nil {
				return err
			}
			ev := newEvent(EventNoShow, o, o.Status, now)
			if err := writeEvent(ctx, tx, ev); err != nil {
				return err
			}
			events = append(events, ev)
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	m.committed(ctx, events)
	return marked, nil
}

// release moves o to a terminal status and frees all of its seats.
func (m *Manager) release(ctx context.Context, tx store.Tx, o *domain.Order, next domain.OrderStatus, eventType string, now time.Time) (Event, error) {
	previous := o.Status
	if err := o.Transition(next, now); err != nil {
		return Event{}, err
	}
	if err := m.inventory.ReleaseSeats(ctx, tx, o.OrderNo); err != nil {
		return Event{}, err
	}
	if err := tx.UpdateOrder(ctx, o, previous); err != nil {
		return Event{}, err
	}
	ev := newEvent(eventType, o, previous, now)
	return ev, writeEvent(ctx, tx, ev)
}

func (m *Manager) inTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return Retry(ctx, m.attempts, func() error {
		return m.store.WithTx(ctx, fn)
	})
}

func (m *Manager) rates(ctx context.Context) (pricing.RateTable, error) {
	rates, err := m.pricing.Rates(ctx)
	if err != nil {
		return pricing.RateTable{}, m.pricingFailed(err)
	}
	return rates, nil
}

// pricingFailed reports rate table problems as operational errors.
func (m *Manager) pricingFailed(err error) error {
	if errors.Is(err, domain.ErrInvalidConfiguration) {
		observability.ConfigErrors.Inc()
		m.logger.WithError(err).Error("rate table misconfigured")
	}
	return err
}

// committed runs after a successful commit: metrics, audit, debug logging.
func (m *Manager) committed(ctx context.Context, events []Event) {
	for _, ev := range events {
		if (ev.Previous != ev.Status && ev.Type != EventSeatsChanged) || ev.Type == EventCreated {
			observability.OrderTransitions.WithLabelValues(string(ev.Status)).Inc()
		}
		m.logger.WithFields(map[string]interface{}{"order_no": ev.OrderNo, "event": ev.Type, "status": ev.Status}).Debug("order event committed")
		if m.auditor == nil {
			continue
		}
		if err := m.auditor.RecordEvent(ctx, ev); err != nil {
			m.logger.WithError(err).WithField("order_no", ev.OrderNo).Warn("audit record failed")
		}
	}
}

func newOrder(req BookingRequest, quote pricing.Quote, now, expiresAt time.Time) *domain.Order {
	qty := len(req.Seats)
	if !req.TicketType.IsSeated() {
		qty = req.AdultQty + req.ChildQty
	}
	return &domain.Order{
		OrderNo:       domain.NewOrderNo(now),
		Customer:      req.Customer,
		ShowingID:     req.ShowingID,
		TicketType:    req.TicketType,
		Quantity:      qty,
		AdultQty:      req.AdultQty,
		ChildQty:      req.ChildQty,
		Seats:         req.Seats,
		Total:         quote.Total,
		Commission:    quote.Commission,
		PaidAmount:    decimal.Zero,
		Status:        domain.OrderPending,
		PurchaseType:  req.PurchaseType,
		PaymentMethod: req.PaymentMethod,
		Attendance:    domain.AttendancePending,
		ExpiresAt:     expiresAt,
		ReferrerCode:  req.ReferrerCode,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// settledAtCounter reports whether the order is a walk-in standing sale for today's showing,
// which is paid on the spot and needs no hold.
func settledAtCounter(o *domain.Order, startsAt time.Time) bool {
	if !o.IsStanding() || o.PurchaseType != domain.PurchaseOnsite {
		return false
	}
	y1, m1, d1 := o.CreatedAt.UTC().Date()
	y2, m2, d2 := startsAt.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func normalize(req BookingRequest) (BookingRequest, error) {
	req.Customer.Name = strings.TrimSpace(req.Customer.Name)
	req.Customer.Email = strings.TrimSpace(req.Customer.Email)
	req.Customer.Phone = strings.TrimSpace(req.Customer.Phone)
	req.ReferrerCode = ledger.NormalizeCode(req.ReferrerCode)
	req.TicketType = domain.TicketType(strings.ToUpper(strings.TrimSpace(string(req.TicketType))))

	if req.Customer.Name == "" {
		return req, domain.Validation("customer name is required")
	}
	if req.Customer.Email == "" && req.Customer.Phone == "" {
		return req, domain.Validation("customer email or phone is required")
	}
	if req.Customer.Email != "" && !strings.Contains(req.Customer.Email, "@") {
		return req, domain.Validation("invalid email %q", req.Customer.Email)
	}
	if req.ShowingID == "" {
		return req, domain.Validation("showing is required")
	}
	if !req.PurchaseType.IsValid() {
		return req, domain.Validation("unknown purchase type %q", req.PurchaseType)
	}
	if !req.PaymentMethod.IsValid() {
		return req, domain.Validation("unknown payment method %q", req.PaymentMethod)
	}

	switch {
	case req.TicketType == domain.TicketStanding:
		if len(req.Seats) > 0 {
			return req, domain.Validation("standing tickets take no seats")
		}
		req.Seats = nil
	case req.TicketType.IsSeated():
		req.Seats = uniqueSeats(req.Seats)
		if len(req.Seats) == 0 {
			return req, domain.Validation("%s tickets need at least one seat", req.TicketType)
		}
		req.AdultQty, req.ChildQty = 0, 0
	default:
		return req, errors.Wrapf(domain.ErrInvalidTicketType, "%q", req.TicketType)
	}
	return req, nil
}

func uniqueSeats(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = inventory.NormalizeSeatID(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
