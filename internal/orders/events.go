package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/store"
)

const AggregateOrder = "order"

// Event types published through the outbox. They double as routing keys.
const (
	EventCreated         = "order.created"
	EventPaymentReceived = "order.payment_received"
	EventPaid            = "order.paid"
	EventCancelled       = "order.cancelled"
	EventExpired         = "order.expired"
	EventSeatsChanged    = "order.seats_changed"
	EventBooked          = "order.booked"
	EventCheckedIn       = "order.checked_in"
	EventNoShow          = "order.no_show"
)

type Event struct {
	Type         string                  `json:"type"`
	OrderNo      string                  `json:"order_no"`
	ShowingID    string                  `json:"showing_id"`
	Status       domain.OrderStatus      `json:"status"`
	Previous     domain.OrderStatus      `json:"previous_status,omitempty"`
	Attendance   domain.AttendanceStatus `json:"attendance"`
	Seats        []string                `json:"seats,omitempty"`
	Total        string                  `json:"total"`
	Commission   string                  `json:"commission"`
	PaidAmount   string                  `json:"paid_amount"`
	ReferrerCode string                  `json:"referrer_code,omitempty"`
	OccurredAt   time.Time               `json:"occurred_at"`
}

func newEvent(eventType string, order *domain.Order, previous domain.OrderStatus, now time.Time) Event {
	return Event{
		Type:         eventType,
		OrderNo:      order.OrderNo,
		ShowingID:    order.ShowingID,
		Status:       order.Status,
		Previous:     previous,
		Attendance:   order.Attendance,
		Seats:        append([]string(nil), order.Seats...),
		Total:        order.Total.String(),
		Commission:   order.Commission.String(),
		PaidAmount:   order.PaidAmount.String(),
		ReferrerCode: order.ReferrerCode,
		OccurredAt:   now,
	}
}

func writeEvent(ctx context.Context, tx store.Tx, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}
	id := uuid.New()
	return tx.InsertOutbox(ctx, store.OutboxRecord{
		ID:            id,
		AggregateType: AggregateOrder,
		AggregateID:   ev.OrderNo,
		EventType:     ev.Type,
		Payload:       payload,
		CreatedAt:     ev.OccurredAt,
		Status:        "NEW",
		DedupeKey:     ev.OrderNo + ":" + ev.Type + ":" + id.String(),
	})
}
