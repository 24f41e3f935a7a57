// Package payments applies payment confirmations delivered by the payment provider's
// message stream. Redeliveries are safe: a payment ref is applied to an order at most once.
package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/orders"
	"github.com/shopspring/decimal"
)

type Confirmer interface {
	ConfirmPayment(ctx context.Context, p orders.PaymentConfirmation) (*domain.Order, error)
}

// Message is the payment confirmation body.
type Message struct {
	OrderNo    string          `json:"order_no"`
	PaymentRef string          `json:"payment_ref"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	ReceivedAt time.Time       `json:"received_at"`
}

func (m Message) Confirmation() orders.PaymentConfirmation {
	return orders.PaymentConfirmation{
		OrderNo:    m.OrderNo,
		PaymentRef: m.PaymentRef,
		Amount:     m.Amount,
		Method:     domain.PaymentMethod(m.Method),
		ReceivedAt: m.ReceivedAt,
	}
}

type Listener struct {
	orders Confirmer
	logger observability.Logger
}

func NewListener(c Confirmer, logger observability.Logger) *Listener {
	return &Listener{orders: c, logger: logger}
}

// Run handles deliveries until ctx is done or the channel closes.
func (l *Listener) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				l.logger.Warn("payment deliveries channel closed")
				return
			}
			l.Handle(ctx, d)
		}
	}
}

// Handle applies one delivery. Transient failures are requeued; anything that can never
// succeed is rejected without requeue so it lands in the dead-letter queue, if one is bound.
func (l *Listener) Handle(ctx context.Context, d amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		l.logger.WithError(err).WithField("message_id", d.MessageId).Error("malformed payment message")
		_ = d.Reject(false)
		return
	}
	log := l.logger.WithFields(map[string]interface{}{"order_no": msg.OrderNo, "payment_ref": msg.PaymentRef})

	order, err := l.orders.ConfirmPayment(ctx, msg.Confirmation())
	switch {
	case err == nil:
		log.WithField("status", order.Status).Info("payment applied")
		_ = d.Ack(false)
	case domain.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded):
		log.WithError(err).Warn("payment deferred, requeueing")
		_ = d.Nack(false, true)
	case errors.Is(err, domain.ErrOrderNotPending):
		// The hold lapsed or the order was cancelled before the money arrived; needs a refund.
		log.WithError(err).Error("payment for closed order")
		_ = d.Reject(false)
	default:
		log.WithError(err).Error("payment rejected")
		_ = d.Reject(false)
	}
}
