package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-booking/internal/observability"
)

const (
	EventsExchange   = "seatbook.events"
	PaymentsExchange = "seatbook.payments"
)

type Publisher struct {
	ch       *amqp.Channel
	exchange string
	retries  int
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	err = ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &Publisher{ch: ch, exchange: EventsExchange, retries: 3}, nil
}

// Publish waits for the broker to confirm the message, retrying a few times.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	var err error
	for attempt := 0; attempt < p.retries; attempt++ {
		if attempt > 0 {
			observability.RabbitPublishRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		err = p.publishOnce(ctx, key, msg)
		if err == nil {
			return nil
		}
	}
	return errors.Wrapf(err, "publish %s", key)
}

func (p *Publisher) publishOnce(ctx context.Context, key string, msg amqp.Publishing) error {
	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, msg)
	if err != nil {
		return err
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("broker nacked message")
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
