// Package outbox relays order events committed to the store onto the message broker.
// Delivery is at-least-once; consumers dedupe on MessageId.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/store"
)

type MessagePublisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	store  store.Store
	pub    MessagePublisher
	logger observability.Logger
	batch  int
	now    func() time.Time
}

func NewPublisher(st store.Store, pub MessagePublisher, logger observability.Logger, batch int) *Publisher {
	if batch <= 0 {
		batch = 50
	}
	return &Publisher{store: st, pub: pub, logger: logger, batch: batch, now: func() time.Time { return time.Now().UTC() }}
}

// PublishPending publishes one batch of unpublished records, oldest first, and marks them
// published. It stops at the first broker error; what was published so far stays marked.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	published := 0
	var publishErr error
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		published, publishErr = 0, nil
		records, err := tx.FetchOutbox(ctx, p.batch)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			observability.OutboxLag.Set(0)
			return nil
		}
		observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

		for _, rec := range records {
			msg := amqp.Publishing{
				MessageId:    rec.DedupeKey,
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    rec.CreatedAt,
				Type:         rec.EventType,
				Body:         rec.Payload,
			}
			if err := p.pub.Publish(ctx, rec.EventType, msg); err != nil {
				publishErr = err
				break
			}
			if err := tx.MarkPublished(ctx, rec.ID, p.now()); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, publishErr
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("outbox publisher started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return
		case <-ticker.C:
			n, err := p.PublishPending(ctx)
			if err != nil {
				p.logger.WithError(err).WithField("published", n).Error("outbox publish failed")
				continue
			}
			if n > 0 {
				p.logger.WithField("published", n).Debug("outbox records published")
			}
		}
	}
}
