package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-booking/internal/store"
)

func (t *txRepo) InsertOutbox(ctx context.Context, record store.OutboxRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return errors.Wrap(err, "insert outbox")
}

func (t *txRepo) FetchOutbox(ctx context.Context, limit int) ([]store.OutboxRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "fetch outbox")
	}
	defer rows.Close()

	var records []store.OutboxRecord
	for rows.Next() {
		var rec store.OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, errors.Wrap(err, "scan outbox")
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *txRepo) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return errors.Wrap(err, "mark outbox published")
}
