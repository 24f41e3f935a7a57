package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Schema is idempotent and runs on CockroachDB and PostgreSQL.
const Schema = `
CREATE TABLE IF NOT EXISTS showings (
	id         TEXT PRIMARY KEY,
	venue_id   TEXT NOT NULL,
	starts_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS showing_seats (
	showing_id TEXT NOT NULL REFERENCES showings (id),
	seat_id    TEXT NOT NULL,
	zone       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'AVAILABLE' CHECK (status IN ('AVAILABLE', 'HELD', 'BOOKED')),
	order_no   TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (showing_id, seat_id),
	CHECK ((order_no IS NULL) = (status = 'AVAILABLE'))
);

CREATE INDEX IF NOT EXISTS showing_seats_order_idx ON showing_seats (order_no);

CREATE TABLE IF NOT EXISTS orders (
	order_no          TEXT PRIMARY KEY,
	customer_name     TEXT NOT NULL,
	customer_email    TEXT NOT NULL,
	customer_phone    TEXT NOT NULL,
	showing_id        TEXT NOT NULL REFERENCES showings (id),
	show_date         TIMESTAMPTZ NOT NULL,
	ticket_type       TEXT NOT NULL,
	quantity          INT NOT NULL,
	adult_qty         INT NOT NULL DEFAULT 0,
	child_qty         INT NOT NULL DEFAULT 0,
	seats             TEXT[] NOT NULL DEFAULT ARRAY[]::TEXT[],
	total_amount      NUMERIC NOT NULL,
	commission_amount NUMERIC NOT NULL,
	paid_amount       NUMERIC NOT NULL DEFAULT 0,
	status            TEXT NOT NULL CHECK (status IN ('PENDING', 'PAID', 'BOOKED', 'CANCELLED', 'EXPIRED')),
	purchase_type     TEXT NOT NULL CHECK (purchase_type IN ('WEBSITE', 'BOOKING', 'ONSITE')),
	payment_method    TEXT NOT NULL,
	attendance        TEXT NOT NULL CHECK (attendance IN ('PENDING', 'CHECKED_IN', 'NO_SHOW')),
	expires_at        TIMESTAMPTZ NOT NULL,
	referrer_code     TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS orders_pending_expiry_idx ON orders (expires_at) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS orders_showing_idx ON orders (showing_id);

CREATE TABLE IF NOT EXISTS payments (
	order_no    TEXT NOT NULL REFERENCES orders (order_no),
	payment_ref TEXT NOT NULL,
	amount      NUMERIC NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (order_no, payment_ref)
);

CREATE TABLE IF NOT EXISTS referrers (
	code             TEXT PRIMARY KEY,
	total_commission NUMERIC NOT NULL DEFAULT 0 CHECK (total_commission >= 0),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS outbox (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload_json   JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at   TIMESTAMPTZ,
	status         TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED')),
	dedupe_key     TEXT NOT NULL UNIQUE
);
`

func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, Schema)
	return errors.Wrap(err, "apply schema")
}
