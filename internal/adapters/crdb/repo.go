package crdb

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/store"
)

const (
	SerializationFailureCode = "40001"
	LockNotAvailableCode     = "55P03"
	UniqueViolationCode      = "23505"
)

const defaultLockTimeout = 5 * time.Second

type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

type Option func(*Repository)

// WithLockTimeout sets the per-transaction lock wait bound.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.lockTimeout = d
		}
	}
}

func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, lockTimeout: defaultLockTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return mapErr(err)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds()))
	if err != nil {
		return mapErr(err)
	}

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

// mapErr translates storage failures the core reacts to into domain errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Mark(err, domain.ErrSerializationFailure)
		case LockNotAvailableCode:
			return errors.Mark(err, domain.ErrLockTimeout)
		case UniqueViolationCode:
			return errors.Mark(err, domain.ErrDuplicate)
		}
	}
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) GetShowing(ctx context.Context, showingID string) (*domain.Showing, error) {
	return getShowing(ctx, r.pool, showingID)
}

func getShowing(ctx context.Context, q querier, showingID string) (*domain.Showing, error) {
	var sh domain.Showing
	err := q.QueryRow(ctx, `
		SELECT id, venue_id, starts_at FROM showings WHERE id = $1
	`, showingID).Scan(&sh.ID, &sh.VenueID, &sh.StartsAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get showing")
	}
	return &sh, nil
}

func (r *Repository) SeatsForShowing(ctx context.Context, showingID string) ([]domain.Seat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT showing_id, seat_id, zone, status, COALESCE(order_no, '')
		FROM showing_seats WHERE showing_id = $1
		ORDER BY zone, seat_id
	`, showingID)
	if err != nil {
		return nil, errors.Wrap(err, "query seats")
	}
	return scanSeats(rows)
}

func scanSeats(rows pgx.Rows) ([]domain.Seat, error) {
	defer rows.Close()
	var seats []domain.Seat
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(&s.ShowingID, &s.ID, &s.Zone, &s.Status, &s.OrderNo); err != nil {
			return nil, errors.Wrap(err, "scan seat")
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

func (r *Repository) GetOrder(ctx context.Context, orderNo string) (*domain.Order, error) {
	return scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_no = $1`, orderNo))
}

func (r *Repository) ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_no FROM orders
		WHERE status = 'PENDING' AND expires_at < $1
		ORDER BY expires_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query expired orders")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, errors.Wrap(err, "scan order number")
		}
		out = append(out, no)
	}
	return out, rows.Err()
}

func (r *Repository) GetReferrer(ctx context.Context, code string) (*domain.Referrer, error) {
	return getReferrer(ctx, r.pool, code, "")
}

func getReferrer(ctx context.Context, q querier, code, suffix string) (*domain.Referrer, error) {
	var ref domain.Referrer
	err := q.QueryRow(ctx, `
		SELECT code, total_commission, created_at, updated_at FROM referrers WHERE code = $1
	`+suffix, code).Scan(&ref.Code, &ref.TotalCommission, &ref.CreatedAt, &ref.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get referrer")
	}
	return &ref, nil
}

const orderColumns = `order_no, customer_name, customer_email, customer_phone, showing_id, show_date,
	ticket_type, quantity, adult_qty, child_qty, seats, total_amount, commission_amount, paid_amount,
	status, purchase_type, payment_method, attendance, expires_at, referrer_code, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var referrer *string
	err := row.Scan(&o.OrderNo, &o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.ShowingID, &o.ShowDate,
		&o.TicketType, &o.Quantity, &o.AdultQty, &o.ChildQty, &o.Seats, &o.Total, &o.Commission, &o.PaidAmount,
		&o.Status, &o.PurchaseType, &o.PaymentMethod, &o.Attendance, &o.ExpiresAt, &referrer, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan order")
	}
	if referrer != nil {
		o.ReferrerCode = *referrer
	}
	return &o, nil
}

var _ store.Store = (*Repository)(nil)
