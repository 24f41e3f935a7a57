package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/shopspring/decimal"
)

// txRepo implements store.Tx on an open pgx transaction.
type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) InsertShowing(ctx context.Context, showing domain.Showing) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO showings (id, venue_id, starts_at) VALUES ($1, $2, $3)
	`, showing.ID, showing.VenueID, showing.StartsAt)
	return errors.Wrapf(mapErr(err), "insert showing %s", showing.ID)
}

func (t *txRepo) GetShowing(ctx context.Context, showingID string) (*domain.Showing, error) {
	return getShowing(ctx, t.tx, showingID)
}

func (t *txRepo) InsertSeats(ctx context.Context, seats []domain.Seat) (int64, error) {
	batch := &pgx.Batch{}
	for _, s := range seats {
		batch.Queue(`
			INSERT INTO showing_seats (showing_id, seat_id, zone, status)
			VALUES ($1, $2, $3, 'AVAILABLE')
			ON CONFLICT (showing_id, seat_id) DO NOTHING
		`, s.ShowingID, s.ID, s.Zone)
	}
	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	var n int64
	for range seats {
		tag, err := br.Exec()
		if err != nil {
			return n, errors.Wrap(err, "insert seat")
		}
		n += tag.RowsAffected()
	}
	return n, nil
}

func (t *txRepo) ClaimSeats(ctx context.Context, showingID string, seatIDs []string, orderNo string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE showing_seats SET status = 'HELD', order_no = $3, updated_at = now()
		WHERE showing_id = $1 AND seat_id = ANY($2) AND status = 'AVAILABLE'
		RETURNING seat_id
	`, showingID, seatIDs, orderNo)
	if err != nil {
		return nil, errors.Wrap(err, "claim seats")
	}
	defer rows.Close()

	var claimed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan claimed seat")
		}
		claimed = append(claimed, id)
	}
	return claimed, errors.Wrap(rows.Err(), "claim seats")
}

func (t *txRepo) GetSeats(ctx context.Context, showingID string, seatIDs []string) ([]domain.Seat, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT showing_id, seat_id, zone, status, COALESCE(order_no, '')
		FROM showing_seats WHERE showing_id = $1 AND seat_id = ANY($2)
	`, showingID, seatIDs)
	if err != nil {
		return nil, errors.Wrap(err, "get seats")
	}
	return scanSeats(rows)
}

func (t *txRepo) ConfirmSeats(ctx context.Context, orderNo string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE showing_seats SET status = 'BOOKED', updated_at = now()
		WHERE order_no = $1 AND status = 'HELD'
	`, orderNo)
	if err != nil {
		return 0, errors.Wrap(err, "confirm seats")
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) ReleaseSeats(ctx context.Context, orderNo string, seatIDs []string) (int64, error) {
	query := `
		UPDATE showing_seats SET status = 'AVAILABLE', order_no = NULL, updated_at = now()
		WHERE order_no = $1`
	args := []any{orderNo}
	if seatIDs != nil {
		query += ` AND seat_id = ANY($2)`
		args = append(args, seatIDs)
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "release seats")
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, o.OrderNo, o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.ShowingID, o.ShowDate,
		o.TicketType, o.Quantity, o.AdultQty, o.ChildQty, seatsArg(o.Seats), o.Total, o.Commission, o.PaidAmount,
		o.Status, o.PurchaseType, o.PaymentMethod, o.Attendance, o.ExpiresAt, nullable(o.ReferrerCode), o.CreatedAt, o.UpdatedAt)
	return errors.Wrapf(mapErr(err), "insert order %s", o.OrderNo)
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, orderNo string) (*domain.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_no = $1 FOR UPDATE`, orderNo))
}

func (t *txRepo) UpdateOrder(ctx context.Context, o *domain.Order, expected domain.OrderStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET
			quantity = $3, adult_qty = $4, child_qty = $5, seats = $6,
			total_amount = $7, commission_amount = $8, paid_amount = $9,
			status = $10, attendance = $11, expires_at = $12, updated_at = $13
		WHERE order_no = $1 AND status = $2
	`, o.OrderNo, expected, o.Quantity, o.AdultQty, o.ChildQty, seatsArg(o.Seats),
		o.Total, o.Commission, o.PaidAmount, o.Status, o.Attendance, o.ExpiresAt, o.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "update order %s", o.OrderNo)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleState
	}
	return nil
}

func (t *txRepo) ListSettledOrders(ctx context.Context, showingID string) ([]*domain.Order, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE showing_id = $1 AND status IN ('PAID', 'BOOKED')
		ORDER BY order_no
		FOR UPDATE
	`, showingID)
	if err != nil {
		return nil, errors.Wrap(err, "list settled orders")
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertPayment(ctx context.Context, p domain.Payment) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO payments (order_no, payment_ref, amount, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_no, payment_ref) DO NOTHING
	`, p.OrderNo, p.PaymentRef, p.Amount, p.ReceivedAt)
	if err != nil {
		return false, errors.Wrap(err, "insert payment")
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) InsertReferrer(ctx context.Context, ref domain.Referrer) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO referrers (code, total_commission, created_at, updated_at) VALUES ($1, $2, $3, $4)
	`, ref.Code, ref.TotalCommission, ref.CreatedAt, ref.UpdatedAt)
	return errors.Wrapf(mapErr(err), "insert referrer %s", ref.Code)
}

func (t *txRepo) GetReferrer(ctx context.Context, code string) (*domain.Referrer, error) {
	return getReferrer(ctx, t.tx, code, " FOR UPDATE")
}

func (t *txRepo) AddCommission(ctx context.Context, code string, amount decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE referrers SET total_commission = total_commission + $2, updated_at = $3 WHERE code = $1
	`, code, amount, time.Now())
	if err != nil {
		return errors.Wrapf(err, "add commission to %s", code)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func seatsArg(seats []string) []string {
	if seats == nil {
		return []string{}
	}
	return seats
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
