// Package store defines the consistency contract the booking core needs from storage.
//
// All mutations happen inside Store.WithTx. Implementations must make every Tx method
// observe and produce committed state atomically with the rest of the transaction:
// either everything done through a Tx commits, or nothing does.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/shopspring/decimal"
)

type Store interface {
	// WithTx runs fn in a single transaction. A non-nil error from fn rolls it back.
	// Serialization and lock-timeout failures surface as domain.ErrSerializationFailure
	// and domain.ErrLockTimeout.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetShowing(ctx context.Context, showingID string) (*domain.Showing, error)
	SeatsForShowing(ctx context.Context, showingID string) ([]domain.Seat, error)
	GetOrder(ctx context.Context, orderNo string) (*domain.Order, error)
	// ListExpiredOrders returns order numbers of PENDING orders with expires_at < now.
	ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]string, error)
	GetReferrer(ctx context.Context, code string) (*domain.Referrer, error)
}

type Tx interface {
	InsertShowing(ctx context.Context, showing domain.Showing) error
	GetShowing(ctx context.Context, showingID string) (*domain.Showing, error)
	// InsertSeats creates AVAILABLE seats; seats that already exist are left untouched.
	InsertSeats(ctx context.Context, seats []domain.Seat) (int64, error)

	// ClaimSeats moves every listed seat that is AVAILABLE for the showing to HELD owned by
	// orderNo, as one conditional update, and returns the ids it claimed.
	ClaimSeats(ctx context.Context, showingID string, seatIDs []string, orderNo string) ([]string, error)
	GetSeats(ctx context.Context, showingID string, seatIDs []string) ([]domain.Seat, error)
	// ConfirmSeats moves the order's HELD seats to BOOKED.
	ConfirmSeats(ctx context.Context, orderNo string) (int64, error)
	// ReleaseSeats frees the order's seats; nil seatIDs releases all of them.
	ReleaseSeats(ctx context.Context, orderNo string, seatIDs []string) (int64, error)

	InsertOrder(ctx context.Context, order *domain.Order) error
	// GetOrderForUpdate reads the order and locks it until the transaction ends.
	GetOrderForUpdate(ctx context.Context, orderNo string) (*domain.Order, error)
	// UpdateOrder writes order if its stored status still equals expected, else ErrStaleState.
	UpdateOrder(ctx context.Context, order *domain.Order, expected domain.OrderStatus) error
	ListSettledOrders(ctx context.Context, showingID string) ([]*domain.Order, error)

	// InsertPayment records a payment; false when PaymentRef was already recorded for the order.
	InsertPayment(ctx context.Context, payment domain.Payment) (bool, error)

	InsertReferrer(ctx context.Context, referrer domain.Referrer) error
	GetReferrer(ctx context.Context, code string) (*domain.Referrer, error)
	AddCommission(ctx context.Context, code string, amount decimal.Decimal) error

	InsertOutbox(ctx context.Context, record OutboxRecord) error
	// FetchOutbox returns unpublished records, locking them against concurrent publishers.
	FetchOutbox(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}
