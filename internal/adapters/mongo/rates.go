package mongo

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/pricing"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const currentRates = "current"

// RateRepository keeps the admin-edited rate table. Amounts are stored as strings so
// they round-trip exactly.
type RateRepository struct {
	coll *mongo.Collection
}

func NewRateRepository(db *mongo.Database) *RateRepository {
	return &RateRepository{coll: db.Collection("rate_config")}
}

type RateDoc struct {
	ID                        string            `bson:"_id"`
	ReservationTimeoutMinutes int               `bson:"reservation_timeout_minutes"`
	TicketPrices              map[string]string `bson:"ticket_prices"`
	SeatCommissions           map[string]string `bson:"seat_commissions"`
	Standing                  *StandingDoc      `bson:"standing,omitempty"`
	UpdatedAt                 time.Time         `bson:"updated_at"`
}

type StandingDoc struct {
	AdultPrice      string `bson:"adult_price"`
	ChildPrice      string `bson:"child_price"`
	AdultCommission string `bson:"adult_commission"`
	ChildCommission string `bson:"child_commission"`
}

func (r *RateRepository) Save(ctx context.Context, doc RateDoc) error {
	doc.ID = currentRates
	doc.UpdatedAt = time.Now().UTC()
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": currentRates}, doc, options.Replace().SetUpsert(true))
	return errors.Wrap(err, "save rate table")
}

// Rates reads the table on every call.
func (r *RateRepository) Rates(ctx context.Context) (pricing.RateTable, error) {
	var doc RateDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": currentRates}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return pricing.RateTable{}, errors.Wrap(domain.ErrInvalidConfiguration, "no rate table stored")
	}
	if err != nil {
		return pricing.RateTable{}, errors.Wrap(err, "load rate table")
	}
	return doc.Table()
}

// Table converts the stored document, validating every amount.
func (doc RateDoc) Table() (pricing.RateTable, error) {
	t := pricing.RateTable{ReservationTimeoutMinutes: doc.ReservationTimeoutMinutes}
	if doc.ReservationTimeoutMinutes < 0 {
		return t, errors.Mark(errors.Newf("reservation timeout %d is negative", doc.ReservationTimeoutMinutes), domain.ErrInvalidConfiguration)
	}
	var err error
	if t.UnitPrices, err = ticketRates(doc.TicketPrices); err != nil {
		return t, err
	}
	if t.CommissionRates, err = ticketRates(doc.SeatCommissions); err != nil {
		return t, err
	}
	s := doc.Standing
	if s == nil {
		return t, nil
	}
	var rates pricing.StandingRates
	for _, f := range []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"standing.adult_price", s.AdultPrice, &rates.AdultPrice},
		{"standing.child_price", s.ChildPrice, &rates.ChildPrice},
		{"standing.adult_commission", s.AdultCommission, &rates.AdultCommission},
		{"standing.child_commission", s.ChildCommission, &rates.ChildCommission},
	} {
		if *f.dst, err = pricing.ParseAmount(f.key, f.raw); err != nil {
			return t, err
		}
	}
	t.Standing = &rates
	return t, nil
}

// ticketRates reuses the env parser so both sources accept exactly the same keys.
func ticketRates(raw map[string]string) (map[domain.TicketType]decimal.Decimal, error) {
	pairs := make([]string, 0, len(raw))
	for k, v := range raw {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pricing.ParseTicketRates(strings.Join(pairs, ","))
}
