package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-booking/internal/inventory"
	"github.com/robertarktes/seat-booking/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// VenueCatalog stores venue seat layouts. They are read once at startup.
type VenueCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewVenueCatalog(db *mongo.Database, logger observability.Logger) *VenueCatalog {
	return &VenueCatalog{
		coll:   db.Collection("venues"),
		logger: logger,
	}
}

type VenueDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Seats     []SeatDoc `bson:"seats"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type SeatDoc struct {
	ID   string `bson:"id"`
	Zone string `bson:"zone"`
}

func (c *VenueCatalog) SaveVenue(ctx context.Context, name string, layout inventory.Layout) error {
	doc := VenueDoc{ID: layout.VenueID, Name: name, UpdatedAt: time.Now().UTC()}
	for _, s := range layout.Seats {
		doc.Seats = append(doc.Seats, SeatDoc{ID: s.ID, Zone: s.Zone})
	}
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		c.logger.WithError(err).WithField("venue_id", layout.VenueID).Error("failed to save venue")
		return err
	}
	return nil
}

// LoadLayouts reads every venue into an immutable layout set.
func (c *VenueCatalog) LoadLayouts(ctx context.Context) (*inventory.Layouts, error) {
	cur, err := c.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "find venues")
	}
	var docs []VenueDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode venues")
	}

	layouts := make([]inventory.Layout, 0, len(docs))
	for _, doc := range docs {
		layout := inventory.Layout{VenueID: doc.ID}
		for _, s := range doc.Seats {
			layout.Seats = append(layout.Seats, inventory.SeatDef{ID: s.ID, Zone: s.Zone})
		}
		layouts = append(layouts, layout)
	}
	c.logger.WithField("venues", len(layouts)).Info("venue layouts loaded")
	return inventory.NewLayouts(layouts...)
}
