package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	mongoadapter "github.com/robertarktes/seat-booking/internal/adapters/mongo"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/inventory"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("container test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "mongodb")
	if err != nil {
		t.Fatal(err)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Disconnect(ctx) })
	return client.Database("seatbook_test")
}

func standardDoc() mongoadapter.RateDoc {
	return mongoadapter.RateDoc{
		ReservationTimeoutMinutes: 10,
		TicketPrices:              map[string]string{"VIP": "1500", "regular": "800"},
		SeatCommissions:           map[string]string{"VIP": "400", "REGULAR": "100"},
		Standing: &mongoadapter.StandingDoc{
			AdultPrice: "500", ChildPrice: "250", AdultCommission: "50", ChildCommission: "20",
		},
	}
}

func TestRateDoc_Table(t *testing.T) {
	table, err := standardDoc().Table()
	if err != nil {
		t.Fatal(err)
	}
	if !table.UnitPrices[domain.TicketRegular].Equal(decimal.NewFromInt(800)) {
		t.Errorf("expected REGULAR 800, got %v", table.UnitPrices)
	}
	if table.Standing == nil || !table.Standing.ChildCommission.Equal(decimal.NewFromInt(20)) {
		t.Errorf("unexpected standing rates %+v", table.Standing)
	}
	if table.ReservationTimeout() != 10*time.Minute {
		t.Errorf("expected 10m timeout, got %s", table.ReservationTimeout())
	}

	bad := standardDoc()
	bad.Standing.AdultPrice = "five hundred"
	if _, err := bad.Table(); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration, got %v", err)
	}

	unknown := standardDoc()
	unknown.TicketPrices["BALCONY"] = "300"
	if _, err := unknown.Table(); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration for unknown key, got %v", err)
	}
}

func TestRateRepository(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	repo := mongoadapter.NewRateRepository(db)

	if _, err := repo.Rates(ctx); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("empty collection: expected ErrInvalidConfiguration, got %v", err)
	}
	if err := repo.Save(ctx, standardDoc()); err != nil {
		t.Fatal(err)
	}
	table, err := repo.Rates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !table.UnitPrices[domain.TicketVIP].Equal(decimal.NewFromInt(1500)) {
		t.Errorf("unexpected prices %v", table.UnitPrices)
	}

	changed := standardDoc()
	changed.TicketPrices["VIP"] = "1800"
	if err := repo.Save(ctx, changed); err != nil {
		t.Fatal(err)
	}
	table, _ = repo.Rates(ctx)
	if !table.UnitPrices[domain.TicketVIP].Equal(decimal.NewFromInt(1800)) {
		t.Errorf("admin change not visible: %v", table.UnitPrices)
	}
}

func TestVenueCatalog(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	catalog := mongoadapter.NewVenueCatalog(db, observability.NewNopLogger())

	hall := inventory.Layout{VenueID: "hall", Seats: []inventory.SeatDef{{ID: "A2", Zone: "A"}, {ID: "A1", Zone: "A"}}}
	if err := catalog.SaveVenue(ctx, "Main Hall", hall); err != nil {
		t.Fatal(err)
	}
	layouts, err := catalog.LoadLayouts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := layouts.Get("hall")
	if !ok || len(got.Seats) != 2 || got.Seats[0].ID != "A1" {
		t.Errorf("unexpected layout %+v", got)
	}
}

func TestAuditLogger(t *testing.T) {
	db := startMongo(t)
	ctx := context.Background()
	audit := mongoadapter.NewAuditLogger(db, observability.NewNopLogger())

	at := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	for i, typ := range []string{orders.EventCreated, orders.EventPaid} {
		err := audit.RecordEvent(ctx, orders.Event{
			Type:       typ,
			OrderNo:    "SB-261018-ABC123",
			ShowingID:  "S1",
			Status:     domain.OrderPaid,
			Seats:      []string{"A1"},
			OccurredAt: at.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	logs, err := audit.History(ctx, "SB-261018-ABC123")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 || logs[0].Action != orders.EventCreated || logs[1].Action != orders.EventPaid {
		t.Errorf("unexpected history %+v", logs)
	}
}
