package http_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/robertarktes/seat-booking/internal/adapters/memory"
	"github.com/robertarktes/seat-booking/internal/domain"
	httphandler "github.com/robertarktes/seat-booking/internal/http"
	"github.com/robertarktes/seat-booking/internal/idempotency"
	"github.com/robertarktes/seat-booking/internal/inventory"
	"github.com/robertarktes/seat-booking/internal/ledger"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/orders"
	"github.com/robertarktes/seat-booking/internal/pricing"
	"github.com/robertarktes/seat-booking/internal/rateLimit"
	"github.com/shopspring/decimal"
)

type mapBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *mapBackend) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapBackend) Save(_ context.Context, key string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		m.data[key] = data
	}
	return nil
}

type saturatedCounter struct{}

func (saturatedCounter) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 1000, nil
}

func testRates() pricing.RateTable {
	return pricing.RateTable{
		ReservationTimeoutMinutes: 5,
		UnitPrices:                map[domain.TicketType]decimal.Decimal{domain.TicketVIP: decimal.NewFromInt(1500)},
		CommissionRates:           map[domain.TicketType]decimal.Decimal{domain.TicketVIP: decimal.NewFromInt(400)},
	}
}

func newAPI(t *testing.T, deps httphandler.RouterDeps) http.Handler {
	t.Helper()
	st := memory.NewStore()
	logger := observability.NewNopLogger()
	layouts, err := inventory.NewLayouts(inventory.Layout{
		VenueID: "hall",
		Seats:   []inventory.SeatDef{{ID: "A1", Zone: "A"}, {ID: "A2", Zone: "A"}, {ID: "B1", Zone: "B"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	inv := inventory.NewInventory(st, layouts, logger)
	l := ledger.NewLedger(st, logger)
	engine := pricing.NewEngine(pricing.RateSourceFunc(func(context.Context) (pricing.RateTable, error) {
		return testRates(), nil
	}))
	mgr := orders.NewManager(st, inv, engine, l, logger)
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return httphandler.SetupRouter(httphandler.NewHandlers(mgr, inv, l, logger, nil), deps)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func openShowing(t *testing.T, h http.Handler, header map[string]string) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/showings", map[string]interface{}{
		"id": "S1", "venue_id": "hall", "starts_at": time.Now().Add(48 * time.Hour),
	}, header)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open showing: %d %s", rec.Code, rec.Body.String())
	}
}

func bookingBody(seats ...string) map[string]interface{} {
	return map[string]interface{}{
		"customer":       map[string]string{"name": "Ada", "email": "ada@example.com"},
		"showing_id":     "S1",
		"ticket_type":    "vip",
		"seats":          seats,
		"purchase_type":  "website",
		"payment_method": "card",
		"referrer_code":  "ref01",
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t, httphandler.RouterDeps{})
	openShowing(t, api, nil)

	if rec := do(t, api, http.MethodPost, "/v1/referrers", map[string]string{"code": "REF01"}, nil); rec.Code != http.StatusCreated {
		t.Fatalf("register referrer: %d %s", rec.Code, rec.Body.String())
	}

	rec := do(t, api, http.MethodPost, "/v1/orders", bookingBody("A1", "A2"), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", rec.Code, rec.Body.String())
	}
	created := decodeBody(t, rec)
	orderNo := created["order_no"].(string)
	if created["status"] != "PENDING" || created["total"] != "3000" || created["expires_at"] == nil ||
		created["outstanding"] != "3000" || created["hold_active"] != true {
		t.Errorf("unexpected order %v", created)
	}

	rec = do(t, api, http.MethodPost, "/v1/payments/callback", map[string]interface{}{
		"order_no": orderNo, "payment_ref": "pay-1", "amount": "3000", "method": "card",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("payment: %d %s", rec.Code, rec.Body.String())
	}
	if paid := decodeBody(t, rec); paid["status"] != "PAID" || paid["expires_at"] != nil ||
		paid["outstanding"] != "0" || paid["hold_active"] != false {
		t.Errorf("expected PAID without expiry, got %v", paid)
	}

	rec = do(t, api, http.MethodGet, "/v1/showings/S1/seats", nil, nil)
	var seats struct {
		Seats []inventory.SeatStatus `json:"seats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &seats); err != nil {
		t.Fatal(err)
	}
	booked := 0
	for _, s := range seats.Seats {
		if s.Status == "BOOKED" {
			booked++
		}
	}
	if booked != 2 {
		t.Errorf("expected 2 booked seats, got %+v", seats.Seats)
	}

	rec = do(t, api, http.MethodGet, "/v1/referrers/ref01/commission", nil, nil)
	if body := decodeBody(t, rec); body["total_commission"] != "800" {
		t.Errorf("expected commission 800, got %v", body)
	}

	rec = do(t, api, http.MethodPost, "/v1/orders/"+orderNo+"/cancel", nil, nil)
	if rec.Code != http.StatusConflict || decodeBody(t, rec)["error"] != "order_not_cancellable" {
		t.Errorf("cancel paid order: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, api, http.MethodPost, "/v1/orders/"+orderNo+"/book", nil, nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "BOOKED" {
		t.Errorf("book: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, api, http.MethodPost, "/v1/orders/"+orderNo+"/check-in", nil, nil)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["attendance"] != "CHECKED_IN" {
		t.Errorf("check-in: %d %s", rec.Code, rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	api := newAPI(t, httphandler.RouterDeps{})
	openShowing(t, api, nil)
	do(t, api, http.MethodPost, "/v1/referrers", map[string]string{"code": "REF01"}, nil)

	if rec := do(t, api, http.MethodPost, "/v1/orders", bookingBody("A1"), nil); rec.Code != http.StatusCreated {
		t.Fatalf("first booking: %d %s", rec.Code, rec.Body.String())
	}

	rec := do(t, api, http.MethodPost, "/v1/orders", bookingBody("A1", "B1"), nil)
	body := decodeBody(t, rec)
	if rec.Code != http.StatusConflict || body["error"] != "seat_conflict" {
		t.Fatalf("expected seat conflict, got %d %v", rec.Code, body)
	}
	if seats, _ := body["seats"].([]interface{}); len(seats) != 1 || seats[0] != "A1" {
		t.Errorf("expected conflicting seat A1, got %v", body["seats"])
	}

	bad := bookingBody("B1")
	bad["referrer_code"] = "NOPE"
	if rec := do(t, api, http.MethodPost, "/v1/orders", bad, nil); rec.Code != http.StatusConflict || decodeBody(t, rec)["error"] != "invalid_referrer_code" {
		t.Errorf("invalid referrer: %d %s", rec.Code, rec.Body.String())
	}

	bad = bookingBody("B1")
	bad["ticket_type"] = "balcony"
	if rec := do(t, api, http.MethodPost, "/v1/orders", bad, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid ticket type: %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, api, http.MethodPost, "/v1/orders", "not an object", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: %d", rec.Code)
	}
	if rec := do(t, api, http.MethodGet, "/v1/orders/SB-000000-NOPE00", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown order: %d", rec.Code)
	}
	if rec := do(t, api, http.MethodPost, "/v1/referrers", map[string]string{"code": "ref01"}, nil); rec.Code != http.StatusConflict {
		t.Errorf("duplicate referrer: %d", rec.Code)
	}
}

func TestIdempotentReplay(t *testing.T) {
	idemp := idempotency.NewIdempotency(&mapBackend{data: map[string][]byte{}}, time.Hour)
	api := newAPI(t, httphandler.RouterDeps{Idempotency: idemp})
	openShowing(t, api, nil)
	do(t, api, http.MethodPost, "/v1/referrers", map[string]string{"code": "REF01"}, nil)

	header := map[string]string{"Idempotency-Key": "booking-0000000001"}
	first := do(t, api, http.MethodPost, "/v1/orders", bookingBody("A1"), header)
	if first.Code != http.StatusCreated {
		t.Fatalf("first: %d %s", first.Code, first.Body.String())
	}
	second := do(t, api, http.MethodPost, "/v1/orders", bookingBody("A1"), header)
	if second.Code != http.StatusCreated || second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replayed 201, got %d %v", second.Code, second.Header())
	}
	if decodeBody(t, first)["order_no"] != decodeBody(t, second)["order_no"] {
		t.Errorf("replay returned a different order")
	}

	if rec := do(t, api, http.MethodPost, "/v1/orders", bookingBody("A2"), map[string]string{"Idempotency-Key": "short"}); rec.Code != http.StatusBadRequest {
		t.Errorf("short key: %d", rec.Code)
	}
}

func TestRateLimited(t *testing.T) {
	rl := rateLimit.NewRateLimiter(saturatedCounter{}, observability.NewNopLogger())
	api := newAPI(t, httphandler.RouterDeps{RateLimiter: rl})
	if rec := do(t, api, http.MethodGet, "/v1/orders/SB-000000-NOPE00", nil, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec := do(t, api, http.MethodGet, "/v1/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("health must not be limited, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	key, err := httphandler.ParsePublicKey(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
	if err != nil {
		t.Fatal(err)
	}
	api := newAPI(t, httphandler.RouterDeps{AdminKey: key})

	token := func(role string) string {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub":  "ops",
			"role": role,
			"exp":  time.Now().Add(time.Hour).Unix(),
		}).SignedString(priv)
		if err != nil {
			t.Fatal(err)
		}
		return "Bearer " + signed
	}

	showing := map[string]interface{}{"id": "S1", "venue_id": "hall", "starts_at": time.Now().Add(time.Hour)}
	if rec := do(t, api, http.MethodPost, "/v1/showings", showing, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: %d", rec.Code)
	}
	if rec := do(t, api, http.MethodPost, "/v1/showings", showing, map[string]string{"Authorization": "Bearer garbage"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: %d", rec.Code)
	}
	if rec := do(t, api, http.MethodPost, "/v1/showings", showing, map[string]string{"Authorization": token("customer")}); rec.Code != http.StatusForbidden {
		t.Errorf("customer token: %d", rec.Code)
	}
	openShowing(t, api, map[string]string{"Authorization": token("admin")})

	if rec := do(t, api, http.MethodGet, "/v1/showings/S1/seats", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("public route: %d", rec.Code)
	}
}

func TestParsePublicKeyEmpty(t *testing.T) {
	key, err := httphandler.ParsePublicKey("  ")
	if err != nil || key != nil {
		t.Errorf("expected nil key, got %v %v", key, err)
	}
}
