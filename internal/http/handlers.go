package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/seat-booking/internal/domain"
	"github.com/robertarktes/seat-booking/internal/inventory"
	"github.com/robertarktes/seat-booking/internal/ledger"
	"github.com/robertarktes/seat-booking/internal/observability"
	"github.com/robertarktes/seat-booking/internal/orders"
	"github.com/robertarktes/seat-booking/internal/payments"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	orders    *orders.Manager
	inventory *inventory.Inventory
	ledger    *ledger.Ledger
	logger    observability.Logger
	ready     func(ctx context.Context) error
}

// NewHandlers builds the HTTP surface. ready may be nil, in which case readiness always passes.
func NewHandlers(m *orders.Manager, inv *inventory.Inventory, l *ledger.Ledger, logger observability.Logger, ready func(ctx context.Context) error) *Handlers {
	return &Handlers{
		orders:    m,
		inventory: inv,
		ledger:    l,
		logger:    logger,
		ready:     ready,
	}
}

type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Seats   []string `json:"seats,omitempty"`
}

type customerView struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type orderView struct {
	OrderNo       string                  `json:"order_no"`
	Customer      customerView            `json:"customer"`
	ShowingID     string                  `json:"showing_id"`
	ShowDate      time.Time               `json:"show_date"`
	TicketType    domain.TicketType       `json:"ticket_type"`
	Quantity      int                     `json:"quantity"`
	AdultQty      int                     `json:"adult_qty,omitempty"`
	ChildQty      int                     `json:"child_qty,omitempty"`
	Seats         []string                `json:"seats,omitempty"`
	Total         decimal.Decimal         `json:"total"`
	Commission    decimal.Decimal         `json:"commission"`
	PaidAmount    decimal.Decimal         `json:"paid_amount"`
	Outstanding   decimal.Decimal         `json:"outstanding"`
	Status        domain.OrderStatus      `json:"status"`
	PurchaseType  domain.PurchaseType     `json:"purchase_type"`
	PaymentMethod domain.PaymentMethod    `json:"payment_method"`
	Attendance    domain.AttendanceStatus `json:"attendance"`
	ExpiresAt     *time.Time              `json:"expires_at,omitempty"`
	HoldActive    bool                    `json:"hold_active"`
	ReferrerCode  string                  `json:"referrer_code,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

func viewOrder(o *domain.Order) orderView {
	v := orderView{
		OrderNo:       o.OrderNo,
		Customer:      customerView{Name: o.Customer.Name, Email: o.Customer.Email, Phone: o.Customer.Phone},
		ShowingID:     o.ShowingID,
		ShowDate:      o.ShowDate,
		TicketType:    o.TicketType,
		Quantity:      o.Quantity,
		AdultQty:      o.AdultQty,
		ChildQty:      o.ChildQty,
		Seats:         o.Seats,
		Total:         o.Total,
		Commission:    o.Commission,
		PaidAmount:    o.PaidAmount,
		Outstanding:   o.Outstanding(),
		Status:        o.Status,
		PurchaseType:  o.PurchaseType,
		PaymentMethod: o.PaymentMethod,
		Attendance:    o.Attendance,
		ReferrerCode:  o.ReferrerCode,
		HoldActive:    o.HoldActive(time.Now()),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Status == domain.OrderPending && !o.ExpiresAt.IsZero() {
		at := o.ExpiresAt
		v.ExpiresAt = &at
	}
	return v
}

func (h *Handlers) OpenShowing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string    `json:"id"`
		VenueID  string    `json:"venue_id"`
		StartsAt time.Time `json:"starts_at"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	created, err := h.inventory.OpenShowing(r.Context(), domain.Showing{ID: req.ID, VenueID: req.VenueID, StartsAt: req.StartsAt})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"showing_id": req.ID, "seats_created": created})
}

func (h *Handlers) ListSeats(w http.ResponseWriter, r *http.Request) {
	seats, err := h.inventory.SeatsForShowing(r.Context(), chi.URLParam(r, "showingID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"seats": seats})
}

func (h *Handlers) MarkNoShows(w http.ResponseWriter, r *http.Request) {
	marked, err := h.orders.MarkNoShows(r.Context(), chi.URLParam(r, "showingID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"marked": marked})
}

type createOrderRequest struct {
	Customer struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
	ShowingID     string   `json:"showing_id"`
	TicketType    string   `json:"ticket_type"`
	Seats         []string `json:"seats"`
	AdultQty      int      `json:"adult_qty"`
	ChildQty      int      `json:"child_qty"`
	PurchaseType  string   `json:"purchase_type"`
	PaymentMethod string   `json:"payment_method"`
	ReferrerCode  string   `json:"referrer_code"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.orders.Create(r.Context(), orders.BookingRequest{
		Customer:      domain.Customer{Name: req.Customer.Name, Email: req.Customer.Email, Phone: req.Customer.Phone},
		ShowingID:     req.ShowingID,
		TicketType:    domain.TicketType(strings.ToUpper(req.TicketType)),
		Seats:         req.Seats,
		AdultQty:      req.AdultQty,
		ChildQty:      req.ChildQty,
		PurchaseType:  domain.PurchaseType(strings.ToUpper(req.PurchaseType)),
		PaymentMethod: domain.PaymentMethod(strings.ToUpper(req.PaymentMethod)),
		ReferrerCode:  req.ReferrerCode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOrder(order))
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderNo"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.Cancel)
}

func (h *Handlers) MarkBooked(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.MarkBooked)
}

func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.CheckIn)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, orderNo string) (*domain.Order, error)) {
	order, err := op(r.Context(), chi.URLParam(r, "orderNo"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

func (h *Handlers) ChangeSeats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seats []string `json:"seats"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.orders.ChangeSeats(r.Context(), chi.URLParam(r, "orderNo"), req.Seats)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

// PaymentCallback is the synchronous twin of the payments queue listener.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var msg payments.Message
	if !h.decode(w, r, &msg) {
		return
	}
	msg.Method = strings.ToUpper(msg.Method)
	order, err := h.orders.ConfirmPayment(r.Context(), msg.Confirmation())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(order))
}

func (h *Handlers) RegisterReferrer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	ref, err := h.ledger.Register(r.Context(), req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"code": ref.Code, "total_commission": ref.TotalCommission})
}

func (h *Handlers) Commission(w http.ResponseWriter, r *http.Request) {
	code := ledger.NormalizeCode(chi.URLParam(r, "code"))
	total, err := h.ledger.Total(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"code": code, "total_commission": total})
}

func (h *Handlers) AdjustCommission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delta  decimal.Decimal `json:"delta"`
		Reason string          `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	code := ledger.NormalizeCode(chi.URLParam(r, "code"))
	total, err := h.ledger.Adjust(r.Context(), code, req.Delta, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"code": code, "total_commission": total})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.WithError(err).Warn("readiness check failed")
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Message: "malformed request body"})
		return false
	}
	return true
}

// fail maps domain errors onto HTTP statuses. Anything unrecognised is a 500 and is logged.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *domain.SeatConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "seat_conflict", Message: conflict.Error(), Seats: conflict.Seats})
	case errors.Is(err, domain.ErrInvalidReferrerCode):
		writeJSON(w, http.StatusConflict, errorBody{Error: "invalid_referrer_code", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidTicketType):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_ticket_type", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrOrderNotCancellable):
		writeJSON(w, http.StatusConflict, errorBody{Error: "order_not_cancellable", Message: err.Error()})
	case errors.Is(err, domain.ErrOrderNotPending):
		writeJSON(w, http.StatusConflict, errorBody{Error: "order_not_pending", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: "invalid_transition", Message: err.Error()})
	case errors.Is(err, domain.ErrDuplicate):
		writeJSON(w, http.StatusConflict, errorBody{Error: "duplicate", Message: err.Error()})
	case domain.IsRetryable(err), errors.Is(err, domain.ErrStaleState):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "busy", Message: "try again"})
	case errors.Is(err, domain.ErrInvalidConfiguration):
		h.logger.WithError(err).Error("pricing configuration error")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "invalid_configuration"})
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
