package domain

type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatHeld      SeatStatus = "HELD"
	SeatBooked    SeatStatus = "BOOKED"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderBooked    OrderStatus = "BOOKED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderExpired   OrderStatus = "EXPIRED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending: {OrderPaid, OrderCancelled, OrderExpired},
	OrderPaid:    {OrderBooked},
}

// CanTransitionTo reports whether the order state machine allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Settled is true once the full price has been collected.
func (s OrderStatus) Settled() bool {
	return s == OrderPaid || s == OrderBooked
}

// SeatStatus returns the status every seat of an order in this status must have.
func (s OrderStatus) SeatStatus() SeatStatus {
	switch s {
	case OrderPending:
		return SeatHeld
	case OrderPaid, OrderBooked:
		return SeatBooked
	default:
		return SeatAvailable
	}
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderPending, OrderPaid, OrderBooked, OrderCancelled, OrderExpired:
		return true
	}
	return false
}

func (s OrderStatus) String() string {
	return string(s)
}

type TicketType string

const (
	TicketVIP      TicketType = "VIP"
	TicketPremium  TicketType = "PREMIUM"
	TicketRegular  TicketType = "REGULAR"
	TicketStanding TicketType = "STANDING"
)

// SeatedTicketTypes lists the recognized seated ticket types.
var SeatedTicketTypes = []TicketType{TicketVIP, TicketPremium, TicketRegular}

func (t TicketType) IsSeated() bool {
	for _, s := range SeatedTicketTypes {
		if s == t {
			return true
		}
	}
	return false
}

func (t TicketType) IsValid() bool {
	return t == TicketStanding || t.IsSeated()
}

type PurchaseType string

const (
	PurchaseWebsite PurchaseType = "WEBSITE"
	PurchaseBooking PurchaseType = "BOOKING"
	PurchaseOnsite  PurchaseType = "ONSITE"
)

func (p PurchaseType) IsValid() bool {
	switch p {
	case PurchaseWebsite, PurchaseBooking, PurchaseOnsite:
		return true
	}
	return false
}

type AttendanceStatus string

const (
	AttendancePending   AttendanceStatus = "PENDING"
	AttendanceCheckedIn AttendanceStatus = "CHECKED_IN"
	AttendanceNoShow    AttendanceStatus = "NO_SHOW"
)

type PaymentMethod string

const (
	PaymentCard         PaymentMethod = "CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentQR           PaymentMethod = "QR"
	PaymentCash         PaymentMethod = "CASH"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentCard, PaymentBankTransfer, PaymentQR, PaymentCash:
		return true
	}
	return false
}
