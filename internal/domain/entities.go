package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Showing struct {
	ID       string
	VenueID  string
	StartsAt time.Time
}

type Seat struct {
	ShowingID string
	ID        string
	Zone      string
	Status    SeatStatus
	OrderNo   string
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

type Order struct {
	OrderNo       string
	Customer      Customer
	ShowingID     string
	ShowDate      time.Time
	TicketType    TicketType
	Quantity      int
	AdultQty      int
	ChildQty      int
	Seats         []string
	Total         decimal.Decimal
	Commission    decimal.Decimal
	PaidAmount    decimal.Decimal
	Status        OrderStatus
	PurchaseType  PurchaseType
	PaymentMethod PaymentMethod
	Attendance    AttendanceStatus
	ExpiresAt     time.Time
	ReferrerCode  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Referrer struct {
	Code            string
	TotalCommission decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Payment struct {
	OrderNo    string
	PaymentRef string
	Amount     decimal.Decimal
	ReceivedAt time.Time
}
