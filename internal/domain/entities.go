package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusRefunded  BookingStatus = "refunded"
	StatusFailed    BookingStatus = "failed"
)

type PaymentMethod string

const (
	PaymentWallet PaymentMethod = "wallet"
	PaymentCard   PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentWallet || m == PaymentCard
}

type WalletKind string

const (
	WalletUser      WalletKind = "user"
	WalletOrganizer WalletKind = "organizer"
)

type TransactionType string

const (
	TxCredit     TransactionType = "CREDIT"
	TxDebit      TransactionType = "DEBIT"
	TxRefund     TransactionType = "REFUND"
	TxWithdrawal TransactionType = "WITHDRAWAL"
)

// Event is owned by the catalog; bookings only lock it and move its counters.
type Event struct {
	ID                    uuid.UUID
	Title                 string
	OrganizerID           uuid.UUID
	PricePerTicket        int64
	TicketsSold           int
	TicketLimit           int
	OnHold                bool
	IsCompleted           bool
	IsSettledToOrganizer  bool
	CancellationAvailable bool
	Date                  time.Time
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// HasPassed reports whether the event day is strictly before the day of now.
func (e Event) HasPassed(now time.Time) bool {
	return Day(e.Date).Before(Day(now))
}

// SettleableFrom is the first day on which the event may be settled.
func (e Event) SettleableFrom(cooldown time.Duration) time.Time {
	return Day(e.Date).Add(cooldown)
}

func (e Event) Remaining() int {
	if e.TicketsSold >= e.TicketLimit {
		return 0
	}
	return e.TicketLimit - e.TicketsSold
}

type Booking struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	UserID        uuid.UUID
	BookingName   string
	Notes         string
	TotalPrice    int64
	Status        BookingStatus
	PaymentMethod PaymentMethod
	PaymentID     *string
	PaymentDate   *time.Time
	CouponID      *uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (b Booking) IsBookingCancelled() bool {
	return b.Status == StatusCancelled || b.Status == StatusRefunded
}

// MinorAmount is the total price in the provider's minor currency unit.
func (b Booking) MinorAmount() int64 {
	return b.TotalPrice * 100
}

type Wallet struct {
	ID        uuid.UUID
	Kind      WalletKind
	OwnerID   uuid.UUID
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WalletTransaction struct {
	ID          uuid.UUID
	WalletID    uuid.UUID
	EventID     *uuid.UUID
	BookingID   *uuid.UUID
	Amount      int64
	Type        TransactionType
	ReferenceID string
	CreatedAt   time.Time
}

// Signed returns the effect of the transaction on the wallet balance.
func (t WalletTransaction) Signed() int64 {
	switch t.Type {
	case TxDebit, TxWithdrawal:
		return -t.Amount
	default:
		return t.Amount
	}
}

type CompanyLedger struct {
	TotalBalance int64
	UpdatedAt    time.Time
}

type CompanyLedgerEntry struct {
	ID           uuid.UUID
	EventID      *uuid.UUID
	Amount       int64
	Type         TransactionType
	TotalBalance int64
	ReferenceID  string
	CreatedAt    time.Time
}

type Coupon struct {
	ID                    uuid.UUID
	Code                  string
	OrganizerID           uuid.UUID
	DiscountAmount        int64
	MinimumPurchaseAmount int64
	ValidFrom             time.Time
	ValidTo               time.Time
	IsActive              bool
}

type CouponUsage struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	CouponID uuid.UUID
	EventID  uuid.UUID
	UsedAt   time.Time
}

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}
