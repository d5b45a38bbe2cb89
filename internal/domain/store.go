package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence port. Reads outside WithTx see committed state only.
type Store interface {
	// WithTx runs fn in one serializable unit of work. fn may be invoked
	// more than once when the backend retries, so it must not keep state
	// across attempts, and it must not call the Store's own read methods.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	ListSettleableEvents(ctx context.Context, dateOnOrBefore time.Time) ([]Event, error)

	GetBooking(ctx context.Context, id uuid.UUID) (Booking, error)
	ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Booking, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]Booking, error)

	GetWallet(ctx context.Context, kind WalletKind, ownerID uuid.UUID) (Wallet, error)
	ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]WalletTransaction, error)
	SumWalletTransactions(ctx context.Context, walletID uuid.UUID) (int64, error)
	GetCompanyLedger(ctx context.Context) (CompanyLedger, error)

	GetCouponByCode(ctx context.Context, code string) (Coupon, error)
	CouponUsed(ctx context.Context, userID, couponID uuid.UUID) (bool, error)
}

// Tx is a unit of work. Lock* methods hold the row until commit.
// Locks are taken in the order booking, event, wallet, company ledger.
type Tx interface {
	LockEvent(ctx context.Context, id uuid.UUID) (Event, error)
	SetTicketsSold(ctx context.Context, id uuid.UUID, sold int) error
	MarkEventSettled(ctx context.Context, id uuid.UUID) error

	InsertBooking(ctx context.Context, b Booking) error
	LockBooking(ctx context.Context, id uuid.UUID) (Booking, error)
	LockBookingByPaymentID(ctx context.Context, paymentID string) (Booking, error)
	UpdateBooking(ctx context.Context, b Booking) error
	SumConfirmedRevenue(ctx context.Context, eventID uuid.UUID) (int64, error)

	// OpenWallet locks the wallet, creating an empty one first if needed.
	OpenWallet(ctx context.Context, kind WalletKind, ownerID uuid.UUID) (Wallet, error)
	SetWalletBalance(ctx context.Context, walletID uuid.UUID, balance int64) error
	InsertWalletTransaction(ctx context.Context, t WalletTransaction) error

	LockCompanyLedger(ctx context.Context) (CompanyLedger, error)
	// AppendCompanyEntry inserts e and sets the aggregate total to e.TotalBalance.
	AppendCompanyEntry(ctx context.Context, e CompanyLedgerEntry) error

	GetCouponByCode(ctx context.Context, code string) (Coupon, error)
	CouponUsed(ctx context.Context, userID, couponID uuid.UUID) (bool, error)
	InsertCouponUsage(ctx context.Context, u CouponUsage) error

	InsertOutbox(ctx context.Context, rec OutboxRecord) error
}
