package memory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
)

var _ domain.Tx = (*tx)(nil)

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) LockEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	ev, ok := t.st.events[id]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return ev, nil
}

func (t *tx) SetTicketsSold(ctx context.Context, id uuid.UUID, sold int) error {
	ev, ok := t.st.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	if sold < 0 || sold > ev.TicketLimit {
		return errors.Wrapf(domain.ErrIntegrityViolation, "tickets_sold %d outside [0, %d]", sold, ev.TicketLimit)
	}
	ev.TicketsSold = sold
	t.st.events[id] = ev
	return nil
}

func (t *tx) MarkEventSettled(ctx context.Context, id uuid.UUID) error {
	ev, ok := t.st.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	ev.IsSettledToOrganizer = true
	ev.IsCompleted = true
	t.st.events[id] = ev
	return nil
}

func (t *tx) InsertBooking(ctx context.Context, b domain.Booking) error {
	if _, ok := t.st.bookings[b.ID]; ok {
		return errors.Wrapf(domain.ErrConflict, "booking %s exists", b.ID)
	}
	if b.PaymentID != nil {
		if err := t.checkPaymentID(b.ID, *b.PaymentID); err != nil {
			return err
		}
	}
	t.st.bookings[b.ID] = b
	return nil
}

func (t *tx) LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	b, ok := t.st.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, nil
}

func (t *tx) LockBookingByPaymentID(ctx context.Context, paymentID string) (domain.Booking, error) {
	for _, b := range t.st.bookings {
		if b.PaymentID != nil && *b.PaymentID == paymentID {
			return b, nil
		}
	}
	return domain.Booking{}, domain.ErrBookingNotFound
}

func (t *tx) UpdateBooking(ctx context.Context, b domain.Booking) error {
	if _, ok := t.st.bookings[b.ID]; !ok {
		return domain.ErrBookingNotFound
	}
	if b.PaymentID != nil {
		if err := t.checkPaymentID(b.ID, *b.PaymentID); err != nil {
			return err
		}
	}
	t.st.bookings[b.ID] = b
	return nil
}

func (t *tx) checkPaymentID(bookingID uuid.UUID, paymentID string) error {
	for id, other := range t.st.bookings {
		if id != bookingID && other.PaymentID != nil && *other.PaymentID == paymentID {
			return errors.Wrapf(domain.ErrConflict, "payment id %s already attached", paymentID)
		}
	}
	return nil
}

func (t *tx) SumConfirmedRevenue(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var sum int64
	for _, b := range t.st.bookings {
		if b.EventID == eventID && b.Status == domain.StatusConfirmed {
			sum += b.TotalPrice
		}
	}
	return sum, nil
}

func (t *tx) OpenWallet(ctx context.Context, kind domain.WalletKind, ownerID uuid.UUID) (domain.Wallet, error) {
	key := walletKey{kind, ownerID}
	if w, ok := t.st.wallets[key]; ok {
		return w, nil
	}
	now := t.now()
	w := domain.Wallet{ID: uuid.New(), Kind: kind, OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	t.st.wallets[key] = w
	return w, nil
}

func (t *tx) SetWalletBalance(ctx context.Context, walletID uuid.UUID, balance int64) error {
	if balance < 0 {
		return errors.Wrapf(domain.ErrIntegrityViolation, "wallet %s balance %d", walletID, balance)
	}
	for k, w := range t.st.wallets {
		if w.ID == walletID {
			w.Balance = balance
			w.UpdatedAt = t.now()
			t.st.wallets[k] = w
			return nil
		}
	}
	return domain.ErrWalletNotFound
}

func (t *tx) InsertWalletTransaction(ctx context.Context, wt domain.WalletTransaction) error {
	if wt.Amount <= 0 {
		return errors.Wrapf(domain.ErrIntegrityViolation, "transaction amount %d", wt.Amount)
	}
	for _, existing := range t.st.walletTxs {
		if existing.ReferenceID == wt.ReferenceID {
			return errors.Wrapf(domain.ErrConflict, "reference %s exists", wt.ReferenceID)
		}
	}
	t.st.walletTxs = append(t.st.walletTxs, wt)
	return nil
}

func (t *tx) LockCompanyLedger(ctx context.Context) (domain.CompanyLedger, error) {
	return t.st.company, nil
}

func (t *tx) AppendCompanyEntry(ctx context.Context, e domain.CompanyLedgerEntry) error {
	if e.Amount <= 0 || e.TotalBalance < 0 {
		return errors.Wrapf(domain.ErrIntegrityViolation, "company entry amount %d total %d", e.Amount, e.TotalBalance)
	}
	t.st.companyItems = append(t.st.companyItems, e)
	t.st.company = domain.CompanyLedger{TotalBalance: e.TotalBalance, UpdatedAt: e.CreatedAt}
	return nil
}

func (t *tx) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return t.st.couponByCode(code)
}

func (t *tx) CouponUsed(ctx context.Context, userID, couponID uuid.UUID) (bool, error) {
	_, ok := t.st.usages[usageKey{userID, couponID}]
	return ok, nil
}

func (t *tx) InsertCouponUsage(ctx context.Context, u domain.CouponUsage) error {
	key := usageKey{u.UserID, u.CouponID}
	if _, ok := t.st.usages[key]; ok {
		return domain.ErrCouponAlreadyUsed
	}
	t.st.usages[key] = u
	return nil
}

func (t *tx) InsertOutbox(ctx context.Context, rec domain.OutboxRecord) error {
	t.st.outbox = append(t.st.outbox, rec)
	return nil
}
