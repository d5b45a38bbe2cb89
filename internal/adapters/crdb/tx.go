package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
)

var _ domain.Tx = (*pgTx)(nil)

// pgTx implements domain.Tx. Lock* methods read with SELECT ... FOR UPDATE.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...interface{}) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) LockEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	return scanEvent(t.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) SetTicketsSold(ctx context.Context, id uuid.UUID, sold int) error {
	n, err := t.exec(ctx, `UPDATE events SET tickets_sold = $2 WHERE id = $1`, id, sold)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (t *pgTx) MarkEventSettled(ctx context.Context, id uuid.UUID) error {
	n, err := t.exec(ctx, `
		UPDATE events SET is_settled_to_organizer = true, is_completed = true WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (t *pgTx) InsertBooking(ctx context.Context, b domain.Booking) error {
	_, err := t.exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, b.ID, b.EventID, b.UserID, b.BookingName, b.Notes, b.TotalPrice, string(b.Status),
		string(b.PaymentMethod), b.PaymentID, b.PaymentDate, b.CouponID, b.CreatedAt, b.UpdatedAt)
	return err
}

func (t *pgTx) LockBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) LockBookingByPaymentID(ctx context.Context, paymentID string) (domain.Booking, error) {
	return scanBooking(t.tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE payment_id = $1 FOR UPDATE`, paymentID))
}

func (t *pgTx) UpdateBooking(ctx context.Context, b domain.Booking) error {
	n, err := t.exec(ctx, `
		UPDATE bookings SET
			status = $2, payment_id = $3, payment_date = $4, coupon_id = $5,
			total_price = $6, booking_name = $7, notes = $8, updated_at = $9
		WHERE id = $1
	`, b.ID, string(b.Status), b.PaymentID, b.PaymentDate, b.CouponID, b.TotalPrice, b.BookingName, b.Notes, b.UpdatedAt)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrBookingNotFound
	}
	return nil
}

func (t *pgTx) SumConfirmedRevenue(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var sum int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_price), 0)::INT8 FROM bookings WHERE event_id = $1 AND status = 'confirmed'
	`, eventID).Scan(&sum)
	return sum, err
}

func (t *pgTx) OpenWallet(ctx context.Context, kind domain.WalletKind, ownerID uuid.UUID) (domain.Wallet, error) {
	now := time.Now().UTC()
	if _, err := t.exec(ctx, `
		INSERT INTO wallets (id, kind, owner_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (kind, owner_id) DO NOTHING
	`, uuid.New(), string(kind), ownerID, now); err != nil {
		return domain.Wallet{}, err
	}
	return scanWallet(t.tx.QueryRow(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE kind = $1 AND owner_id = $2 FOR UPDATE
	`, string(kind), ownerID))
}

func (t *pgTx) SetWalletBalance(ctx context.Context, walletID uuid.UUID, balance int64) error {
	n, err := t.exec(ctx, `UPDATE wallets SET balance = $2, updated_at = now() WHERE id = $1`, walletID, balance)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) InsertWalletTransaction(ctx context.Context, wt domain.WalletTransaction) error {
	_, err := t.exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, event_id, booking_id, amount, type, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, wt.ID, wt.WalletID, wt.EventID, wt.BookingID, wt.Amount, string(wt.Type), wt.ReferenceID, wt.CreatedAt)
	return err
}

func (t *pgTx) LockCompanyLedger(ctx context.Context) (domain.CompanyLedger, error) {
	var l domain.CompanyLedger
	err := t.tx.QueryRow(ctx, `
		SELECT total_balance, updated_at FROM company_ledger WHERE id = 1 FOR UPDATE
	`).Scan(&l.TotalBalance, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return l, errors.Wrap(domain.ErrIntegrityViolation, "company ledger row missing")
	}
	return l, err
}

func (t *pgTx) AppendCompanyEntry(ctx context.Context, e domain.CompanyLedgerEntry) error {
	if _, err := t.exec(ctx, `
		INSERT INTO company_ledger_entries (id, event_id, amount, type, total_balance, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.EventID, e.Amount, string(e.Type), e.TotalBalance, e.ReferenceID, e.CreatedAt); err != nil {
		return err
	}
	_, err := t.exec(ctx, `UPDATE company_ledger SET total_balance = $1, updated_at = $2 WHERE id = 1`, e.TotalBalance, e.CreatedAt)
	return err
}

func (t *pgTx) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return scanCoupon(t.tx.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
}

func (t *pgTx) CouponUsed(ctx context.Context, userID, couponID uuid.UUID) (bool, error) {
	var used bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE user_id = $1 AND coupon_id = $2)
	`, userID, couponID).Scan(&used)
	return used, err
}

func (t *pgTx) InsertCouponUsage(ctx context.Context, u domain.CouponUsage) error {
	_, err := t.exec(ctx, `
		INSERT INTO coupon_usages (id, user_id, coupon_id, event_id, used_at)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.UserID, u.CouponID, u.EventID, u.UsedAt)
	return err
}

func (t *pgTx) InsertOutbox(ctx context.Context, rec domain.OutboxRecord) error {
	_, err := t.exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, created_at, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, 'NEW', $7)
	`, rec.ID, rec.AggregateType, rec.AggregateID, rec.EventType, rec.Payload, rec.CreatedAt, rec.DedupeKey)
	return err
}
