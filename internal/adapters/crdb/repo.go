package crdb

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
	CheckViolationCode       = "23514"
)

var _ domain.Store = (*Repository)(nil)

// Repository is the CockroachDB implementation of domain.Store.
type Repository struct {
	pool       *pgxpool.Pool
	maxRetries int
	backoff    time.Duration
	logger     observability.Logger
}

func NewRepository(pool *pgxpool.Pool, maxRetries int, logger observability.Logger) *Repository {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Repository{pool: pool, maxRetries: maxRetries, backoff: 20 * time.Millisecond, logger: logger}
}

// WithTx runs fn in a SERIALIZABLE transaction and retries the whole unit
// on serialization failures, up to maxRetries attempts.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	ctx, span := observability.StartSpan(ctx, "crdb.WithTx")
	defer span.End()

	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	var err error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if attempt > 1 {
			observability.DBTxRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * r.backoff):
			}
		}
		err = r.attempt(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
		r.logger.WithField("attempt", attempt).Debug("serialization failure, retrying unit of work")
	}
	return errors.Wrapf(domain.ErrSerializationFailure, "gave up after %d attempts: %v", r.maxRetries, err)
}

func (r *Repository) attempt(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode
}

// mapErr translates constraint violations into the domain taxonomy.
// Serialization failures pass through untouched so WithTx can retry them.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case UniqueViolationCode:
		if pgErr.ConstraintName == "coupon_usages_user_coupon_key" || strings.Contains(pgErr.Message, "coupon_usages_user_coupon_key") {
			return domain.ErrCouponAlreadyUsed
		}
		return errors.Wrapf(domain.ErrConflict, "%s", pgErr.Message)
	case CheckViolationCode:
		return errors.Wrapf(domain.ErrIntegrityViolation, "%s", pgErr.Message)
	}
	return err
}

const eventColumns = `id, title, organizer_id, price_per_ticket, tickets_sold, ticket_limit,
	on_hold, is_completed, is_settled_to_organizer, cancellation_available, event_date`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var ev domain.Event
	err := row.Scan(&ev.ID, &ev.Title, &ev.OrganizerID, &ev.PricePerTicket, &ev.TicketsSold, &ev.TicketLimit,
		&ev.OnHold, &ev.IsCompleted, &ev.IsSettledToOrganizer, &ev.CancellationAvailable, &ev.Date)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return ev, err
}

const bookingColumns = `id, event_id, user_id, booking_name, notes, total_price, status,
	payment_method, payment_id, payment_date, coupon_id, created_at, updated_at`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var status, method string
	err := row.Scan(&b.ID, &b.EventID, &b.UserID, &b.BookingName, &b.Notes, &b.TotalPrice, &status,
		&method, &b.PaymentID, &b.PaymentDate, &b.CouponID, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	b.Status = domain.BookingStatus(status)
	b.PaymentMethod = domain.PaymentMethod(method)
	return b, err
}

const walletColumns = `id, kind, owner_id, balance, created_at, updated_at`

func scanWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	var kind string
	err := row.Scan(&w.ID, &kind, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	w.Kind = domain.WalletKind(kind)
	return w, err
}

const couponColumns = `id, code, organizer_id, discount_amount, minimum_purchase_amount, valid_from, valid_to, is_active`

func scanCoupon(row pgx.Row) (domain.Coupon, error) {
	var c domain.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.OrganizerID, &c.DiscountAmount, &c.MinimumPurchaseAmount, &c.ValidFrom, &c.ValidTo, &c.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return c, err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

func (r *Repository) ListSettleableEvents(ctx context.Context, dateOnOrBefore time.Time) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE NOT is_settled_to_organizer AND NOT on_hold AND event_date <= $1
		ORDER BY event_date ASC
	`, dateOnOrBefore)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanEvent)
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

func (r *Repository) ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBooking)
}

func (r *Repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBooking)
}

func (r *Repository) GetWallet(ctx context.Context, kind domain.WalletKind, ownerID uuid.UUID) (domain.Wallet, error) {
	return scanWallet(r.pool.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE kind = $1 AND owner_id = $2`, string(kind), ownerID))
}

func (r *Repository) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet_id, event_id, booking_id, amount, type, reference_id, created_at
		FROM wallet_transactions WHERE wallet_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (domain.WalletTransaction, error) {
		var t domain.WalletTransaction
		var typ string
		err := row.Scan(&t.ID, &t.WalletID, &t.EventID, &t.BookingID, &t.Amount, &typ, &t.ReferenceID, &t.CreatedAt)
		t.Type = domain.TransactionType(typ)
		return t, err
	})
}

func (r *Repository) SumWalletTransactions(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN type IN ('DEBIT', 'WITHDRAWAL') THEN -amount ELSE amount END), 0)::INT8
		FROM wallet_transactions WHERE wallet_id = $1
	`, walletID).Scan(&sum)
	return sum, err
}

func (r *Repository) GetCompanyLedger(ctx context.Context) (domain.CompanyLedger, error) {
	var l domain.CompanyLedger
	err := r.pool.QueryRow(ctx, `SELECT total_balance, updated_at FROM company_ledger WHERE id = 1`).Scan(&l.TotalBalance, &l.UpdatedAt)
	return l, err
}

func (r *Repository) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	return scanCoupon(r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
}

func (r *Repository) CouponUsed(ctx context.Context, userID, couponID uuid.UUID) (bool, error) {
	var used bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE user_id = $1 AND coupon_id = $2)
	`, userID, couponID).Scan(&used)
	return used, err
}

// SaveEvent upserts catalog data. Counters and settlement flags are only
// written on insert; afterwards they belong to the ledgers.
func (r *Repository) SaveEvent(ctx context.Context, ev domain.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			price_per_ticket = excluded.price_per_ticket,
			ticket_limit = excluded.ticket_limit,
			on_hold = excluded.on_hold,
			cancellation_available = excluded.cancellation_available,
			event_date = excluded.event_date
	`, ev.ID, ev.Title, ev.OrganizerID, ev.PricePerTicket, ev.TicketsSold, ev.TicketLimit,
		ev.OnHold, ev.IsCompleted, ev.IsSettledToOrganizer, ev.CancellationAvailable, domain.Day(ev.Date))
	return mapErr(err)
}

func (r *Repository) SaveCoupon(ctx context.Context, c domain.Coupon) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO coupons (`+couponColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			discount_amount = excluded.discount_amount,
			minimum_purchase_amount = excluded.minimum_purchase_amount,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			is_active = excluded.is_active
	`, c.ID, c.Code, c.OrganizerID, c.DiscountAmount, c.MinimumPurchaseAmount, c.ValidFrom, c.ValidTo, c.IsActive)
	return mapErr(err)
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
