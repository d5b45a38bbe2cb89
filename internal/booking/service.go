package booking

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/coupon"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/wallet"
)

const defaultBookingName = "Guest"

type Deps struct {
	Store     domain.Store
	Inventory *inventory.Ledger
	Wallets   *wallet.Ledger
	Coupons   *coupon.Applier
	Hooks     domain.Hook
	Logger    observability.Logger
	Clock     func() time.Time
}

type Service struct {
	store     domain.Store
	inventory *inventory.Ledger
	wallets   *wallet.Ledger
	coupons   *coupon.Applier
	hooks     domain.Hook
	logger    observability.Logger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		inventory: d.Inventory,
		wallets:   d.Wallets,
		coupons:   d.Coupons,
		hooks:     d.Hooks,
		logger:    d.Logger,
		now:       d.Clock,
	}
	if s.hooks == nil {
		s.hooks = domain.NopHook{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateRequest struct {
	EventID       uuid.UUID
	UserID        uuid.UUID
	UserName      string
	BookingName   string
	CouponCode    string
	PaymentMethod domain.PaymentMethod
	Notes         string
}

// Create reserves a ticket and creates the booking in one unit of work.
// Wallet payments and free tickets are confirmed immediately; card
// payments stay pending until the provider reports an outcome.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Booking, error) {
	ctx, span := observability.StartSpan(ctx, "booking.Create")
	defer span.End()

	if req.EventID == uuid.Nil || req.UserID == uuid.Nil {
		return domain.Booking{}, domain.ErrInvalidInput.WithMessage("event_id and user are required")
	}
	if !req.PaymentMethod.Valid() {
		return domain.Booking{}, domain.ErrInvalidInput.WithMessagef("unsupported payment method %q", req.PaymentMethod)
	}
	name := strings.TrimSpace(req.BookingName)
	if name == "" {
		name = strings.TrimSpace(req.UserName)
	}
	if name == "" {
		name = defaultBookingName
	}

	now := s.now()
	var created domain.Booking
	var changes []domain.Change
	err := s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		changes = nil

		ev, err := s.inventory.Reserve(ctx, tx, req.EventID, now)
		if err != nil {
			return err
		}

		price := ev.PricePerTicket
		var couponID *uuid.UUID
		if code := strings.TrimSpace(req.CouponCode); code != "" {
			q, err := s.coupons.Redeem(ctx, tx, req.UserID, ev, code, now)
			if err != nil {
				return err
			}
			price = q.FinalPrice
			couponID = &q.CouponID
		}

		b := domain.Booking{
			ID:            uuid.New(),
			EventID:       ev.ID,
			UserID:        req.UserID,
			BookingName:   name,
			Notes:         req.Notes,
			TotalPrice:    price,
			Status:        domain.StatusPending,
			PaymentMethod: req.PaymentMethod,
			CouponID:      couponID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		immediate := req.PaymentMethod == domain.PaymentWallet || price == 0
		if immediate {
			b.Status = domain.StatusConfirmed
			b.PaymentDate = &now
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return errors.Wrap(err, "insert booking")
		}
		if immediate && price > 0 {
			_, err := s.wallets.Debit(ctx, tx, domain.WalletUser, req.UserID, price, wallet.Ref{EventID: &b.EventID, BookingID: &b.ID})
			if err != nil {
				return err
			}
		}

		changes = append(changes, domain.BookingChange(domain.ChangeBookingCreated, b, now))
		if immediate {
			changes = append(changes, domain.BookingChange(domain.ChangeBookingConfirmed, b, now))
		}
		created = b
		return domain.RecordChanges(ctx, tx, changes...)
	})
	if err != nil {
		s.outcome("create", err)
		return domain.Booking{}, err
	}

	s.outcome("create", nil)
	s.afterCommit(ctx, changes)
	return created, nil
}

// Cancel cancels a booking on behalf of its owner. Pending bookings become
// cancelled; confirmed ones are refunded to the user wallet.
func (s *Service) Cancel(ctx context.Context, bookingID, userID uuid.UUID) (domain.Booking, error) {
	ctx, span := observability.StartSpan(ctx, "booking.Cancel")
	defer span.End()

	now := s.now()
	var out domain.Booking
	var changes []domain.Change
	err := s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		changes = nil

		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != userID {
			return domain.ErrBookingNotFound
		}
		if b.Status == domain.StatusCancelled {
			out = b
			return nil
		}

		ev, err := tx.LockEvent(ctx, b.EventID)
		if err != nil {
			return err
		}
		if ev.HasPassed(now) || ev.IsCompleted {
			return domain.ErrCancellationWindowClosed
		}
		if !ev.CancellationAvailable {
			return domain.ErrCancellationNotAvailable
		}

		next := domain.StatusCancelled
		if b.Status == domain.StatusConfirmed {
			next = domain.StatusRefunded
		}
		if err := domain.Transition(b.Status, next); err != nil {
			return err
		}

		if _, err := s.inventory.Release(ctx, tx, ev.ID); err != nil {
			return err
		}
		if next == domain.StatusRefunded && b.TotalPrice > 0 {
			_, err := s.wallets.Refund(ctx, tx, domain.WalletUser, b.UserID, b.TotalPrice, wallet.Ref{EventID: &b.EventID, BookingID: &b.ID})
			if err != nil {
				return err
			}
		}

		b.Status = next
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return errors.Wrap(err, "update booking")
		}

		typ := domain.ChangeBookingCancelled
		if next == domain.StatusRefunded {
			typ = domain.ChangeBookingRefunded
		}
		changes = append(changes, domain.BookingChange(typ, b, now))
		out = b
		return domain.RecordChanges(ctx, tx, changes...)
	})
	if err != nil {
		s.outcome("cancel", err)
		return domain.Booking{}, err
	}

	s.outcome("cancel", nil)
	s.afterCommit(ctx, changes)
	return out, nil
}

func (s *Service) Get(ctx context.Context, bookingID, userID uuid.UUID) (domain.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.UserID != userID {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, nil
}

func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListBookingsByUser(ctx, userID, limit, offset)
}

type Ticket struct {
	BookingID   uuid.UUID
	ReferenceID string
	BookingName string
	UserID      uuid.UUID
	EventID     uuid.UUID
	EventTitle  string
	EventDate   time.Time
	TotalPrice  int64
	PaymentDate *time.Time
	IssuedAt    time.Time
}

// TicketSnapshot returns a committed view of a confirmed booking for the
// ticket renderer. Bookings mid-transition are never returned.
func (s *Service) TicketSnapshot(ctx context.Context, bookingID, userID uuid.UUID) (Ticket, error) {
	b, err := s.Get(ctx, bookingID, userID)
	if err != nil {
		return Ticket{}, err
	}
	if b.Status != domain.StatusConfirmed {
		return Ticket{}, domain.ErrTicketUnavailable.WithMessagef("booking is %s", b.Status)
	}
	ev, err := s.store.GetEvent(ctx, b.EventID)
	if err != nil {
		return Ticket{}, err
	}
	now := s.now()
	if ev.IsCompleted || ev.HasPassed(now) {
		return Ticket{}, domain.ErrTicketUnavailable.WithMessage("event has already taken place")
	}
	return Ticket{
		BookingID:   b.ID,
		ReferenceID: ticketReference(b.ID),
		BookingName: b.BookingName,
		UserID:      b.UserID,
		EventID:     ev.ID,
		EventTitle:  ev.Title,
		EventDate:   ev.Date,
		TotalPrice:  b.TotalPrice,
		PaymentDate: b.PaymentDate,
		IssuedAt:    now,
	}, nil
}

func ticketReference(id uuid.UUID) string {
	return "TKT-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}

func (s *Service) afterCommit(ctx context.Context, changes []domain.Change) {
	if len(changes) == 0 {
		return
	}
	if err := s.hooks.AfterCommit(context.WithoutCancel(ctx), changes); err != nil {
		s.logger.WithError(err).Warn("post-commit hooks failed")
	}
}

func (s *Service) outcome(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if de, ok := domain.AsError(err); ok {
			result = de.Code
		}
	}
	observability.BookingsTotal.WithLabelValues(op, result).Inc()
}
