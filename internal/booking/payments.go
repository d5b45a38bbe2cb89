package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/wallet"
)

const staleBatchSize = 200

// ConfirmPayment moves the booking that owns paymentID from pending to
// confirmed. A capture reported after the booking was cancelled or failed
// is refunded to the user wallet and the booking becomes refunded. It
// returns applied=false for replays of an outcome already recorded.
func (s *Service) ConfirmPayment(ctx context.Context, paymentID string, amountMinor int64) (domain.Booking, bool, error) {
	now := s.now()
	var out domain.Booking
	var changes []domain.Change
	err := s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		changes = nil

		b, err := tx.LockBookingByPaymentID(ctx, paymentID)
		if err != nil {
			return err
		}
		out = b
		switch b.Status {
		case domain.StatusPending, domain.StatusCancelled, domain.StatusFailed:
		default:
			return nil
		}
		if amountMinor != b.MinorAmount() {
			s.logger.
				WithField("booking_id", b.ID).
				WithField("payment_id", paymentID).
				WithField("expected_minor", b.MinorAmount()).
				WithField("received_minor", amountMinor).
				Error("payment amount does not match booking total")
			return errors.Wrapf(domain.ErrIntegrityViolation, "payment %s amount %d, booking expects %d", paymentID, amountMinor, b.MinorAmount())
		}

		if b.Status != domain.StatusPending {
			b, err = s.refundLateCapture(ctx, tx, b, paymentID, now)
			if err != nil {
				return err
			}
			changes = append(changes, domain.BookingChange(domain.ChangeBookingLateCaptureRefunded, b, now))
			out = b
			return domain.RecordChanges(ctx, tx, changes...)
		}

		if err := domain.Transition(b.Status, domain.StatusConfirmed); err != nil {
			return err
		}
		b.Status = domain.StatusConfirmed
		b.PaymentDate = &now
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return errors.Wrap(err, "update booking")
		}
		changes = append(changes, domain.BookingChange(domain.ChangeBookingConfirmed, b, now))
		out = b
		return domain.RecordChanges(ctx, tx, changes...)
	})
	if err != nil {
		s.outcome("confirm_payment", err)
		return domain.Booking{}, false, err
	}
	result := "ok"
	if out.Status == domain.StatusRefunded && len(changes) > 0 {
		result = "late_capture_refunded"
		s.logger.
			WithField("booking_id", out.ID).
			WithField("payment_id", paymentID).
			WithField("amount", out.TotalPrice).
			Warn("payment captured after booking was released; refunded to wallet")
	}
	observability.BookingsTotal.WithLabelValues("confirm_payment", result).Inc()
	s.afterCommit(ctx, changes)
	return out, len(changes) > 0, nil
}

// refundLateCapture credits the captured amount back to the user wallet.
// The ticket was already released when the booking left pending.
func (s *Service) refundLateCapture(ctx context.Context, tx domain.Tx, b domain.Booking, paymentID string, now time.Time) (domain.Booking, error) {
	if err := domain.Transition(b.Status, domain.StatusRefunded); err != nil {
		return domain.Booking{}, err
	}
	if b.TotalPrice > 0 {
		ref := wallet.Ref{EventID: &b.EventID, BookingID: &b.ID, ReferenceID: paymentID}
		if _, err := s.wallets.Refund(ctx, tx, domain.WalletUser, b.UserID, b.TotalPrice, ref); err != nil {
			return domain.Booking{}, err
		}
	}
	b.Status = domain.StatusRefunded
	b.PaymentDate = &now
	b.UpdatedAt = now
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return domain.Booking{}, errors.Wrap(err, "update booking")
	}
	return b, nil
}

// FailPayment marks a pending booking failed and returns its ticket.
func (s *Service) FailPayment(ctx context.Context, paymentID string) (domain.Booking, bool, error) {
	now := s.now()
	var out domain.Booking
	var changes []domain.Change
	err := s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		changes = nil

		b, err := tx.LockBookingByPaymentID(ctx, paymentID)
		if err != nil {
			return err
		}
		out = b
		if b.Status != domain.StatusPending {
			return nil
		}
		b, err = s.releasePending(ctx, tx, b, domain.StatusFailed, now)
		if err != nil {
			return err
		}
		changes = append(changes, domain.BookingChange(domain.ChangeBookingFailed, b, now))
		out = b
		return domain.RecordChanges(ctx, tx, changes...)
	})
	if err != nil {
		s.outcome("fail_payment", err)
		return domain.Booking{}, false, err
	}
	s.outcome("fail_payment", nil)
	s.afterCommit(ctx, changes)
	return out, len(changes) > 0, nil
}

// ExpireStale cancels bookings still pending after olderThan, releasing
// their tickets the same way a failed payment does. Each booking is
// handled in its own unit of work.
func (s *Service) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stale, err := s.store.ListStalePending(ctx, cutoff, staleBatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list stale bookings")
	}

	expired := 0
	for _, candidate := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		ok, err := s.expireOne(ctx, candidate.ID, cutoff)
		if err != nil {
			s.logger.WithField("booking_id", candidate.ID).WithError(err).Error("failed to expire booking")
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) expireOne(ctx context.Context, bookingID uuid.UUID, cutoff time.Time) (bool, error) {
	now := s.now()
	var changes []domain.Change
	err := s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		changes = nil

		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.StatusPending || !b.CreatedAt.Before(cutoff) {
			return nil
		}
		b, err = s.releasePending(ctx, tx, b, domain.StatusCancelled, now)
		if err != nil {
			return err
		}
		changes = append(changes, domain.BookingChange(domain.ChangeBookingExpired, b, now))
		return domain.RecordChanges(ctx, tx, changes...)
	})
	if err != nil {
		return false, err
	}
	s.afterCommit(ctx, changes)
	return len(changes) > 0, nil
}

func (s *Service) releasePending(ctx context.Context, tx domain.Tx, b domain.Booking, next domain.BookingStatus, now time.Time) (domain.Booking, error) {
	if err := domain.Transition(b.Status, next); err != nil {
		return domain.Booking{}, err
	}
	if _, err := s.inventory.Release(ctx, tx, b.EventID); err != nil {
		return domain.Booking{}, err
	}
	b.Status = next
	b.UpdatedAt = now
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return domain.Booking{}, errors.Wrap(err, "update booking")
	}
	return b, nil
}

// AttachPaymentIntent records the provider payment id on a pending booking.
// A booking already carrying the same id is returned unchanged; any other
// id is rejected because the payment id is set at most once.
func (s *Service) AttachPaymentIntent(ctx context.Context, bookingID, userID uuid.UUID, paymentID string) (domain.Booking, error) {
	if paymentID == "" {
		return domain.Booking{}, domain.ErrInvalidInput.WithMessage("payment id is required")
	}
	now := s.now()
	var out domain.Booking
	err := s.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != userID {
			return domain.ErrBookingNotFound
		}
		if b.PaymentID != nil {
			if *b.PaymentID == paymentID {
				out = b
				return nil
			}
			return errors.Wrapf(domain.ErrConflict, "booking %s already has payment %s", b.ID, *b.PaymentID)
		}
		if b.Status != domain.StatusPending {
			return domain.ErrPaymentNotPending
		}
		b.PaymentID = &paymentID
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return errors.Wrap(err, "attach payment")
		}
		out = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return out, nil
}
