package inventory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
)

// Ledger guards per-event ticket capacity. Every check is made on the
// event row locked by the caller's unit of work.
type Ledger struct {
	logger observability.Logger
}

func NewLedger(logger observability.Logger) *Ledger {
	return &Ledger{logger: logger}
}

// Reserve claims one ticket of the event and returns the updated event.
func (l *Ledger) Reserve(ctx context.Context, tx domain.Tx, eventID uuid.UUID, now time.Time) (domain.Event, error) {
	ev, err := tx.LockEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if err := l.checkCounters(ev); err != nil {
		return domain.Event{}, err
	}

	switch {
	case ev.OnHold:
		observability.ReservationsRejected.WithLabelValues("on_hold").Inc()
		return domain.Event{}, domain.ErrEventUnavailable
	case ev.HasPassed(now):
		observability.ReservationsRejected.WithLabelValues("expired").Inc()
		return domain.Event{}, domain.ErrEventExpired
	case ev.TicketsSold >= ev.TicketLimit:
		observability.ReservationsRejected.WithLabelValues("sold_out").Inc()
		return domain.Event{}, domain.ErrSoldOut
	}

	ev.TicketsSold++
	if err := tx.SetTicketsSold(ctx, ev.ID, ev.TicketsSold); err != nil {
		return domain.Event{}, errors.Wrap(err, "reserve")
	}
	return ev, nil
}

// Release returns one ticket to the pool. Releasing at zero is a no-op.
func (l *Ledger) Release(ctx context.Context, tx domain.Tx, eventID uuid.UUID) (domain.Event, error) {
	ev, err := tx.LockEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if err := l.checkCounters(ev); err != nil {
		return domain.Event{}, err
	}
	if ev.TicketsSold == 0 {
		l.logger.WithField("event_id", ev.ID).Warn("release on event with no sold tickets")
		return ev, nil
	}

	ev.TicketsSold--
	if err := tx.SetTicketsSold(ctx, ev.ID, ev.TicketsSold); err != nil {
		return domain.Event{}, errors.Wrap(err, "release")
	}
	return ev, nil
}

func (l *Ledger) checkCounters(ev domain.Event) error {
	if ev.TicketsSold >= 0 && ev.TicketsSold <= ev.TicketLimit {
		return nil
	}
	observability.IntegrityViolations.Inc()
	l.logger.
		WithField("event_id", ev.ID).
		WithField("tickets_sold", ev.TicketsSold).
		WithField("ticket_limit", ev.TicketLimit).
		Error("inventory integrity violation detected")
	return errors.Wrapf(domain.ErrIntegrityViolation, "event %s sold %d of %d", ev.ID, ev.TicketsSold, ev.TicketLimit)
}
