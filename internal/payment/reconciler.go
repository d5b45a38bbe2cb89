package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
)

// BookingTransitions is the part of the booking state machine driven by
// payment outcomes.
type BookingTransitions interface {
	ConfirmPayment(ctx context.Context, paymentID string, amountMinor int64) (domain.Booking, bool, error)
	FailPayment(ctx context.Context, paymentID string) (domain.Booking, bool, error)
}

// Sink receives verified events, either reconciling them in place or
// handing them to a queue.
type Sink interface {
	Dispatch(ctx context.Context, ev Event) error
}

// AnomalyLog keeps provider events that could not be applied to a booking.
type AnomalyLog interface {
	LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}

const ActionPaymentAnomaly = "payment.anomaly"

type Reconciler struct {
	bookings  BookingTransitions
	anomalies AnomalyLog
	logger    observability.Logger
}

func NewReconciler(bookings BookingTransitions, logger observability.Logger) *Reconciler {
	return &Reconciler{bookings: bookings, logger: logger}
}

// WithAnomalies records unknown intents and amount mismatches to a.
func (r *Reconciler) WithAnomalies(a AnomalyLog) *Reconciler {
	r.anomalies = a
	return r
}

func (r *Reconciler) Dispatch(ctx context.Context, ev Event) error {
	return r.Reconcile(ctx, ev)
}

// Reconcile applies a verified event to its booking exactly once.
// Replays of an already applied outcome succeed without effect.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) error {
	ctx, span := observability.StartSpan(ctx, "payment.Reconcile")
	defer span.End()

	log := r.logger.
		WithField("provider_event", ev.ID).
		WithField("intent_id", ev.IntentID).
		WithField("outcome", ev.Outcome)

	var (
		b       domain.Booking
		applied bool
		err     error
	)
	switch ev.Outcome {
	case OutcomeSucceeded:
		b, applied, err = r.bookings.ConfirmPayment(ctx, ev.IntentID, ev.Amount)
	case OutcomeFailed:
		b, applied, err = r.bookings.FailPayment(ctx, ev.IntentID)
	default:
		observability.WebhookEvents.WithLabelValues(ev.ProviderType, "ignored").Inc()
		log.Debug("ignoring provider event")
		return nil
	}

	if err != nil {
		observability.WebhookEvents.WithLabelValues(ev.ProviderType, "error").Inc()
		log.WithError(err).Warn("payment reconciliation failed")
		if Unresolvable(err) {
			r.recordAnomaly(ctx, ev, err)
		}
		return err
	}

	result := "applied"
	switch {
	case !applied:
		result = "replay"
	case b.Status == domain.StatusRefunded:
		result = "late_capture_refunded"
	}
	observability.WebhookEvents.WithLabelValues(ev.ProviderType, result).Inc()
	log.WithField("booking_id", b.ID).WithField("status", b.Status).WithField("result", result).Info("payment reconciled")
	return nil
}

// Unresolvable reports whether err means the event can never be applied
// as sent: the intent matches no booking or the amount is wrong.
func Unresolvable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindNotFound, domain.KindIntegrity:
		return true
	}
	return false
}

func (r *Reconciler) recordAnomaly(ctx context.Context, ev Event, cause error) {
	if r.anomalies == nil {
		return
	}
	data := map[string]interface{}{
		"provider_event": ev.ID,
		"provider_type":  ev.ProviderType,
		"intent_id":      ev.IntentID,
		"amount":         ev.Amount,
		"outcome":        string(ev.Outcome),
		"error":          cause.Error(),
	}
	if de, ok := domain.AsError(cause); ok {
		data["code"] = de.Code
	}
	if err := r.anomalies.LogEvent(context.WithoutCancel(ctx), ActionPaymentAnomaly, uuid.Nil, data); err != nil {
		r.logger.WithError(err).Warn("failed to record payment anomaly")
	}
}
