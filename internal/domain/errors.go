package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindForbidden    ErrorKind = "forbidden"
	KindUnavailable  ErrorKind = "unavailable"
	KindBusiness     ErrorKind = "business"
	KindConflict     ErrorKind = "conflict"
	KindExternal     ErrorKind = "external"
	KindIntegrity    ErrorKind = "integrity"
)

// Error carries a stable machine code next to a human message.
// Two Errors match under errors.Is when their codes are equal.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrInvalidInput             = newError(KindValidation, "invalid_input", "invalid input")
	ErrWebhookSignature         = newError(KindValidation, "webhook_signature_invalid", "webhook signature could not be verified")
	ErrMalformedPayload         = newError(KindValidation, "malformed_payload", "payload is malformed")
	ErrUnauthorized             = newError(KindUnauthorized, "unauthorized", "authentication required")
	ErrForbidden                = newError(KindForbidden, "forbidden", "not allowed")
	ErrEventNotFound            = newError(KindNotFound, "event_not_found", "event not found")
	ErrBookingNotFound          = newError(KindNotFound, "booking_not_found", "booking not found")
	ErrWalletNotFound           = newError(KindNotFound, "wallet_not_found", "wallet not found")
	ErrCouponNotFound           = newError(KindNotFound, "coupon_not_found", "invalid coupon code")
	ErrEventUnavailable         = newError(KindUnavailable, "event_unavailable", "event is currently on hold")
	ErrEventExpired             = newError(KindBusiness, "event_expired", "event date has already passed")
	ErrSoldOut                  = newError(KindBusiness, "sold_out", "event is sold out")
	ErrAlreadySettled           = newError(KindBusiness, "already_settled", "event has already been settled")
	ErrEventOnHold              = newError(KindBusiness, "event_on_hold", "event is on hold and cannot be settled")
	ErrSettlementTooEarly       = newError(KindBusiness, "settlement_too_early", "settlement is not available yet")
	ErrCouponInactive           = newError(KindBusiness, "coupon_inactive", "coupon is not active")
	ErrCouponNotValidNow        = newError(KindBusiness, "coupon_not_valid_now", "coupon is not valid at this time")
	ErrCouponNotApplicable      = newError(KindBusiness, "coupon_not_applicable", "coupon is not applicable to this event")
	ErrCouponAlreadyUsed        = newError(KindBusiness, "coupon_already_used", "coupon has already been used")
	ErrMinimumPurchase          = newError(KindBusiness, "minimum_purchase_not_met", "ticket price is below the coupon minimum")
	ErrInsufficientFunds        = newError(KindBusiness, "insufficient_funds", "insufficient wallet balance")
	ErrNothingToWithdraw        = newError(KindBusiness, "nothing_to_withdraw", "wallet balance is zero")
	ErrCancellationWindowClosed = newError(KindBusiness, "cancellation_window_closed", "booking can no longer be cancelled")
	ErrCancellationNotAvailable = newError(KindBusiness, "cancellation_not_available", "event does not allow cancellation")
	ErrInvalidTransition        = newError(KindBusiness, "invalid_transition", "booking cannot move to the requested state")
	ErrPaymentNotPending        = newError(KindBusiness, "payment_not_pending", "booking is not awaiting payment")
	ErrTicketUnavailable        = newError(KindBusiness, "ticket_unavailable", "ticket is not available for this booking")
	ErrSerializationFailure     = newError(KindConflict, "concurrency_conflict", "concurrent update, try again")
	ErrConflict                 = newError(KindConflict, "conflict", "conflicting update")
	ErrPaymentProvider          = newError(KindExternal, "payment_provider_error", "payment provider request failed")
	ErrIntegrityViolation       = newError(KindIntegrity, "integrity_violation", "ledger integrity violation")
)

// AsError extracts the domain error carried by err, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" for errors outside the taxonomy.
func KindOf(err error) ErrorKind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return ""
}
