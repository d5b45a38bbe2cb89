package domain

import "github.com/cockroachdb/errors"

// A payment captured after its booking was released is returned to the
// user wallet, which moves cancelled and failed bookings to refunded.
var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusFailed},
	StatusConfirmed: {StatusRefunded},
	StatusCancelled: {StatusRefunded},
	StatusFailed:    {StatusRefunded},
}

// Transition validates from -> to.
func Transition(from, to BookingStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
}
