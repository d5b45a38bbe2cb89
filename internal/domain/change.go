package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ChangeBookingCreated   = "booking.created"
	ChangeBookingConfirmed = "booking.confirmed"
	ChangeBookingCancelled = "booking.cancelled"
	ChangeBookingRefunded  = "booking.refunded"
	ChangeBookingFailed    = "booking.failed"
	ChangeBookingExpired   = "booking.expired"
	ChangeEventSettled     = "event.settled"
	ChangeWalletWithdrawn  = "wallet.withdrawn"

	// ChangeBookingLateCaptureRefunded records a payment captured after its
	// booking was released and returned to the user wallet.
	ChangeBookingLateCaptureRefunded = "booking.late_capture_refunded"
)

// Change describes one committed state transition. It is written to the
// outbox inside the unit of work and handed to hooks after commit.
type Change struct {
	Type          string                 `json:"type"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   uuid.UUID              `json:"aggregate_id"`
	UserID        uuid.UUID              `json:"user_id"`
	EventID       uuid.UUID              `json:"event_id"`
	Data          map[string]interface{} `json:"data,omitempty"`
	At            time.Time              `json:"at"`
}

func BookingChange(typ string, b Booking, at time.Time) Change {
	return Change{
		Type:          typ,
		AggregateType: "booking",
		AggregateID:   b.ID,
		UserID:        b.UserID,
		EventID:       b.EventID,
		Data: map[string]interface{}{
			"status":      b.Status,
			"total_price": b.TotalPrice,
		},
		At: at,
	}
}

func (c Change) Outbox() (OutboxRecord, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return OutboxRecord{}, err
	}
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: c.AggregateType,
		AggregateID:   c.AggregateID,
		EventType:     c.Type,
		Payload:       payload,
		CreatedAt:     c.At,
		Status:        "NEW",
		DedupeKey:     c.Type + ":" + c.AggregateID.String(),
	}, nil
}

// RecordChanges writes every change to the outbox of tx.
func RecordChanges(ctx context.Context, tx Tx, changes ...Change) error {
	for _, c := range changes {
		rec, err := c.Outbox()
		if err != nil {
			return err
		}
		if err := tx.InsertOutbox(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Hook runs after a unit of work commits. Errors are logged by the caller
// and never undo the committed state.
type Hook interface {
	AfterCommit(ctx context.Context, changes []Change) error
}

type NopHook struct{}

func (NopHook) AfterCommit(context.Context, []Change) error { return nil }
