package memory_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/adapters/memory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxDiscardsFailedUnit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ev := domain.Event{ID: uuid.New(), TicketLimit: 5}
	store.PutEvent(ev)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.SetTicketsSold(ctx, ev.ID, 3))
		_, err := tx.OpenWallet(ctx, domain.WalletUser, uuid.New())
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TicketsSold)
	assert.Empty(t, store.Outbox())
}

func TestTicketsSoldBounds(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ev := domain.Event{ID: uuid.New(), TicketLimit: 1}
	store.PutEvent(ev)

	err := store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.SetTicketsSold(ctx, ev.ID, 2)
	})
	assert.True(t, errors.Is(err, domain.ErrIntegrityViolation))
}

func TestCouponUsageUnique(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	usage := domain.CouponUsage{ID: uuid.New(), UserID: uuid.New(), CouponID: uuid.New(), EventID: uuid.New()}

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.InsertCouponUsage(ctx, usage)
	}))

	usage.ID, usage.EventID = uuid.New(), uuid.New()
	err := store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.InsertCouponUsage(ctx, usage)
	})
	assert.True(t, errors.Is(err, domain.ErrCouponAlreadyUsed))

	used, err := store.CouponUsed(ctx, usage.UserID, usage.CouponID)
	require.NoError(t, err)
	assert.True(t, used)
}

func TestPaymentIDAttachedOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pid := "pi_123"
	a := domain.Booking{ID: uuid.New(), PaymentID: &pid}
	b := domain.Booking{ID: uuid.New()}

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.InsertBooking(ctx, a); err != nil {
			return err
		}
		return tx.InsertBooking(ctx, b)
	}))

	b.PaymentID = &pid
	err := store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.UpdateBooking(ctx, b)
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))
}
