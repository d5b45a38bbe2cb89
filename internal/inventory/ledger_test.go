package inventory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/adapters/memory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(store *memory.Store, mutate func(*domain.Event)) domain.Event {
	ev := domain.Event{
		ID:             uuid.New(),
		Title:          "Launch",
		OrganizerID:    uuid.New(),
		PricePerTicket: 500,
		TicketLimit:    10,
		Date:           now.AddDate(0, 0, 7),
	}
	if mutate != nil {
		mutate(&ev)
	}
	store.PutEvent(ev)
	return ev
}

func reserve(ctx context.Context, store *memory.Store, l *inventory.Ledger, id uuid.UUID) error {
	return store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := l.Reserve(ctx, tx, id, now)
		return err
	})
}

func TestReserveExactlyCapacityUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := inventory.NewLedger(observability.NewNopLogger())
	const capacity, attempts = 7, 50
	ev := seed(store, func(e *domain.Event) { e.TicketLimit = capacity })

	var ok, soldOut int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reserve(ctx, store, ledger, ev.ID)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, domain.ErrSoldOut):
				atomic.AddInt64(&soldOut, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, capacity, ok)
	assert.EqualValues(t, attempts-capacity, soldOut)
	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, got.TicketsSold)
}

func TestReserveRejections(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := inventory.NewLedger(observability.NewNopLogger())

	tests := []struct {
		name   string
		mutate func(*domain.Event)
		want   error
	}{
		{"on hold wins over past date", func(e *domain.Event) { e.OnHold = true; e.Date = now.AddDate(0, 0, -1) }, domain.ErrEventUnavailable},
		{"past date", func(e *domain.Event) { e.Date = now.AddDate(0, 0, -1) }, domain.ErrEventExpired},
		{"sold out", func(e *domain.Event) { e.TicketsSold = e.TicketLimit }, domain.ErrSoldOut},
		{"oversold row", func(e *domain.Event) { e.TicketsSold = e.TicketLimit + 1 }, domain.ErrIntegrityViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := seed(store, tt.mutate)
			err := reserve(ctx, store, ledger, ev.ID)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			got, _ := store.GetEvent(ctx, ev.ID)
			assert.Equal(t, ev.TicketsSold, got.TicketsSold)
		})
	}
}

func TestReserveSameDayIsAllowed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := inventory.NewLedger(observability.NewNopLogger())
	ev := seed(store, func(e *domain.Event) { e.Date = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) })

	require.NoError(t, reserve(ctx, store, ledger, ev.ID))
}

func TestReserveUnknownEvent(t *testing.T) {
	ctx := context.Background()
	err := reserve(ctx, memory.NewStore(), inventory.NewLedger(observability.NewNopLogger()), uuid.New())
	assert.True(t, errors.Is(err, domain.ErrEventNotFound))
}

func TestReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := inventory.NewLedger(observability.NewNopLogger())
	ev := seed(store, func(e *domain.Event) { e.TicketsSold = 1 })

	for i := 0; i < 3; i++ {
		require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			_, err := ledger.Release(ctx, tx, ev.ID)
			return err
		}))
	}

	got, err := store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TicketsSold)
}
