package settlement_test

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
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/settlement"
	"github.com/robertarktes/event-bookings-and-settlements/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventDay = time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	wallets *wallet.Ledger
	engine  *settlement.Engine
}

func newFixture() *fixture {
	logger := observability.NewNopLogger()
	store := memory.NewStore()
	wallets := wallet.NewLedger(store, nil, logger)
	engine := settlement.NewEngine(store, wallets, nil, logger, settlement.Config{
		OrganizerShare: decimal.RequireFromString("0.90"),
		Cooldown:       24 * time.Hour,
	})
	return &fixture{store: store, wallets: wallets, engine: engine}
}

func (f *fixture) event(mutate func(*domain.Event), prices map[domain.BookingStatus][]int64) domain.Event {
	ev := domain.Event{ID: uuid.New(), Title: "Jazz at Dusk", OrganizerID: uuid.New(), TicketLimit: 100, Date: eventDay}
	if mutate != nil {
		mutate(&ev)
	}
	f.store.PutEvent(ev)
	for status, list := range prices {
		for _, p := range list {
			f.store.PutBooking(domain.Booking{ID: uuid.New(), EventID: ev.ID, UserID: uuid.New(), TotalPrice: p, Status: status})
		}
	}
	return ev
}

func (f *fixture) organizerBalance(ev domain.Event) int64 {
	w, err := f.wallets.Balance(context.Background(), domain.WalletOrganizer, ev.OrganizerID)
	if err != nil {
		panic(err)
	}
	return w.Balance
}

func TestSplit(t *testing.T) {
	rate := decimal.RequireFromString("0.90")
	tests := []struct{ total, organizer, fee int64 }{
		{1000, 900, 100},
		{0, 0, 0},
		{1, 0, 1},
		{999, 899, 100},
		{1005, 904, 101},
	}
	for _, tt := range tests {
		organizer, fee := settlement.Split(tt.total, rate)
		assert.Equal(t, tt.organizer, organizer, "total %d", tt.total)
		assert.Equal(t, tt.fee, fee, "total %d", tt.total)
		assert.Equal(t, tt.total, organizer+fee)
	}
}

func TestSettleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := f.event(nil, map[domain.BookingStatus][]int64{
		domain.StatusConfirmed: {500, 300, 200},
		domain.StatusRefunded:  {700},
		domain.StatusPending:   {400},
		domain.StatusFailed:    {100},
	})
	now := eventDay.Add(25 * time.Hour)

	res, err := f.engine.Settle(ctx, ev.ID, now)
	require.NoError(t, err)
	assert.Equal(t, "Jazz at Dusk", res.EventTitle)
	assert.EqualValues(t, 1000, res.TotalRevenue)
	assert.EqualValues(t, 900, res.OrganizerShare)
	assert.EqualValues(t, 100, res.PlatformFee)
	assert.Equal(t, now, res.SettlementDate)

	got, err := f.store.GetEvent(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSettledToOrganizer)
	assert.True(t, got.IsCompleted)
	assert.EqualValues(t, 900, f.organizerBalance(ev))
	require.NoError(t, f.wallets.Verify(ctx, domain.WalletOrganizer, ev.OrganizerID))

	agg, err := f.store.GetCompanyLedger(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 100, agg.TotalBalance)
	entries := f.store.CompanyEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "FEE-"+ev.ID.String(), entries[0].ReferenceID)

	_, err = f.engine.Settle(ctx, ev.ID, now)
	assert.True(t, errors.Is(err, domain.ErrAlreadySettled))
	assert.EqualValues(t, 900, f.organizerBalance(ev))
	assert.Len(t, f.store.CompanyEntries(), 1)

	txs, err := f.wallets.Transactions(ctx, domain.WalletOrganizer, ev.OrganizerID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.Equal(t, ev.ID, *txs[0].EventID)
}

func TestSettleConcurrentAttemptsPayOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := f.event(nil, map[domain.BookingStatus][]int64{domain.StatusConfirmed: {1000}})
	now := eventDay.AddDate(0, 0, 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	settled, rejected := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Settle(ctx, ev.ID, now)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				settled++
			} else if errors.Is(err, domain.ErrAlreadySettled) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, 7, rejected)
	assert.EqualValues(t, 900, f.organizerBalance(ev))
}

func TestSettleRejectionOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	settledAndHeld := f.event(func(e *domain.Event) { e.IsSettledToOrganizer = true; e.OnHold = true }, nil)
	_, err := f.engine.Settle(ctx, settledAndHeld.ID, eventDay.AddDate(0, 0, 5))
	assert.True(t, errors.Is(err, domain.ErrAlreadySettled))

	heldAndEarly := f.event(func(e *domain.Event) { e.OnHold = true }, nil)
	_, err = f.engine.Settle(ctx, heldAndEarly.ID, eventDay)
	assert.True(t, errors.Is(err, domain.ErrEventOnHold))

	early := f.event(nil, map[domain.BookingStatus][]int64{domain.StatusConfirmed: {100}})
	_, err = f.engine.Settle(ctx, early.ID, eventDay.Add(23*time.Hour))
	require.True(t, errors.Is(err, domain.ErrSettlementTooEarly))
	de, ok := domain.AsError(err)
	require.True(t, ok)
	assert.Contains(t, de.Message, "2025-05-11")

	_, err = f.engine.Settle(ctx, uuid.New(), eventDay)
	assert.True(t, errors.Is(err, domain.ErrEventNotFound))
}

func TestSettleZeroRevenueWritesNoTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := f.event(nil, nil)

	res, err := f.engine.Settle(ctx, ev.ID, eventDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Zero(t, res.TotalRevenue)

	txs, err := f.wallets.Transactions(ctx, domain.WalletOrganizer, ev.OrganizerID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Empty(t, f.store.CompanyEntries())

	got, _ := f.store.GetEvent(ctx, ev.ID)
	assert.True(t, got.IsSettledToOrganizer)
}

func TestSettleDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := f.event(nil, map[domain.BookingStatus][]int64{domain.StatusConfirmed: {1000}})
	b := f.event(func(e *domain.Event) { e.Date = eventDay.AddDate(0, 0, -3) }, map[domain.BookingStatus][]int64{domain.StatusConfirmed: {500}})
	f.event(func(e *domain.Event) { e.OnHold = true }, map[domain.BookingStatus][]int64{domain.StatusConfirmed: {700}})
	f.event(func(e *domain.Event) { e.Date = eventDay.AddDate(0, 0, 3) }, map[domain.BookingStatus][]int64{domain.StatusConfirmed: {700}})
	f.event(func(e *domain.Event) { e.IsSettledToOrganizer = true }, nil)
	now := eventDay.AddDate(0, 0, 1)

	listed, err := f.engine.ListSettleable(ctx, now)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	results, err := f.engine.SettleDue(ctx, now)
	require.NoError(t, err)
	require.Len(t, results, 2)
	byEvent := map[uuid.UUID]settlement.Result{}
	for _, r := range results {
		byEvent[r.EventID] = r
	}
	assert.EqualValues(t, 900, byEvent[a.ID].OrganizerShare)
	assert.EqualValues(t, 450, byEvent[b.ID].OrganizerShare)

	agg, err := f.store.GetCompanyLedger(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 150, agg.TotalBalance)

	results, err = f.engine.SettleDue(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPreviewWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := f.event(nil, map[domain.BookingStatus][]int64{domain.StatusConfirmed: {999}})
	now := eventDay.AddDate(0, 0, 1)

	res, err := f.engine.Preview(ctx, ev.ID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 899, res.OrganizerShare)
	assert.EqualValues(t, 100, res.PlatformFee)

	got, _ := f.store.GetEvent(ctx, ev.ID)
	assert.False(t, got.IsSettledToOrganizer)
	assert.Empty(t, f.store.CompanyEntries())
	assert.Empty(t, f.store.Outbox())

	_, err = f.engine.Preview(ctx, ev.ID, eventDay)
	assert.True(t, errors.Is(err, domain.ErrSettlementTooEarly))
}

type lockCountingStore struct {
	*memory.Store
	locks *atomic.Int32
}

func (s lockCountingStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, lockCountingTx{Tx: tx, locks: s.locks})
	})
}

type lockCountingTx struct {
	domain.Tx
	locks *atomic.Int32
}

func (t lockCountingTx) LockEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	t.locks.Add(1)
	return t.Tx.LockEvent(ctx, id)
}

func (t lockCountingTx) LockCompanyLedger(ctx context.Context) (domain.CompanyLedger, error) {
	t.locks.Add(1)
	return t.Tx.LockCompanyLedger(ctx)
}

func TestPreviewTakesNoRowLocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ev := f.event(nil, map[domain.BookingStatus][]int64{domain.StatusConfirmed: {400, 600}})
	now := eventDay.AddDate(0, 0, 1)

	store := lockCountingStore{Store: f.store, locks: &atomic.Int32{}}
	logger := observability.NewNopLogger()
	engine := settlement.NewEngine(store, wallet.NewLedger(store, nil, logger), nil, logger, settlement.Config{
		OrganizerShare: decimal.RequireFromString("0.90"),
		Cooldown:       24 * time.Hour,
	})

	res, err := engine.Preview(ctx, ev.ID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, res.TotalRevenue)
	assert.Zero(t, store.locks.Load())

	_, err = engine.Settle(ctx, ev.ID, now)
	require.NoError(t, err)
	assert.Positive(t, store.locks.Load())
}
