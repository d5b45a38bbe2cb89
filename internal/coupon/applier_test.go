package coupon_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/adapters/memory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/coupon"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store     *memory.Store
	applier   *coupon.Applier
	organizer uuid.UUID
	event     domain.Event
	coupon    domain.Coupon
}

func newFixture() *fixture {
	f := &fixture{store: memory.NewStore(), organizer: uuid.New()}
	f.applier = coupon.NewApplier(f.store)
	f.event = f.newEvent(500)
	f.coupon = domain.Coupon{
		ID:                    uuid.New(),
		Code:                  "SUMMER50",
		OrganizerID:           f.organizer,
		DiscountAmount:        50,
		MinimumPurchaseAmount: 200,
		ValidFrom:             time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:               time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		IsActive:              true,
	}
	f.store.PutCoupon(f.coupon)
	return f
}

func (f *fixture) newEvent(price int64) domain.Event {
	ev := domain.Event{ID: uuid.New(), OrganizerID: f.organizer, PricePerTicket: price, TicketLimit: 10, Date: now.AddDate(0, 1, 0)}
	f.store.PutEvent(ev)
	return ev
}

func (f *fixture) redeem(user uuid.UUID, ev domain.Event, code string) (coupon.Quote, error) {
	var q coupon.Quote
	err := f.store.WithTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		q, err = f.applier.Redeem(ctx, tx, user, ev, code, now)
		return err
	})
	return q, err
}

func TestQuote(t *testing.T) {
	f := newFixture()

	q, err := f.applier.Quote(context.Background(), uuid.New(), f.event.ID, " SUMMER50 ", now)
	require.NoError(t, err)
	assert.EqualValues(t, 500, q.OriginalPrice)
	assert.EqualValues(t, 50, q.Discount)
	assert.EqualValues(t, 450, q.FinalPrice)
	assert.Equal(t, f.coupon.ID, q.CouponID)
}

func TestRejectionOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture) (code string, ev domain.Event)
		want   error
	}{
		{"unknown code", func(f *fixture) (string, domain.Event) { return "NOPE", f.event }, domain.ErrCouponNotFound},
		{"inactive beats expired", func(f *fixture) (string, domain.Event) {
			f.coupon.IsActive = false
			f.coupon.ValidTo = now.AddDate(0, 0, -3)
			f.store.PutCoupon(f.coupon)
			return f.coupon.Code, f.event
		}, domain.ErrCouponInactive},
		{"not yet valid", func(f *fixture) (string, domain.Event) {
			f.coupon.ValidFrom = now.AddDate(0, 0, 1)
			f.store.PutCoupon(f.coupon)
			return f.coupon.Code, f.event
		}, domain.ErrCouponNotValidNow},
		{"other organizer", func(f *fixture) (string, domain.Event) {
			ev := f.event
			ev.OrganizerID = uuid.New()
			f.store.PutEvent(ev)
			return f.coupon.Code, ev
		}, domain.ErrCouponNotApplicable},
		{"below minimum", func(f *fixture) (string, domain.Event) {
			return f.coupon.Code, f.newEvent(199)
		}, domain.ErrMinimumPurchase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			code, ev := tt.mutate(f)
			_, err := f.redeem(uuid.New(), ev, code)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSingleUseAcrossEvents(t *testing.T) {
	f := newFixture()
	user := uuid.New()

	_, err := f.redeem(user, f.event, f.coupon.Code)
	require.NoError(t, err)

	_, err = f.redeem(user, f.newEvent(800), f.coupon.Code)
	assert.True(t, errors.Is(err, domain.ErrCouponAlreadyUsed))

	_, err = f.applier.Quote(context.Background(), user, f.event.ID, f.coupon.Code, now)
	assert.True(t, errors.Is(err, domain.ErrCouponAlreadyUsed))

	_, err = f.redeem(uuid.New(), f.event, f.coupon.Code)
	assert.NoError(t, err)
}

func TestDiscountClampsAtZero(t *testing.T) {
	f := newFixture()
	f.coupon.DiscountAmount = 1000
	f.store.PutCoupon(f.coupon)

	q, err := f.redeem(uuid.New(), f.event, f.coupon.Code)
	require.NoError(t, err)
	assert.Zero(t, q.FinalPrice)
	assert.EqualValues(t, 500, q.Discount)
}

func TestValidityIsInclusiveOfLastDay(t *testing.T) {
	f := newFixture()
	late := time.Date(2025, 6, 15, 23, 59, 0, 0, time.UTC)

	_, err := f.applier.Quote(context.Background(), uuid.New(), f.event.ID, f.coupon.Code, late)
	assert.NoError(t, err)
	_, err = f.applier.Quote(context.Background(), uuid.New(), f.event.ID, f.coupon.Code, late.Add(time.Minute))
	assert.True(t, errors.Is(err, domain.ErrCouponNotValidNow))
}
