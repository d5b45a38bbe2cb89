package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
)

type Quote struct {
	CouponID      uuid.UUID
	Code          string
	OriginalPrice int64
	Discount      int64
	FinalPrice    int64
}

// reader is satisfied by both domain.Store and domain.Tx.
type reader interface {
	GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error)
	CouponUsed(ctx context.Context, userID, couponID uuid.UUID) (bool, error)
}

type Applier struct {
	store domain.Store
}

func NewApplier(store domain.Store) *Applier {
	return &Applier{store: store}
}

// Quote validates code for the event without recording usage.
func (a *Applier) Quote(ctx context.Context, userID, eventID uuid.UUID, code string, now time.Time) (Quote, error) {
	ev, err := a.store.GetEvent(ctx, eventID)
	if err != nil {
		return Quote{}, err
	}
	return evaluate(ctx, a.store, userID, ev, code, now)
}

// Redeem validates code and records its usage inside tx. The caller's unit
// of work must also create the booking so a failure discards both.
func (a *Applier) Redeem(ctx context.Context, tx domain.Tx, userID uuid.UUID, ev domain.Event, code string, now time.Time) (Quote, error) {
	q, err := evaluate(ctx, tx, userID, ev, code, now)
	if err != nil {
		return Quote{}, err
	}
	err = tx.InsertCouponUsage(ctx, domain.CouponUsage{
		ID:       uuid.New(),
		UserID:   userID,
		CouponID: q.CouponID,
		EventID:  ev.ID,
		UsedAt:   now,
	})
	if err != nil {
		return Quote{}, errors.Wrap(err, "record coupon usage")
	}
	return q, nil
}

func evaluate(ctx context.Context, r reader, userID uuid.UUID, ev domain.Event, code string, now time.Time) (Quote, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Quote{}, domain.ErrCouponNotFound
	}
	c, err := r.GetCouponByCode(ctx, code)
	if err != nil {
		return Quote{}, err
	}
	if !c.IsActive {
		return Quote{}, domain.ErrCouponInactive
	}
	today := domain.Day(now)
	if today.Before(domain.Day(c.ValidFrom)) || today.After(domain.Day(c.ValidTo)) {
		return Quote{}, domain.ErrCouponNotValidNow
	}
	if c.OrganizerID != ev.OrganizerID {
		return Quote{}, domain.ErrCouponNotApplicable
	}
	used, err := r.CouponUsed(ctx, userID, c.ID)
	if err != nil {
		return Quote{}, err
	}
	if used {
		return Quote{}, domain.ErrCouponAlreadyUsed
	}
	if ev.PricePerTicket < c.MinimumPurchaseAmount {
		return Quote{}, domain.ErrMinimumPurchase.WithMessagef("minimum purchase for this coupon is %d", c.MinimumPurchaseAmount)
	}

	final := ev.PricePerTicket - c.DiscountAmount
	if final < 0 {
		final = 0
	}
	return Quote{
		CouponID:      c.ID,
		Code:          c.Code,
		OriginalPrice: ev.PricePerTicket,
		Discount:      ev.PricePerTicket - final,
		FinalPrice:    final,
	}, nil
}
