package settlement

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/wallet"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type Result struct {
	EventID        uuid.UUID
	EventTitle     string
	TotalRevenue   int64
	OrganizerShare int64
	PlatformFee    int64
	SettlementDate time.Time
}

type Config struct {
	OrganizerShare decimal.Decimal
	Cooldown       time.Duration
	Parallelism    int
}

type Engine struct {
	store   domain.Store
	wallets *wallet.Ledger
	hooks   domain.Hook
	logger  observability.Logger
	cfg     Config
}

func NewEngine(store domain.Store, wallets *wallet.Ledger, hooks domain.Hook, logger observability.Logger, cfg Config) *Engine {
	if hooks == nil {
		hooks = domain.NopHook{}
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	return &Engine{store: store, wallets: wallets, hooks: hooks, logger: logger, cfg: cfg}
}

// Split divides total into the organizer share, floored to a whole unit,
// and the platform fee that absorbs the remainder.
func Split(total int64, rate decimal.Decimal) (organizer, fee int64) {
	organizer = decimal.NewFromInt(total).Mul(rate).Floor().IntPart()
	return organizer, total - organizer
}

// Settle pays out an event's confirmed revenue once. The event row lock
// and the settled flag serialize concurrent attempts.
func (e *Engine) Settle(ctx context.Context, eventID uuid.UUID, now time.Time) (Result, error) {
	ctx, span := observability.StartSpan(ctx, "settlement.Settle")
	defer span.End()

	var res Result
	var change domain.Change
	err := e.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		ev, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := e.check(ev, now); err != nil {
			return err
		}

		total, err := tx.SumConfirmedRevenue(ctx, ev.ID)
		if err != nil {
			return errors.Wrap(err, "sum confirmed revenue")
		}
		organizer, fee := Split(total, e.cfg.OrganizerShare)

		if organizer > 0 {
			ref := wallet.Ref{EventID: &ev.ID}
			if _, err := e.wallets.Credit(ctx, tx, domain.WalletOrganizer, ev.OrganizerID, organizer, ref); err != nil {
				return err
			}
		}
		if fee > 0 {
			if _, err := e.wallets.CreditCompany(ctx, tx, ev.ID, fee); err != nil {
				return err
			}
		}
		if err := tx.MarkEventSettled(ctx, ev.ID); err != nil {
			return errors.Wrap(err, "mark settled")
		}

		res = Result{
			EventID:        ev.ID,
			EventTitle:     ev.Title,
			TotalRevenue:   total,
			OrganizerShare: organizer,
			PlatformFee:    fee,
			SettlementDate: now,
		}
		change = domain.Change{
			Type:          domain.ChangeEventSettled,
			AggregateType: "event",
			AggregateID:   ev.ID,
			UserID:        ev.OrganizerID,
			EventID:       ev.ID,
			Data: map[string]interface{}{
				"total_revenue":   total,
				"organizer_share": organizer,
				"platform_fee":    fee,
			},
			At: now,
		}
		return domain.RecordChanges(ctx, tx, change)
	})
	if err != nil {
		observability.Settlements.WithLabelValues(outcome(err)).Inc()
		return Result{}, err
	}

	observability.Settlements.WithLabelValues("settled").Inc()
	e.logger.
		WithField("event_id", res.EventID).
		WithField("total_revenue", res.TotalRevenue).
		WithField("organizer_share", res.OrganizerShare).
		WithField("platform_fee", res.PlatformFee).
		Info("event settled")
	if err := e.hooks.AfterCommit(context.WithoutCancel(ctx), []domain.Change{change}); err != nil {
		e.logger.WithError(err).Warn("post-commit hooks failed after settlement")
	}
	return res, nil
}

// Preview computes what Settle would pay out now without writing anything
// or taking row locks.
func (e *Engine) Preview(ctx context.Context, eventID uuid.UUID, now time.Time) (Result, error) {
	ev, err := e.store.GetEvent(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	if err := e.check(ev, now); err != nil {
		return Result{}, err
	}
	var total int64
	err = e.store.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		total, err = tx.SumConfirmedRevenue(ctx, ev.ID)
		return err
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "sum confirmed revenue")
	}
	organizer, fee := Split(total, e.cfg.OrganizerShare)
	return Result{
		EventID:        ev.ID,
		EventTitle:     ev.Title,
		TotalRevenue:   total,
		OrganizerShare: organizer,
		PlatformFee:    fee,
		SettlementDate: now,
	}, nil
}

func (e *Engine) check(ev domain.Event, now time.Time) error {
	if ev.IsSettledToOrganizer {
		return domain.ErrAlreadySettled
	}
	if ev.OnHold {
		return domain.ErrEventOnHold
	}
	if from := ev.SettleableFrom(e.cfg.Cooldown); domain.Day(now).Before(from) {
		return domain.ErrSettlementTooEarly.WithMessagef("settlement available from %s", from.Format("2006-01-02"))
	}
	return nil
}

func (e *Engine) SettleableFrom(ev domain.Event) time.Time {
	return ev.SettleableFrom(e.cfg.Cooldown)
}

// ListSettleable returns unsettled events whose cooldown has elapsed.
func (e *Engine) ListSettleable(ctx context.Context, now time.Time) ([]domain.Event, error) {
	cutoff := domain.Day(now).Add(-e.cfg.Cooldown)
	events, err := e.store.ListSettleableEvents(ctx, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "list settleable events")
	}
	return events, nil
}

// SettleDue settles every event that is ready. Business rejections for a
// single event are logged and skipped; other failures abort the batch.
func (e *Engine) SettleDue(ctx context.Context, now time.Time) ([]Result, error) {
	events, err := e.ListSettleable(ctx, now)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, ev := range events {
		g.Go(func() error {
			res, err := e.Settle(gctx, ev.ID, now)
			switch kind := domain.KindOf(err); {
			case err == nil:
				results[i] = &res
				return nil
			case kind == domain.KindBusiness:
				e.logger.WithField("event_id", ev.ID).WithError(err).Info("skipping event")
				return nil
			default:
				return errors.Wrapf(err, "settle %s", ev.ID)
			}
		})
	}
	err = g.Wait()

	var out []Result
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, err
}

func outcome(err error) string {
	if de, ok := domain.AsError(err); ok {
		return de.Code
	}
	return "error"
}
