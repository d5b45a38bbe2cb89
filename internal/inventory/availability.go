package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
)

// Availability is the read model of an event's capacity.
type Availability struct {
	EventID     uuid.UUID `json:"event_id" bson:"-"`
	Title       string    `json:"title" bson:"title"`
	TicketsSold int       `json:"tickets_sold" bson:"tickets_sold"`
	TicketLimit int       `json:"ticket_limit" bson:"ticket_limit"`
	Remaining   int       `json:"remaining" bson:"remaining"`
	OnHold      bool      `json:"on_hold" bson:"on_hold"`
	Date        time.Time `json:"date" bson:"date"`
	UpdatedAt   time.Time `json:"updated_at" bson:"updated_at"`
}

func AvailabilityOf(ev domain.Event, at time.Time) Availability {
	return Availability{
		EventID:     ev.ID,
		Title:       ev.Title,
		TicketsSold: ev.TicketsSold,
		TicketLimit: ev.TicketLimit,
		Remaining:   ev.Remaining(),
		OnHold:      ev.OnHold,
		Date:        ev.Date,
		UpdatedAt:   at,
	}
}

type AvailabilitySink interface {
	PutAvailability(ctx context.Context, a Availability) error
}

type AvailabilityCache interface {
	AvailabilitySink
	GetAvailability(ctx context.Context, eventID uuid.UUID) (Availability, bool, error)
}

// Projector refreshes availability read models after bookings commit and
// serves reads through the cache.
type Projector struct {
	store  domain.Store
	cache  AvailabilityCache
	sinks  []AvailabilitySink
	logger observability.Logger
	clock  func() time.Time
}

func NewProjector(store domain.Store, cache AvailabilityCache, logger observability.Logger, sinks ...AvailabilitySink) *Projector {
	return &Projector{store: store, cache: cache, sinks: sinks, logger: logger, clock: time.Now}
}

func (p *Projector) AfterCommit(ctx context.Context, changes []domain.Change) error {
	seen := make(map[uuid.UUID]bool)
	for _, c := range changes {
		if c.EventID == uuid.Nil || seen[c.EventID] {
			continue
		}
		seen[c.EventID] = true
		if _, err := p.refresh(ctx, c.EventID); err != nil {
			return err
		}
	}
	return nil
}

// Availability returns the cached snapshot, loading committed state on a miss.
func (p *Projector) Availability(ctx context.Context, eventID uuid.UUID) (Availability, error) {
	if p.cache != nil {
		a, ok, err := p.cache.GetAvailability(ctx, eventID)
		if err != nil {
			p.logger.WithField("event_id", eventID).WithError(err).Warn("availability cache read failed")
		} else if ok {
			return a, nil
		}
	}
	return p.refresh(ctx, eventID)
}

func (p *Projector) refresh(ctx context.Context, eventID uuid.UUID) (Availability, error) {
	ev, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		return Availability{}, err
	}
	a := AvailabilityOf(ev, p.clock())
	if p.cache != nil {
		if err := p.cache.PutAvailability(ctx, a); err != nil {
			p.logger.WithField("event_id", eventID).WithError(err).Warn("availability cache write failed")
		}
	}
	for _, s := range p.sinks {
		if err := s.PutAvailability(ctx, a); err != nil {
			return a, err
		}
	}
	return a, nil
}
