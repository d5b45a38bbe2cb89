// Package memory is a single-writer implementation of the domain store.
// Each unit of work runs against a private copy of the state that replaces
// the shared state only when fn succeeds, so failed units leave no trace.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
)

type walletKey struct {
	kind  domain.WalletKind
	owner uuid.UUID
}

type usageKey struct {
	user   uuid.UUID
	coupon uuid.UUID
}

type state struct {
	events       map[uuid.UUID]domain.Event
	bookings     map[uuid.UUID]domain.Booking
	wallets      map[walletKey]domain.Wallet
	walletTxs    []domain.WalletTransaction
	company      domain.CompanyLedger
	companyItems []domain.CompanyLedgerEntry
	coupons      map[uuid.UUID]domain.Coupon
	usages       map[usageKey]domain.CouponUsage
	outbox       []domain.OutboxRecord
}

func newState() *state {
	return &state{
		events:   map[uuid.UUID]domain.Event{},
		bookings: map[uuid.UUID]domain.Booking{},
		wallets:  map[walletKey]domain.Wallet{},
		coupons:  map[uuid.UUID]domain.Coupon{},
		usages:   map[usageKey]domain.CouponUsage{},
	}
}

func (s *state) clone() *state {
	c := &state{
		events:       make(map[uuid.UUID]domain.Event, len(s.events)),
		bookings:     make(map[uuid.UUID]domain.Booking, len(s.bookings)),
		wallets:      make(map[walletKey]domain.Wallet, len(s.wallets)),
		walletTxs:    append([]domain.WalletTransaction(nil), s.walletTxs...),
		company:      s.company,
		companyItems: append([]domain.CompanyLedgerEntry(nil), s.companyItems...),
		coupons:      make(map[uuid.UUID]domain.Coupon, len(s.coupons)),
		usages:       make(map[usageKey]domain.CouponUsage, len(s.usages)),
		outbox:       append([]domain.OutboxRecord(nil), s.outbox...),
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.usages {
		c.usages[k] = v
	}
	return c
}

var _ domain.Store = (*Store)(nil)

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func NewStore() *Store {
	return &Store{st: newState(), now: time.Now}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// PutEvent seeds or replaces an event, standing in for the catalog CRUD.
func (s *Store) PutEvent(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.events[ev.ID] = ev
}

// PutCoupon seeds or replaces a coupon.
func (s *Store) PutCoupon(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.coupons[c.ID] = c
}

// PutBooking overwrites a booking as-is, bypassing all checks.
func (s *Store) PutBooking(b domain.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.bookings[b.ID] = b
}

func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.st.events[id]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return ev, nil
}

func (s *Store) ListSettleableEvents(ctx context.Context, dateOnOrBefore time.Time) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, ev := range s.st.events {
		if ev.IsSettledToOrganizer || ev.OnHold || domain.Day(ev.Date).After(dateOnOrBefore) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.st.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrBookingNotFound
	}
	return b, nil
}

func (s *Store) ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.st.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (s *Store) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.st.bookings {
		if b.Status == domain.StatusPending && b.CreatedAt.Before(createdBefore) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (s *Store) GetWallet(ctx context.Context, kind domain.WalletKind, ownerID uuid.UUID) (domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.st.wallets[walletKey{kind, ownerID}]
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return w, nil
}

func (s *Store) ListWalletTransactions(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WalletTransaction
	for i := len(s.st.walletTxs) - 1; i >= 0; i-- {
		if t := s.st.walletTxs[i]; t.WalletID == walletID {
			out = append(out, t)
		}
	}
	return page(out, limit, offset), nil
}

func (s *Store) SumWalletTransactions(ctx context.Context, walletID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, t := range s.st.walletTxs {
		if t.WalletID == walletID {
			sum += t.Signed()
		}
	}
	return sum, nil
}

func (s *Store) GetCompanyLedger(ctx context.Context) (domain.CompanyLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.company, nil
}

// CompanyEntries returns the company statement in insertion order.
func (s *Store) CompanyEntries() []domain.CompanyLedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CompanyLedgerEntry(nil), s.st.companyItems...)
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.couponByCode(code)
}

func (s *Store) CouponUsed(ctx context.Context, userID, couponID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.usages[usageKey{userID, couponID}]
	return ok, nil
}

func (s *Store) FetchUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxRecord
	for _, rec := range s.st.outbox {
		if rec.Status == "NEW" {
			out = append(out, rec)
		}
	}
	return page(out, limit, 0), nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.outbox {
		if s.st.outbox[i].ID == id {
			s.st.outbox[i].Status = "PUBLISHED"
			s.st.outbox[i].PublishedAt = &publishedAt
			return nil
		}
	}
	return errors.Newf("outbox record %s not found", id)
}

// Outbox returns every outbox record in insertion order.
func (s *Store) Outbox() []domain.OutboxRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxRecord(nil), s.st.outbox...)
}

func (st *state) couponByCode(code string) (domain.Coupon, error) {
	for _, c := range st.coupons {
		if c.Code == code {
			return c, nil
		}
	}
	return domain.Coupon{}, domain.ErrCouponNotFound
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
