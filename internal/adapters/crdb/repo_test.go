package crdb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-bookings-and-settlements/internal/adapters/crdb"
	"github.com/robertarktes/event-bookings-and-settlements/internal/booking"
	"github.com/robertarktes/event-bookings-and-settlements/internal/coupon"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/settlement"
	"github.com/robertarktes/event-bookings-and-settlements/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type RepositorySuite struct {
	suite.Suite
	container testcontainers.Container
	pool      *pgxpool.Pool
	repo      *crdb.Repository
	logger    observability.Logger
}

func TestRepository(t *testing.T) {
	testcontainers.SkipIfProviderIsNotHealthy(t)
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.PortEndpoint(ctx, "26257/tcp", "postgresql")
	s.Require().NoError(err)

	admin, err := pgxpool.New(ctx, dsn+"/defaultdb?sslmode=disable&user=root")
	s.Require().NoError(err)
	_, err = admin.Exec(ctx, `CREATE DATABASE IF NOT EXISTS eventledger`)
	admin.Close()
	s.Require().NoError(err)

	s.pool, err = pgxpool.New(ctx, dsn+"/eventledger?sslmode=disable&user=root")
	s.Require().NoError(err)
	s.logger = observability.NewNopLogger()
	s.repo = crdb.NewRepository(s.pool, 10, s.logger)
	s.Require().NoError(s.repo.Migrate(ctx))
	s.Require().NoError(s.repo.Migrate(ctx), "migrations are idempotent")
}

func (s *RepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RepositorySuite) event(limit int, price int64, date time.Time) domain.Event {
	ev := domain.Event{
		ID:                    uuid.New(),
		Title:                 "Quartet",
		OrganizerID:           uuid.New(),
		PricePerTicket:        price,
		TicketLimit:           limit,
		CancellationAvailable: true,
		Date:                  date,
	}
	s.Require().NoError(s.repo.SaveEvent(context.Background(), ev))
	return ev
}

func (s *RepositorySuite) bookings() *booking.Service {
	wallets := wallet.NewLedger(s.repo, nil, s.logger)
	return booking.NewService(booking.Deps{
		Store:     s.repo,
		Inventory: inventory.NewLedger(s.logger),
		Wallets:   wallets,
		Coupons:   coupon.NewApplier(s.repo),
		Logger:    s.logger,
	})
}

func (s *RepositorySuite) TestConcurrentReservationsNeverOversell() {
	ctx := context.Background()
	ev := s.event(5, 0, time.Now().AddDate(0, 0, 10))
	svc := s.bookings()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, booking.CreateRequest{EventID: ev.ID, UserID: uuid.New(), PaymentMethod: domain.PaymentCard})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			s.True(errors.Is(err, domain.ErrSoldOut) || errors.Is(err, domain.ErrSerializationFailure), "unexpected error %v", err)
		}()
	}
	wg.Wait()

	got, err := s.repo.GetEvent(ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(ok, got.TicketsSold)
	s.LessOrEqual(got.TicketsSold, 5)
}

func (s *RepositorySuite) TestCheckConstraintMapsToIntegrity() {
	ctx := context.Background()
	ev := s.event(2, 100, time.Now().AddDate(0, 0, 3))

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return tx.SetTicketsSold(ctx, ev.ID, 3)
	})
	s.True(errors.Is(err, domain.ErrIntegrityViolation), "got %v", err)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		w, err := tx.OpenWallet(ctx, domain.WalletUser, uuid.New())
		if err != nil {
			return err
		}
		return tx.SetWalletBalance(ctx, w.ID, -1)
	})
	s.True(errors.Is(err, domain.ErrIntegrityViolation), "got %v", err)
}

func (s *RepositorySuite) TestCouponUsageUnique() {
	ctx := context.Background()
	c := domain.Coupon{
		ID:          uuid.New(),
		Code:        "SAVE-" + uuid.NewString()[:8],
		OrganizerID: uuid.New(),
		ValidFrom:   time.Now().Add(-time.Hour),
		ValidTo:     time.Now().Add(time.Hour),
		IsActive:    true,
	}
	s.Require().NoError(s.repo.SaveCoupon(ctx, c))
	user := uuid.New()

	use := func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			return tx.InsertCouponUsage(ctx, domain.CouponUsage{ID: uuid.New(), UserID: user, CouponID: c.ID, EventID: uuid.New(), UsedAt: time.Now()})
		})
	}
	s.Require().NoError(use())
	s.True(errors.Is(use(), domain.ErrCouponAlreadyUsed))

	used, err := s.repo.CouponUsed(ctx, user, c.ID)
	s.Require().NoError(err)
	s.True(used)
}

func (s *RepositorySuite) TestWalletFlowAndSettlement() {
	ctx := context.Background()
	day := domain.Day(time.Now())
	ev := s.event(10, 500, day.AddDate(0, 0, -2))
	wallets := wallet.NewLedger(s.repo, nil, s.logger)
	payer := uuid.New()

	s.Require().NoError(s.repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		_, err := wallets.Credit(ctx, tx, domain.WalletUser, payer, 1000, wallet.Ref{})
		return err
	}))
	s.Require().NoError(s.repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		b := domain.Booking{
			ID: uuid.New(), EventID: ev.ID, UserID: payer, BookingName: "Guest", TotalPrice: 1000,
			Status: domain.StatusConfirmed, PaymentMethod: domain.PaymentWallet, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		_, err := wallets.Debit(ctx, tx, domain.WalletUser, payer, 1000, wallet.Ref{EventID: &ev.ID, BookingID: &b.ID})
		return err
	}))
	s.Require().NoError(wallets.Verify(ctx, domain.WalletUser, payer))

	before, err := s.repo.GetCompanyLedger(ctx)
	s.Require().NoError(err)

	engine := settlement.NewEngine(s.repo, wallets, nil, s.logger, settlement.Config{
		OrganizerShare: decimal.RequireFromString("0.90"),
		Cooldown:       24 * time.Hour,
	})
	res, err := engine.Settle(ctx, ev.ID, time.Now())
	s.Require().NoError(err)
	s.EqualValues(900, res.OrganizerShare)
	s.EqualValues(100, res.PlatformFee)

	_, err = engine.Settle(ctx, ev.ID, time.Now())
	s.True(errors.Is(err, domain.ErrAlreadySettled))

	org, err := wallets.Balance(ctx, domain.WalletOrganizer, ev.OrganizerID)
	s.Require().NoError(err)
	s.EqualValues(900, org.Balance)
	after, err := s.repo.GetCompanyLedger(ctx)
	s.Require().NoError(err)
	s.EqualValues(before.TotalBalance+100, after.TotalBalance)
}

func (s *RepositorySuite) TestOutboxFetchAndMark() {
	ctx := context.Background()
	change := domain.Change{Type: domain.ChangeBookingCreated, AggregateType: "booking", AggregateID: uuid.New(), At: time.Now()}
	s.Require().NoError(s.repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return domain.RecordChanges(ctx, tx, change)
	}))

	records, err := s.repo.FetchUnpublishedOutbox(ctx, 100)
	s.Require().NoError(err)
	var rec *domain.OutboxRecord
	for i := range records {
		if records[i].AggregateID == change.AggregateID {
			rec = &records[i]
		}
	}
	s.Require().NotNil(rec)
	s.Equal("NEW", rec.Status)

	again, err := s.repo.FetchUnpublishedOutbox(ctx, 100)
	s.Require().NoError(err)
	seen := false
	for _, r := range again {
		seen = seen || r.ID == rec.ID
	}
	s.True(seen, "an unmarked record is visible to every fetch")
	s.Equal(domain.ChangeBookingCreated+":"+change.AggregateID.String(), rec.DedupeKey)

	s.Require().NoError(s.repo.MarkPublished(ctx, rec.ID, time.Now()))
	s.True(errors.Is(s.repo.MarkPublished(ctx, rec.ID, time.Now()), domain.ErrConflict))

	dup := s.repo.WithTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return domain.RecordChanges(ctx, tx, change)
	})
	s.True(errors.Is(dup, domain.ErrConflict), "dedupe key is unique")
}
