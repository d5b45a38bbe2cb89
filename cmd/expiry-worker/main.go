package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-bookings-and-settlements/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/event-bookings-and-settlements/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/event-bookings-and-settlements/internal/adapters/redis"
	"github.com/robertarktes/event-bookings-and-settlements/internal/booking"
	"github.com/robertarktes/event-bookings-and-settlements/internal/config"
	"github.com/robertarktes/event-bookings-and-settlements/internal/coupon"
	"github.com/robertarktes/event-bookings-and-settlements/internal/hooks"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/wallet"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "eventledger-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool, cfg.TxMaxRetries, logger)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient, 5*time.Minute)

	chain := hooks.NewChain(logger).
		Add("audit", mongoadapter.NewAuditLogger(mongoDB, logger)).
		Add("availability", inventory.NewProjector(repo, redisCache, logger, mongoadapter.NewCatalog(mongoDB, logger)))

	bookings := booking.NewService(booking.Deps{
		Store:     repo,
		Inventory: inventory.NewLedger(logger),
		Wallets:   wallet.NewLedger(repo, chain, logger),
		Coupons:   coupon.NewApplier(repo),
		Hooks:     chain,
		Logger:    logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(cfg.ExpiryInterval),
		gocron.NewTask(func() {
			n, err := bookings.ExpireStale(ctx, cfg.PendingTimeout)
			if err != nil {
				logger.WithError(err).Error("expiry sweep failed")
				return
			}
			if n > 0 {
				logger.WithField("expired", n).Info("expired stale pending bookings")
			}
		}),
		gocron.WithName("expire-pending-bookings"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Fatalf("failed to schedule expiry job: %v", err)
	}
	scheduler.Start()
	logger.WithField("interval", cfg.ExpiryInterval).WithField("timeout", cfg.PendingTimeout).Info("expiry worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	if err := scheduler.Shutdown(); err != nil {
		logger.WithError(err).Warn("scheduler shutdown")
	}
	logger.Info("Shutdown expiry worker")
}
