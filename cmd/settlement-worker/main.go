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
	"github.com/robertarktes/event-bookings-and-settlements/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/event-bookings-and-settlements/internal/adapters/mongo"
	"github.com/robertarktes/event-bookings-and-settlements/internal/config"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/settlement"
	"github.com/robertarktes/event-bookings-and-settlements/internal/wallet"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "eventledger-settlement-worker")
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
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	wallets := wallet.NewLedger(repo, audit, logger)
	engine := settlement.NewEngine(repo, wallets, audit, logger, settlement.Config{
		OrganizerShare: cfg.OrganizerShare,
		Cooldown:       cfg.SettlementCooldown,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}
	_, err = scheduler.NewJob(
		gocron.CronJob(cfg.SettlementCron, false),
		gocron.NewTask(func() {
			results, err := engine.SettleDue(ctx, time.Now())
			if err != nil {
				logger.WithError(err).Error("settlement run finished with failures")
			}
			logger.WithField("settled", len(results)).Info("settlement run complete")
		}),
		gocron.WithName("settle-due-events"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		log.Fatalf("failed to schedule settlement job: %v", err)
	}
	scheduler.Start()
	logger.WithField("cron", cfg.SettlementCron).Info("settlement worker started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	if err := scheduler.Shutdown(); err != nil {
		logger.WithError(err).Warn("scheduler shutdown")
	}
	logger.Info("Shutdown settlement worker")
}
