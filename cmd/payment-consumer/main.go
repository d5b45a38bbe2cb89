package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/event-bookings-and-settlements/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/event-bookings-and-settlements/internal/adapters/mongo"
	"github.com/robertarktes/event-bookings-and-settlements/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/event-bookings-and-settlements/internal/adapters/redis"
	"github.com/robertarktes/event-bookings-and-settlements/internal/booking"
	"github.com/robertarktes/event-bookings-and-settlements/internal/config"
	"github.com/robertarktes/event-bookings-and-settlements/internal/coupon"
	"github.com/robertarktes/event-bookings-and-settlements/internal/hooks"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/payment"
	"github.com/robertarktes/event-bookings-and-settlements/internal/wallet"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "eventledger-payment-consumer")
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

	audit := mongoadapter.NewAuditLogger(mongoDB, logger)
	chain := hooks.NewChain(logger).
		Add("audit", audit).
		Add("availability", inventory.NewProjector(repo, redisadapter.NewCache(redisClient, 5*time.Minute), logger, mongoadapter.NewCatalog(mongoDB, logger)))

	bookings := booking.NewService(booking.Deps{
		Store:     repo,
		Inventory: inventory.NewLedger(logger),
		Wallets:   wallet.NewLedger(repo, chain, logger),
		Coupons:   coupon.NewApplier(repo),
		Hooks:     chain,
		Logger:    logger,
	})

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, rabbit.Exchange, payment.WebhookQueue, payment.WebhookRoutingKey, 16)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", payment.WebhookQueue, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- payment.NewQueueConsumer(payment.NewReconciler(bookings, logger).WithAnomalies(audit), logger).Run(ctx, deliveries)
	}()
	logger.WithField("queue", payment.WebhookQueue).Info("payment consumer started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-done:
		logger.WithError(err).Error("payment consumer stopped")
	}
	cancel()
	logger.Info("Shutdown payment consumer")
}
