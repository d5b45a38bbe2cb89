package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
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
	httphandler "github.com/robertarktes/event-bookings-and-settlements/internal/http"
	"github.com/robertarktes/event-bookings-and-settlements/internal/idempotency"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/payment"
	"github.com/robertarktes/event-bookings-and-settlements/internal/rateLimit"
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

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "eventledger-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool, cfg.TxMaxRetries, logger)
	if err := repo.Migrate(context.Background()); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)
	catalog := mongoadapter.NewCatalog(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient, 5*time.Minute)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	rabbitPub, err := rabbit.NewPublisher(rabbitConn, rabbit.Exchange)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	projector := inventory.NewProjector(repo, redisCache, logger, catalog)
	chain := hooks.NewChain(logger).
		Add("audit", audit).
		Add("availability", projector)

	wallets := wallet.NewLedger(repo, chain, logger)
	coupons := coupon.NewApplier(repo)
	bookings := booking.NewService(booking.Deps{
		Store:     repo,
		Inventory: inventory.NewLedger(logger),
		Wallets:   wallets,
		Coupons:   coupons,
		Hooks:     chain,
		Logger:    logger,
	})
	engine := settlement.NewEngine(repo, wallets, chain, logger, settlement.Config{
		OrganizerShare: cfg.OrganizerShare,
		Cooldown:       cfg.SettlementCooldown,
	})

	var sink payment.Sink = payment.NewReconciler(bookings, logger).WithAnomalies(audit)
	if cfg.WebhookDispatch == config.DispatchQueue {
		sink = payment.NewQueueSink(rabbitPub)
	}

	auth, err := httphandler.NewAuthenticator(cfg.JWTPublicKey, cfg.JWTSecret)
	if err != nil {
		log.Fatalf("failed to configure auth: %v", err)
	}

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Bookings:     bookings,
		Coupons:      coupons,
		Wallets:      wallets,
		Settlements:  engine,
		Intents:      payment.NewIntents(bookings, payment.NewStripeProvider(cfg.StripeSecretKey), cfg.PaymentCurrency, logger),
		Verifier:     payment.NewVerifier(cfg.StripeWebhookSecret),
		Webhooks:     sink,
		Availability: projector,
		Ready: []httphandler.ReadyCheck{
			{Name: "crdb", Check: repo.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
			{Name: "mongo", Check: func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }},
			{Name: "rabbitmq", Check: func(context.Context) error {
				if rabbitConn.IsClosed() {
					return errors.New("connection closed")
				}
				return nil
			}},
		},
		Logger: logger,
	})

	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterConfig{
		Auth:        auth,
		Limiter:     rl,
		Limits:      httphandler.RateLimits{PerUser: 100, PerIP: 300, Period: time.Minute},
		Idempotency: idemp,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
