package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type WebhookDispatch string

const (
	DispatchInline WebhookDispatch = "inline"
	DispatchQueue  WebhookDispatch = "queue"
)

type Config struct {
	HTTPAddr            string
	CRDBDSN             string
	MongoURI            string
	MongoDB             string
	RedisAddr           string
	RabbitURL           string
	JWTPublicKey        string
	JWTSecret           string
	StripeSecretKey     string
	StripeWebhookSecret string
	PaymentCurrency     string
	WebhookDispatch     WebhookDispatch
	PendingTimeout      time.Duration
	ExpiryInterval      time.Duration
	SettlementCooldown  time.Duration
	SettlementCron      string
	OrganizerShare      decimal.Decimal
	TxMaxRetries        int
	IdempotencyTTL      time.Duration
	OTLPEndpoint        string
	LogLevel            string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:            getenv("HTTP_ADDR", ":8080"),
		CRDBDSN:             os.Getenv("CRDB_DSN"),
		MongoURI:            os.Getenv("MONGO_URI"),
		MongoDB:             getenv("MONGO_DB", "eventledger"),
		RedisAddr:           getenv("REDIS_ADDR", "localhost:6379"),
		RabbitURL:           os.Getenv("RABBIT_URL"),
		JWTPublicKey:        os.Getenv("JWT_PUBLIC_KEY"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PaymentCurrency:     getenv("PAYMENT_CURRENCY", "inr"),
		WebhookDispatch:     WebhookDispatch(getenv("WEBHOOK_DISPATCH", string(DispatchInline))),
		SettlementCron:      getenv("SETTLEMENT_CRON", "0 2 * * *"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.PendingTimeout, err = duration("PENDING_TIMEOUT", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ExpiryInterval, err = duration("EXPIRY_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SettlementCooldown, err = duration("SETTLEMENT_COOLDOWN", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = duration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	retries := getenv("TX_MAX_RETRIES", "3")
	if cfg.TxMaxRetries, err = strconv.Atoi(retries); err != nil || cfg.TxMaxRetries < 1 {
		return nil, errors.Newf("config: TX_MAX_RETRIES must be a positive integer, got %q", retries)
	}

	share := getenv("ORGANIZER_SHARE", "0.90")
	if cfg.OrganizerShare, err = decimal.NewFromString(share); err != nil {
		return nil, errors.Wrapf(err, "config: ORGANIZER_SHARE %q", share)
	}
	if cfg.OrganizerShare.IsNegative() || cfg.OrganizerShare.GreaterThan(decimal.NewFromInt(1)) {
		return nil, errors.Newf("config: ORGANIZER_SHARE must be within [0, 1], got %s", share)
	}

	switch cfg.WebhookDispatch {
	case DispatchInline, DispatchQueue:
	default:
		return nil, errors.Newf("config: WEBHOOK_DISPATCH must be inline or queue, got %q", cfg.WebhookDispatch)
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "config: %s", key)
	}
	return d, nil
}
