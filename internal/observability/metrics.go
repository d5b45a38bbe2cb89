package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebs_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ebs_db_tx_seconds",
			Help:    "Duration of units of work including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ebs_db_tx_retries_total",
			Help: "Units of work retried after a serialization failure",
		},
	)

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebs_bookings_total",
			Help: "Booking operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	ReservationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebs_reservations_rejected_total",
			Help: "Reservations rejected by the inventory ledger",
		},
		[]string{"reason"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebs_webhook_events_total",
			Help: "Payment provider events by type and result",
		},
		[]string{"type", "result"},
	)

	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebs_settlements_total",
			Help: "Settlement attempts by outcome",
		},
		[]string{"outcome"},
	)

	IntegrityViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ebs_integrity_violations_total",
			Help: "Detected ledger or inventory integrity violations",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ebs_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ebs_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ebs_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
