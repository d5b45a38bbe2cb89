package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/idempotency"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/rs/cors"
)

type RouterConfig struct {
	Auth           *Authenticator
	Limiter        Limiter
	Limits         RateLimits
	Idempotency    *idempotency.Idempotency
	AllowedOrigins []string
}

func SetupRouter(h *Handlers, logger observability.Logger, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Provider callbacks authenticate by signature, not by bearer token.
	r.Post("/v1/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)
		if cfg.Limiter != nil {
			r.Use(RateLimitMiddleware(cfg.Limiter, cfg.Limits))
		}
		if cfg.Idempotency != nil {
			r.Use(IdempotencyMiddleware(cfg.Idempotency))
		}

		r.Get("/v1/events/{id}/availability", h.EventAvailability)

		r.Route("/v1/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/", h.ListBookings)
			r.Get("/{id}", h.GetBooking)
			r.Patch("/{id}/cancel", h.CancelBooking)
			r.Get("/{id}/ticket", h.GetTicket)
		})
		r.Post("/v1/coupons/apply", h.ApplyCoupon)
		r.Post("/v1/payments/intents", h.CreatePaymentIntent)

		r.Get("/v1/wallet", h.wallet(domain.WalletUser))
		r.Get("/v1/wallet/transactions", h.walletTransactions(domain.WalletUser))

		r.Route("/v1/organizer/wallet", func(r chi.Router) {
			r.Use(RequireRole(RoleOrganizer, RoleAdmin))
			r.Get("/", h.wallet(domain.WalletOrganizer))
			r.Get("/transactions", h.walletTransactions(domain.WalletOrganizer))
			r.Post("/withdraw", h.Withdraw)
		})

		r.Route("/v1/admin/settlements", func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin))
			r.Post("/", h.SettleEvent)
			r.Get("/available", h.SettleableEvents)
			r.Get("/{eventID}/preview", h.PreviewSettlement)
		})
	})

	return r
}
