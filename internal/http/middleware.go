package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/idempotency"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := logger.WithField("request_id", middleware.GetReqID(r.Context()))
			ctx := observability.WithLogger(r.Context(), entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := otel.Tracer("http").Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MetricsMiddleware counts requests by route pattern, status and method.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(status), r.Method).Inc()
	})
}

type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error)
}

type RateLimits struct {
	PerUser int
	PerIP   int
	Period  time.Duration
}

type limitKey struct {
	key  string
	rate int
}

// RateLimitMiddleware applies the per-user and per-IP windows. Limiter
// failures let the request through.
func RateLimitMiddleware(rl Limiter, limits RateLimits) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			keys := []limitKey{{"ip:" + clientIP(r), limits.PerIP}}
			if id, ok := IdentityFrom(ctx); ok {
				keys = append(keys, limitKey{"user:" + id.UserID.String(), limits.PerUser})
			}

			for _, k := range keys {
				allowed, err := rl.Allow(ctx, k.key, k.rate, limits.Period)
				if err != nil {
					observability.FromContext(ctx, observability.NewNopLogger()).WithError(err).Warn("rate limiter unavailable")
					continue
				}
				if !allowed {
					observability.RateLimitExceeded.Inc()
					w.Header().Set("Retry-After", strconv.Itoa(int(limits.Period.Seconds())))
					writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "rate_limited"})
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP drops the port RemoteAddr carries unless RealIP replaced it.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rec *recorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	rec.body.Write(b)
	return rec.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a POST carrying an
// Idempotency-Key the caller already used. Keys are scoped per user.
func IdempotencyMiddleware(idem *idempotency.Idempotency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				writeError(w, r, domain.ErrInvalidInput.WithMessage("Idempotency-Key is too long"))
				return
			}
			if id, ok := IdentityFrom(r.Context()); ok {
				key = id.UserID.String() + ":" + key
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, r, domain.ErrMalformedPayload.WithMessage("unreadable body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			sum := sha256.Sum256(append([]byte(r.Method+" "+r.URL.Path+"\n"), body...))
			fingerprint := hex.EncodeToString(sum[:])

			ctx := r.Context()
			stored, err := idem.Begin(ctx, key, fingerprint)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if stored != nil {
				w.Header().Set("Content-Type", stored.ContentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			log := observability.FromContext(ctx, observability.NewNopLogger())
			bg := context.WithoutCancel(ctx)
			if rec.status >= http.StatusInternalServerError || rec.status == 0 {
				if err := idem.Abort(bg, key); err != nil {
					log.WithError(err).Warn("failed to release idempotency key")
				}
				return
			}
			resp := idempotency.Response{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
				Fingerprint: fingerprint,
			}
			if err := idem.Finish(bg, key, resp); err != nil {
				log.WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}
