package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/robertarktes/event-bookings-and-settlements/internal/booking"
	"github.com/robertarktes/event-bookings-and-settlements/internal/coupon"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/inventory"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/robertarktes/event-bookings-and-settlements/internal/payment"
	"github.com/robertarktes/event-bookings-and-settlements/internal/settlement"
	"github.com/robertarktes/event-bookings-and-settlements/internal/wallet"
)

// ReadyCheck reports whether one dependency can serve traffic.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Bookings     *booking.Service
	Coupons      *coupon.Applier
	Wallets      *wallet.Ledger
	Settlements  *settlement.Engine
	Intents      *payment.Intents
	Verifier     *payment.Verifier
	Webhooks     payment.Sink
	Availability *inventory.Projector
	Ready        []ReadyCheck
	Logger       observability.Logger
	Clock        func() time.Time
}

type Handlers struct {
	Deps
	validate *validator.Validate
}

func NewHandlers(d Deps) *Handlers {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	return &Handlers{Deps: d, validate: validator.New()}
}

func identity(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	eventID, err := parseID(req.EventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	caller := identity(r)

	b, err := h.Bookings.Create(r.Context(), booking.CreateRequest{
		EventID:       eventID,
		UserID:        caller.UserID,
		UserName:      caller.Name,
		BookingName:   req.BookingName,
		CouponCode:    req.CouponCode,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Notes:         req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"booking": toBookingResponse(b)})
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.Bookings.Cancel(r.Context(), id, identity(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"booking": toBookingResponse(b)})
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.Bookings.Get(r.Context(), id, identity(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"booking": toBookingResponse(b)})
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	list, err := h.Bookings.ListForUser(r.Context(), identity(r).UserID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": out, "limit": limit, "offset": offset})
}

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.Bookings.TicketSnapshot(r.Context(), id, identity(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ticket": toTicketResponse(t)})
}

func (h *Handlers) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req applyCouponRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	eventID, err := parseID(req.EventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.Coupons.Quote(r.Context(), identity(r).UserID, eventID, req.Code, h.Clock())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"quote": toQuoteResponse(q)})
}

func (h *Handlers) EventAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.Availability.Availability(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	bookingID, err := parseID(req.BookingID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Intents.Create(r.Context(), bookingID, identity(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntentResponse(res))
}

// PaymentWebhook verifies the provider signature before anything else and
// hands actionable events to the configured sink.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, domain.ErrMalformedPayload.WithMessage("unreadable body"))
		return
	}
	ev, err := h.Verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		observability.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		writeError(w, r, err)
		return
	}
	if !ev.Actionable() {
		observability.WebhookEvents.WithLabelValues(ev.ProviderType, "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if err := h.Webhooks.Dispatch(r.Context(), ev); err != nil {
		if !payment.Unresolvable(err) {
			writeError(w, r, err)
			return
		}
		// a retry cannot fix an unknown intent or a wrong amount
		h.Logger.
			WithField("provider_event", ev.ID).
			WithField("intent_id", ev.IntentID).
			WithError(err).
			Error("acknowledging payment event that cannot be applied")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handlers) SettleEvent(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	eventID, err := parseID(req.EventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Settlements.Settle(r.Context(), eventID, h.Clock())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(res))
}

func (h *Handlers) PreviewSettlement(w http.ResponseWriter, r *http.Request) {
	eventID, err := parseID(chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Settlements.Preview(r.Context(), eventID, h.Clock())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementResponse(res))
}

func (h *Handlers) SettleableEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Settlements.ListSettleable(r.Context(), h.Clock())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]settleableEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, settleableEventResponse{
			EventID:        ev.ID,
			EventTitle:     ev.Title,
			EventDate:      ev.Date.Format("2006-01-02"),
			OrganizerID:    ev.OrganizerID,
			SettleableFrom: h.Settlements.SettleableFrom(ev).Format("2006-01-02"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func (h *Handlers) wallet(kind domain.WalletKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wl, err := h.Wallets.Balance(r.Context(), kind, identity(r).UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toWalletResponse(wl))
	}
}

func (h *Handlers) walletTransactions(kind domain.WalletKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r)
		txs, err := h.Wallets.Transactions(r.Context(), kind, identity(r).UserID, limit, offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		out := make([]walletTransactionResponse, 0, len(txs))
		for _, t := range txs {
			out = append(out, toWalletTransactionResponse(t))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": out, "limit": limit, "offset": offset})
	}
}

func (h *Handlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	t, err := h.Wallets.WithdrawAll(r.Context(), identity(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transaction": toWalletTransactionResponse(t)})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, c := range h.Ready {
		if err := c.Check(ctx); err != nil {
			failed[c.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
