package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/booking"
	"github.com/robertarktes/event-bookings-and-settlements/internal/coupon"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/payment"
	"github.com/robertarktes/event-bookings-and-settlements/internal/settlement"
)

const maxBodyBytes = 1 << 16

type createBookingRequest struct {
	EventID       string `json:"event_id" validate:"required,uuid"`
	BookingName   string `json:"booking_name" validate:"omitempty,max=120"`
	CouponCode    string `json:"coupon_code" validate:"omitempty,max=64"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=wallet card"`
	Notes         string `json:"notes" validate:"omitempty,max=500"`
}

type applyCouponRequest struct {
	EventID string `json:"event_id" validate:"required,uuid"`
	Code    string `json:"code" validate:"required,max=64"`
}

type createIntentRequest struct {
	BookingID string `json:"booking_id" validate:"required,uuid"`
}

type settleRequest struct {
	EventID string `json:"event_id" validate:"required,uuid"`
}

// decode reads a JSON body into dst and validates its struct tags.
func (h *Handlers) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrInvalidInput.WithMessagef("invalid JSON body: %v", err)
	}
	err := h.validate.StructCtx(r.Context(), dst)
	if err == nil {
		return nil
	}
	fields, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.ErrInvalidInput.WithMessage(err.Error())
	}
	msgs := make([]string, len(fields))
	for i, f := range fields {
		msgs[i] = fmt.Sprintf("invalid '%s' (%s)", f.Field(), f.Tag())
	}
	return domain.ErrInvalidInput.WithMessage(strings.Join(msgs, ", "))
}

func parseID(value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidInput.WithMessagef("%q is not a valid id", value)
	}
	return id, nil
}

func pagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit, _ = strconv.Atoi(q.Get("limit"))
	offset, _ = strconv.Atoi(q.Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type bookingResponse struct {
	ID                 uuid.UUID  `json:"id"`
	EventID            uuid.UUID  `json:"event_id"`
	UserID             uuid.UUID  `json:"user_id"`
	BookingName        string     `json:"booking_name"`
	Notes              string     `json:"notes,omitempty"`
	TotalPrice         int64      `json:"total_price"`
	Status             string     `json:"status"`
	IsBookingCancelled bool       `json:"is_booking_cancelled"`
	PaymentMethod      string     `json:"payment_method"`
	PaymentID          *string    `json:"payment_id,omitempty"`
	PaymentDate        *time.Time `json:"payment_date,omitempty"`
	CouponID           *uuid.UUID `json:"coupon_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toBookingResponse(b domain.Booking) bookingResponse {
	return bookingResponse{
		ID:                 b.ID,
		EventID:            b.EventID,
		UserID:             b.UserID,
		BookingName:        b.BookingName,
		Notes:              b.Notes,
		TotalPrice:         b.TotalPrice,
		Status:             string(b.Status),
		IsBookingCancelled: b.IsBookingCancelled(),
		PaymentMethod:      string(b.PaymentMethod),
		PaymentID:          b.PaymentID,
		PaymentDate:        b.PaymentDate,
		CouponID:           b.CouponID,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}
}

type ticketResponse struct {
	BookingID   uuid.UUID  `json:"booking_id"`
	ReferenceID string     `json:"reference_id"`
	BookingName string     `json:"booking_name"`
	EventID     uuid.UUID  `json:"event_id"`
	EventTitle  string     `json:"event_title"`
	EventDate   string     `json:"event_date"`
	TotalPrice  int64      `json:"total_price"`
	PaymentDate *time.Time `json:"payment_date,omitempty"`
	IssuedAt    time.Time  `json:"issued_at"`
}

func toTicketResponse(t booking.Ticket) ticketResponse {
	return ticketResponse{
		BookingID:   t.BookingID,
		ReferenceID: t.ReferenceID,
		BookingName: t.BookingName,
		EventID:     t.EventID,
		EventTitle:  t.EventTitle,
		EventDate:   t.EventDate.Format("2006-01-02"),
		TotalPrice:  t.TotalPrice,
		PaymentDate: t.PaymentDate,
		IssuedAt:    t.IssuedAt,
	}
}

type quoteResponse struct {
	Code          string `json:"code"`
	OriginalPrice int64  `json:"original_price"`
	Discount      int64  `json:"discount"`
	FinalPrice    int64  `json:"final_price"`
}

func toQuoteResponse(q coupon.Quote) quoteResponse {
	return quoteResponse{Code: q.Code, OriginalPrice: q.OriginalPrice, Discount: q.Discount, FinalPrice: q.FinalPrice}
}

type intentResponse struct {
	BookingID    uuid.UUID `json:"booking_id"`
	ClientSecret string    `json:"client_secret"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
}

func toIntentResponse(res payment.IntentResult) intentResponse {
	return intentResponse{BookingID: res.BookingID, ClientSecret: res.ClientSecret, Amount: res.Amount, Currency: res.Currency}
}

type settlementResponse struct {
	EventID        uuid.UUID `json:"event_id"`
	EventTitle     string    `json:"event_title"`
	TotalRevenue   int64     `json:"total_revenue"`
	OrganizerShare int64     `json:"organizer_share"`
	PlatformFee    int64     `json:"platform_fee"`
	SettlementDate time.Time `json:"settlement_date"`
}

func toSettlementResponse(res settlement.Result) settlementResponse {
	return settlementResponse{
		EventID:        res.EventID,
		EventTitle:     res.EventTitle,
		TotalRevenue:   res.TotalRevenue,
		OrganizerShare: res.OrganizerShare,
		PlatformFee:    res.PlatformFee,
		SettlementDate: res.SettlementDate,
	}
}

type settleableEventResponse struct {
	EventID        uuid.UUID `json:"event_id"`
	EventTitle     string    `json:"event_title"`
	EventDate      string    `json:"event_date"`
	OrganizerID    uuid.UUID `json:"organizer_id"`
	SettleableFrom string    `json:"settleable_from"`
}

type walletResponse struct {
	Kind    string    `json:"kind"`
	OwnerID uuid.UUID `json:"owner_id"`
	Balance int64     `json:"balance"`
}

func toWalletResponse(w domain.Wallet) walletResponse {
	return walletResponse{Kind: string(w.Kind), OwnerID: w.OwnerID, Balance: w.Balance}
}

type walletTransactionResponse struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	Amount      int64      `json:"amount"`
	ReferenceID string     `json:"reference_id"`
	EventID     *uuid.UUID `json:"event_id,omitempty"`
	BookingID   *uuid.UUID `json:"booking_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toWalletTransactionResponse(t domain.WalletTransaction) walletTransactionResponse {
	return walletTransactionResponse{
		ID:          t.ID,
		Type:        string(t.Type),
		Amount:      t.Amount,
		ReferenceID: t.ReferenceID,
		EventID:     t.EventID,
		BookingID:   t.BookingID,
		CreatedAt:   t.CreatedAt,
	}
}
