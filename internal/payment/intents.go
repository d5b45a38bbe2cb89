package payment

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/stripe/stripe-go/v82"
)

type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
}

type IntentRequest struct {
	BookingID uuid.UUID
	UserID    uuid.UUID
	EventID   uuid.UUID
	Amount    int64
	Currency  string
}

type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
}

type StripeProvider struct {
	client *stripe.Client
}

func NewStripeProvider(secretKey string) *StripeProvider {
	return &StripeProvider{client: stripe.NewClient(secretKey)}
}

func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("booking_id", req.BookingID.String())
	params.AddMetadata("user_id", req.UserID.String())
	params.AddMetadata("event_id", req.EventID.String())
	params.SetIdempotencyKey("booking-" + req.BookingID.String())

	pi, err := p.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return Intent{}, err
	}
	return toIntent(pi), nil
}

func (p *StripeProvider) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	pi, err := p.client.V1PaymentIntents.Retrieve(ctx, id, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return Intent{}, err
	}
	return toIntent(pi), nil
}

func toIntent(pi *stripe.PaymentIntent) Intent {
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Amount: pi.Amount, Currency: string(pi.Currency)}
}

type BookingPayments interface {
	Get(ctx context.Context, bookingID, userID uuid.UUID) (domain.Booking, error)
	AttachPaymentIntent(ctx context.Context, bookingID, userID uuid.UUID, paymentID string) (domain.Booking, error)
}

type Intents struct {
	bookings BookingPayments
	provider Provider
	currency string
	logger   observability.Logger
}

func NewIntents(bookings BookingPayments, provider Provider, currency string, logger observability.Logger) *Intents {
	return &Intents{bookings: bookings, provider: provider, currency: currency, logger: logger}
}

type IntentResult struct {
	BookingID    uuid.UUID
	IntentID     string
	ClientSecret string
	Amount       int64
	Currency     string
}

// Create returns a payment intent for a pending booking of the caller,
// reusing the one already attached to the booking when there is one.
func (s *Intents) Create(ctx context.Context, bookingID, userID uuid.UUID) (IntentResult, error) {
	b, err := s.bookings.Get(ctx, bookingID, userID)
	if err != nil {
		return IntentResult{}, err
	}
	if b.Status != domain.StatusPending {
		return IntentResult{}, domain.ErrPaymentNotPending.WithMessagef("booking is %s", b.Status)
	}

	if b.PaymentID != nil {
		intent, err := s.provider.RetrieveIntent(ctx, *b.PaymentID)
		if err != nil {
			return IntentResult{}, s.providerError(err, b)
		}
		return result(b, intent), nil
	}

	intent, err := s.provider.CreateIntent(ctx, IntentRequest{
		BookingID: b.ID,
		UserID:    b.UserID,
		EventID:   b.EventID,
		Amount:    b.MinorAmount(),
		Currency:  s.currency,
	})
	if err != nil {
		return IntentResult{}, s.providerError(err, b)
	}
	if _, err := s.bookings.AttachPaymentIntent(ctx, b.ID, userID, intent.ID); err != nil {
		return IntentResult{}, err
	}
	return result(b, intent), nil
}

func result(b domain.Booking, intent Intent) IntentResult {
	return IntentResult{
		BookingID:    b.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
	}
}

func (s *Intents) providerError(err error, b domain.Booking) error {
	s.logger.WithField("booking_id", b.ID).WithError(err).Error("payment provider request failed")
	return errors.Wrap(domain.ErrPaymentProvider, err.Error())
}
