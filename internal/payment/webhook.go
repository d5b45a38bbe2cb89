package payment

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
)

// Event is a verified provider notification reduced to what reconciliation needs.
type Event struct {
	ID           string            `json:"id"`
	ProviderType string            `json:"provider_type"`
	Outcome      Outcome           `json:"outcome"`
	IntentID     string            `json:"intent_id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (e Event) Actionable() bool {
	return e.Outcome == OutcomeSucceeded || e.Outcome == OutcomeFailed
}

type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Verify authenticates payload against the Stripe-Signature header and
// decodes it. Nothing is trusted before the signature checks out.
func (v *Verifier) Verify(payload []byte, header string) (Event, error) {
	if v.secret == "" || header == "" {
		return Event{}, domain.ErrWebhookSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance); err != nil {
		return Event{}, errors.Wrap(domain.ErrWebhookSignature, err.Error())
	}

	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return Event{}, errors.Wrap(domain.ErrMalformedPayload, err.Error())
	}
	ev := Event{ID: se.ID, ProviderType: string(se.Type), Outcome: OutcomeIgnored}
	switch se.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		ev.Outcome = OutcomeSucceeded
	case stripe.EventTypePaymentIntentPaymentFailed:
		ev.Outcome = OutcomeFailed
	default:
		return ev, nil
	}

	if se.Data == nil || len(se.Data.Raw) == 0 {
		return Event{}, domain.ErrMalformedPayload.WithMessage("event carries no payment intent")
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(se.Data.Raw, &pi); err != nil {
		return Event{}, errors.Wrap(domain.ErrMalformedPayload, err.Error())
	}
	if pi.ID == "" {
		return Event{}, domain.ErrMalformedPayload.WithMessage("payment intent id is missing")
	}
	ev.IntentID = pi.ID
	ev.Amount = pi.Amount
	ev.Currency = string(pi.Currency)
	ev.Metadata = pi.Metadata
	return ev, nil
}
