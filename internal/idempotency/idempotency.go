package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
)

var (
	ErrInFlight = domain.ErrConflict.WithMessage("a request with this idempotency key is still in progress")
	ErrReused   = domain.ErrInvalidInput.WithMessage("idempotency key was used for a different request")
)

// Response is a stored reply to a keyed request.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint"`
}

type Backend interface {
	Get(ctx context.Context, key string) (*Response, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
	// Lock claims key for one in-flight request. It reports false when the
	// key is already held.
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl, lockTTL: 30 * time.Second}
}

// Begin returns the stored response for key if there is one. Otherwise it
// claims the key; the caller must Finish or Abort the claim.
func (i *Idempotency) Begin(ctx context.Context, key, fingerprint string) (*Response, error) {
	if resp, err := i.backend.Get(ctx, key); err != nil {
		return nil, errors.Wrap(err, "idempotency get")
	} else if resp != nil {
		if resp.Fingerprint != fingerprint {
			return nil, ErrReused
		}
		return resp, nil
	}

	ok, err := i.backend.Lock(ctx, key, i.lockTTL)
	if err != nil {
		return nil, errors.Wrap(err, "idempotency lock")
	}
	if !ok {
		return nil, ErrInFlight
	}
	return nil, nil
}

// Finish stores resp and releases the claim.
func (i *Idempotency) Finish(ctx context.Context, key string, resp Response) error {
	if err := i.backend.Set(ctx, key, resp, i.ttl); err != nil {
		_ = i.backend.Unlock(ctx, key)
		return errors.Wrap(err, "idempotency set")
	}
	return i.backend.Unlock(ctx, key)
}

// Abort releases the claim without storing anything, so the key can be retried.
func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.backend.Unlock(ctx, key)
}
