package hooks_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/hooks"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainRunsEveryHookInOrder(t *testing.T) {
	var calls []string
	record := func(name string, err error) hooks.Func {
		return func(ctx context.Context, changes []domain.Change) error {
			calls = append(calls, name)
			return err
		}
	}
	boom := errors.New("mongo down")

	chain := hooks.NewChain(observability.NewNopLogger()).
		Add("audit", record("audit", boom)).
		Add("catalog", record("catalog", nil)).
		Add("skipped", nil).
		Add("panics", hooks.Func(func(context.Context, []domain.Change) error { panic("bad hook") })).
		Add("cache", record("cache", nil))
	require.Equal(t, 4, chain.Len())

	err := chain.AfterCommit(context.Background(), []domain.Change{{Type: domain.ChangeBookingCreated, AggregateID: uuid.New()}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "hook audit")
	assert.Equal(t, []string{"audit", "catalog", "cache"}, calls)
}

func TestChainIgnoresEmptyBatches(t *testing.T) {
	called := false
	chain := hooks.NewChain(observability.NewNopLogger()).
		Add("any", hooks.Func(func(context.Context, []domain.Change) error { called = true; return nil }))

	require.NoError(t, chain.AfterCommit(context.Background(), nil))
	assert.False(t, called)
}
