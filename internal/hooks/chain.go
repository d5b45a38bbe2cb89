package hooks

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings-and-settlements/internal/domain"
	"github.com/robertarktes/event-bookings-and-settlements/internal/observability"
)

// Func adapts a plain function to domain.Hook.
type Func func(ctx context.Context, changes []domain.Change) error

func (f Func) AfterCommit(ctx context.Context, changes []domain.Change) error {
	return f(ctx, changes)
}

type named struct {
	name string
	hook domain.Hook
}

// Chain runs hooks in registration order. A failing hook does not stop
// the ones after it.
type Chain struct {
	hooks  []named
	logger observability.Logger
}

func NewChain(logger observability.Logger) *Chain {
	return &Chain{logger: logger}
}

func (c *Chain) Add(name string, h domain.Hook) *Chain {
	if h != nil {
		c.hooks = append(c.hooks, named{name: name, hook: h})
	}
	return c
}

func (c *Chain) Len() int {
	return len(c.hooks)
}

func (c *Chain) AfterCommit(ctx context.Context, changes []domain.Change) error {
	if len(changes) == 0 {
		return nil
	}
	var combined error
	for _, h := range c.hooks {
		if err := c.run(ctx, h, changes); err != nil {
			c.logger.
				WithField("hook", h.name).
				WithField("change_type", changes[0].Type).
				WithError(err).
				Warn("post-commit hook failed")
			combined = errors.CombineErrors(combined, errors.Wrapf(err, "hook %s", h.name))
		}
	}
	return combined
}

func (c *Chain) run(ctx context.Context, h named, changes []domain.Change) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic: %v", r)
		}
	}()
	return h.hook.AfterCommit(ctx, changes)
}
