package filter

import (
	"context"
	"errors"
	"sync"

	"billtrack/internal/core"
	"billtrack/internal/log"
)

// Fetcher reloads the bill list for a filter.
type Fetcher interface {
	Fetch(ctx context.Context, s State) error
}

// Controller owns the current filter. Every change issues exactly one fetch;
// responses overtaken by a newer fetch are dropped by the fetcher.
type Controller struct {
	fetcher Fetcher
	logger  *log.Logger

	mu    sync.Mutex
	state State
}

func NewController(fetcher Fetcher, initial State, logger *log.Logger) *Controller {
	return &Controller{
		fetcher: fetcher,
		logger:  logger.WithComponent(log.ComponentFilter),
		state:   initial.Normalized(),
	}
}

// State returns the current filter.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetTypes replaces the type selection and prunes categories no selected
// type owns.
func (c *Controller) SetTypes(ctx context.Context, types ...core.BillType) error {
	return c.update(ctx, func(s State) State {
		s.Types = types
		return s.Normalized().PruneCategories()
	})
}

// SetCategories replaces the category selection.
func (c *Controller) SetCategories(ctx context.Context, categories ...string) error {
	return c.update(ctx, func(s State) State {
		s.Categories = categories
		return s
	})
}

// SetRange replaces the inclusive date range.
func (c *Controller) SetRange(ctx context.Context, start, end core.Date) error {
	return c.update(ctx, func(s State) State {
		s.Start, s.End = start, end
		return s
	})
}

// Set replaces the whole filter.
func (c *Controller) Set(ctx context.Context, s State) error {
	return c.update(ctx, func(State) State { return s })
}

// Refresh re-runs the current filter.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.update(ctx, func(s State) State { return s })
}

func (c *Controller) update(ctx context.Context, fn func(State) State) error {
	c.mu.Lock()
	c.state = fn(c.state).Normalized()
	s := c.state
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "Filter changed", log.FieldQuery, Query(s).Encode())

	err := c.fetcher.Fetch(ctx, s)
	if errors.Is(err, core.ErrStale) {
		return nil
	}
	return err
}
