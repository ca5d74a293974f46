package rangering

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// coordinator runs the replicator's background workers.
type coordinator struct {
	controller *controller
	membership *membership
	options    options
	cancel     context.CancelFunc
	group      *errgroup.Group
}

// newCoordinator creates a new coordinator.
func newCoordinator(c *controller, m *membership, opts options) *coordinator {
	return &coordinator{
		controller: c,
		membership: m,
		options:    opts,
	}
}

// start runs one rebalance cycle in the caller's context, then starts the
// periodic workers.
//
// Context handling: the caller's context is used for the first cycle only.
// Workers run on a separate context so that they outlive the call and are
// stopped through the internal cancel function.
func (c *coordinator) start(ctx context.Context) error {
	if err := c.membership.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to load segments: %w", err)
	}
	if err := c.controller.step(ctx); err != nil {
		return fmt.Errorf("failed to run first rebalance: %w", err)
	}

	var workerCtx context.Context
	workerCtx, c.cancel = context.WithCancel(context.Background())
	c.group, workerCtx = errgroup.WithContext(workerCtx)

	c.group.Go(func() error {
		c.every(workerCtx, c.options.controlInterval, "failed to rebalance segment", c.controller.step)
		return nil
	})
	c.group.Go(func() error {
		c.every(workerCtx, c.options.pruneInterval, "failed to prune segments", c.membership.Prune)
		return nil
	})
	if _, ok := c.membership.store.(refresher); ok {
		c.group.Go(func() error {
			c.every(workerCtx, c.options.refreshInterval, "failed to refresh segments", c.membership.Refresh)
			return nil
		})
	}

	return nil
}

// stop halts the workers and waits for the running cycles to finish.
func (c *coordinator) stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.group != nil {
		_ = c.group.Wait()
	}
}

// every calls fn on each tick until ctx is done. Failures are logged and the
// next tick tries again.
func (c *coordinator) every(ctx context.Context, interval time.Duration, msg string, fn func(context.Context) error) {
	if interval <= 0 {
		return
	}

	var ticker = c.options.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := fn(ctx); err != nil {
				c.options.logger.Error(msg, "error", err)
			}
		}
	}
}
