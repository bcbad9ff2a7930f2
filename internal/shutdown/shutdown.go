// Package shutdown coordinates graceful teardown of the service's
// components. Components register a stop function; on shutdown they
// run in reverse registration order so later components (which depend
// on earlier ones) stop first.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StopFunc stops one component. It must respect the context deadline
// and return ctx.Err() if it cannot finish in time.
type StopFunc func(ctx context.Context) error

type entry struct {
	name string
	stop StopFunc
}

// Coordinator runs registered stop functions in LIFO order.
type Coordinator struct {
	entries []entry
	logger  *slog.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger: logger.With(slog.String("component", "shutdown")),
	}
}

// Register adds a named stop function. Registration order matters:
// the last registered component is stopped first.
func (c *Coordinator) Register(name string, stop StopFunc) {
	c.entries = append(c.entries, entry{name: name, stop: stop})
}

// Shutdown stops every registered component, continuing past
// individual failures, and returns the first error encountered. The
// context deadline bounds the whole sequence.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.logger.Info("starting coordinated shutdown",
		slog.Int("components", len(c.entries)),
	)

	var firstErr error
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]

		if err := ctx.Err(); err != nil {
			c.logger.Error("shutdown deadline exceeded",
				slog.String("remaining_component", e.name),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown deadline exceeded at %s: %w", e.name, err)
			}
			return firstErr
		}

		start := time.Now()
		if err := e.stop(ctx); err != nil {
			c.logger.Error("component shutdown failed",
				slog.String("handler", e.name),
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to shutdown %s: %w", e.name, err)
			}
			continue
		}
		c.logger.Debug("component shutdown complete",
			slog.String("handler", e.name),
			slog.Duration("duration", time.Since(start)),
		)
	}

	if firstErr == nil {
		c.logger.Info("coordinated shutdown complete")
	}
	return firstErr
}
