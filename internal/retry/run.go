package retry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-faceid/internal/clock"
)

// Func is one attempt. A nil return ends the loop.
type Func func(ctx context.Context) error

// Run calls fn until it succeeds, ctx is cancelled, or MaxRetries
// failures have been waited out. Waits follow e.Delay on clk.
func Run(ctx context.Context, clk clock.Clock, e Exponential, name string, fn Func) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if failures > 0 {
				slog.Info("retry: recovered", "op", name, "failures", failures)
			}
			return nil
		}

		failures++
		if failures > e.MaxRetries {
			return fmt.Errorf("%s: max retries exceeded (%d attempts): %w", name, e.MaxRetries, err)
		}

		delay := e.Delay(failures)
		slog.Warn("retry: attempt failed",
			"op", name,
			"attempt", failures,
			"max_retries", e.MaxRetries,
			"delay", delay,
			"error", err,
		)

		if err := clock.SleepContext(ctx, clk, delay); err != nil {
			return err
		}
	}
}
