// Package poll provides the throttled, cancellable polling primitives
// the capture flows use to query the recognition engine.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-faceid/internal/clock"
)

// ErrStopped is returned when the owning session stops being live.
var ErrStopped = errors.New("poll: session no longer live")

// Throttle admits one of every Interval ticks.
type Throttle struct {
	Interval int

	mu    sync.Mutex
	ticks int
}

// NewThrottle returns a throttle admitting every interval-th tick.
func NewThrottle(interval int) *Throttle {
	return &Throttle{Interval: interval}
}

// Due counts a tick and reports whether it should issue a query.
func (t *Throttle) Due() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticks++
	if t.Interval <= 1 {
		return true
	}
	return t.ticks%t.Interval == 0
}

// Reset zeroes the tick counter.
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.ticks = 0
	t.mu.Unlock()
}

// Loop is a continuous polling loop scheduled by a clock ticker. Each
// tick first checks Alive and stops rescheduling once it is false;
// throttled ticks are no-ops.
type Loop struct {
	Name     string
	Clock    clock.Clock
	Period   time.Duration
	Throttle *Throttle
	Alive    func() bool
	Query    func(ctx context.Context)

	ticks   atomic.Uint64
	queries atomic.Uint64
}

// Tick runs one scheduling step. It returns false when the loop should
// stop.
func (l *Loop) Tick(ctx context.Context) bool {
	if !l.Alive() || ctx.Err() != nil {
		return false
	}
	if l.Throttle == nil || l.Throttle.Due() {
		l.queries.Add(1)
		l.Query(ctx)
	}
	l.ticks.Add(1)
	return true
}

// Run ticks until the session dies or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.Clock.NewTicker(l.Period)
	defer ticker.Stop()

	slog.Debug("poll: loop started", "loop", l.Name, "period", l.Period)
	defer func() {
		slog.Debug("poll: loop stopped",
			"loop", l.Name,
			"ticks", l.ticks.Load(),
			"queries", l.queries.Load(),
		)
	}()

	for {
		if !l.Tick(ctx) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ticks returns how many live ticks ran.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Queries returns how many ticks issued a query.
func (l *Loop) Queries() uint64 { return l.queries.Load() }

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Attempts polls body up to max times, sleeping delay between polls.
// It stops early when body reports done. Liveness is checked before
// every poll and after every sleep; a dead session returns ErrStopped.
// It returns the number of polls made.
func Attempts(ctx context.Context, max int, delay time.Duration, sleep SleepFunc, alive func() bool, body func(ctx context.Context, attempt int) bool) (int, bool, error) {
	for n := 1; n <= max; n++ {
		if !alive() {
			return n - 1, false, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return n - 1, false, err
		}
		if body(ctx, n) {
			return n, true, nil
		}
		if n == max {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return n, false, err
		}
	}
	return max, false, nil
}
