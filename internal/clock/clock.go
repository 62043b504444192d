// Package clock abstracts time so capture loops, retry timers and
// settle delays can be driven deterministically in tests.
//
// Production code injects Real(); tests inject Fake() and move time
// forward with Advance.
package clock

import (
	"context"
	"time"
)

// Clock is the time source used by every loop and timer in the daemon.
type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. The real clock runs f on its
	// own goroutine; the fake clock runs it synchronously inside Advance.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker panics if d <= 0, like time.NewTicker.
	NewTicker(d time.Duration) *Ticker

	Sleep(d time.Duration)
}

// Ticker delivers ticks on C. C has capacity 1; late ticks are dropped.
type Ticker struct {
	C <-chan time.Time

	stopFn  func()
	resetFn func(time.Duration)
}

// Stop turns off the ticker. C is not closed.
func (t *Ticker) Stop() { t.stopFn() }

// Reset restarts the tick cycle with a new period.
func (t *Ticker) Reset(d time.Duration) { t.resetFn(d) }

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFn  func() bool
	resetFn func(time.Duration) bool
}

// Stop prevents the timer from firing. It reports false when the timer
// already fired or was stopped.
func (t *Timer) Stop() bool { return t.stopFn() }

// Reset reschedules the timer d from now and reports whether it was
// still pending.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFn(d) }

// SleepContext waits for d on c, returning early with ctx.Err() when ctx
// is cancelled first.
func SleepContext(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-c.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
