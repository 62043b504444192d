package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. Time stands still until
// Advance is called; pending timers, tickers and sleeps fire in deadline
// order when the clock moves past them.
//
// AfterFunc callbacks run synchronously inside Advance. A callback may
// schedule further timers, but must not call Advance or Sleep.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time // After, Sleep, tickers
	fn       func()         // AfterFunc
	period   time.Duration  // tickers only
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc runs f synchronously when d <= 0.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{
			stopFn:  func() bool { return false },
			resetFn: func(time.Duration) bool { return false },
		}
	}

	c.mu.Lock()
	w := &waiter{deadline: c.now.Add(d), fn: f}
	c.addLocked(w)
	c.mu.Unlock()

	return &Timer{
		stopFn: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if w.stopped || w.fired {
				return false
			}
			w.stopped = true
			c.removeLocked(w)
			return true
		},
		resetFn: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			active := !w.stopped && !w.fired
			w.stopped, w.fired = false, false
			w.deadline = c.now.Add(d)
			if !active {
				c.addLocked(w)
			}
			return active
		},
	}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &waiter{deadline: c.now.Add(d), ch: ch, period: d}
	c.addLocked(w)

	return &Ticker{
		C: ch,
		stopFn: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if !w.stopped {
				w.stopped = true
				c.removeLocked(w)
			}
		},
		resetFn: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.period = d
			w.deadline = c.now.Add(d)
			if w.stopped {
				w.stopped = false
				c.addLocked(w)
			}
		},
	}
}

func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires everything due in
// deadline order, including timers scheduled by callbacks that fall
// inside the window. While a waiter fires, Now reports its deadline.
// Ticker sends never block; a ticker spanning several periods fires
// once per period and overflowing ticks are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		w, at, ok := c.next(target)
		if !ok {
			return
		}
		if w.fn != nil {
			w.fn()
			continue
		}
		select {
		case w.ch <- at:
		default:
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending. Use it to
// avoid racing a goroutine that is about to register a timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// Pending returns the number of active waiters.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) addLocked(w *waiter) {
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

func (c *FakeClock) removeLocked(w *waiter) {
	for i, x := range c.waiters {
		if x == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// next pops the earliest waiter due at or before target and moves the
// clock to its deadline. Tickers are rescheduled one period later. When
// nothing is due the clock is set to target.
func (c *FakeClock) next(target time.Time) (*waiter, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first *waiter
	for _, w := range c.waiters {
		if w.stopped || w.deadline.After(target) {
			continue
		}
		if first == nil || w.deadline.Before(first.deadline) {
			first = w
		}
	}
	if first == nil {
		if target.After(c.now) {
			c.now = target
		}
		return nil, time.Time{}, false
	}

	at := first.deadline
	if at.After(c.now) {
		c.now = at
	}
	if first.period > 0 {
		first.deadline = first.deadline.Add(first.period)
	} else {
		first.fired = true
		c.removeLocked(first)
	}
	return first, at, true
}
