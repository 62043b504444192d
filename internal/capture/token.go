// Package capture holds the per-session state shared by the enrollment
// and login flows: the cancellation token and the owned camera handle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCancelled is the cause of a cancelled token's context.
var ErrCancelled = errors.New("capture: session cancelled")

// Token is the cancellation signal of one capture session. Every loop
// iteration and every scheduled callback checks it before doing work
// and before scheduling its successor.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   func() bool

	mu     sync.Mutex
	done   bool
	reason string
	hooks  []func(reason string)
}

// NewToken returns a token that is also cancelled when parent is done.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	t := &Token{ctx: ctx, cancel: cancel}
	t.mu.Lock()
	t.stop = context.AfterFunc(parent, func() {
		t.Cancel("parent context done")
	})
	t.mu.Unlock()
	return t
}

// Cancel sets the token and runs the OnCancel hooks in registration
// order. Only the first call has any effect.
func (t *Token) Cancel(reason string) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.reason = reason
	hooks := t.hooks
	t.hooks = nil
	stop := t.stop
	t.mu.Unlock()

	stop()
	t.cancel(fmt.Errorf("%w: %s", ErrCancelled, reason))
	for _, h := range hooks {
		h(reason)
	}
}

// Cancelled reports whether Cancel has been called.
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Reason returns the reason passed to the first Cancel.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Context is cancelled together with the token. Blocking engine calls
// and delays take it so cancellation interrupts them.
func (t *Token) Context() context.Context { return t.ctx }

// OnCancel registers f to run once when the token is cancelled. If it
// already is, f runs immediately.
func (t *Token) OnCancel(f func(reason string)) {
	t.mu.Lock()
	if !t.done {
		t.hooks = append(t.hooks, f)
		t.mu.Unlock()
		return
	}
	reason := t.reason
	t.mu.Unlock()
	f(reason)
}
