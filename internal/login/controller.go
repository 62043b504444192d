package login

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-faceid/internal/capture"
	"github.com/e7canasta/orion-faceid/internal/clock"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/feedback"
	"github.com/e7canasta/orion-faceid/internal/retry"
)

// MaxAttempts is the default attempt ceiling.
const MaxAttempts = 6

// ErrExhausted matches every *ExhaustedError.
var ErrExhausted = errors.New("login: authentication attempts exhausted")

// ExhaustedError is the terminal failure after the last attempt.
type ExhaustedError struct {
	Attempts    int
	Diagnostics *engine.Diagnostics
	LastErr     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("login: not recognized after %d attempts", e.Attempts)
}

func (e *ExhaustedError) Unwrap() error { return ErrExhausted }

// Message is the terminal text for the user, with diagnostics when the
// engine supplied any.
func (e *ExhaustedError) Message() string {
	if d := e.Diagnostics; d != nil {
		return fmt.Sprintf("Face not recognized after %d attempts (best score %.2f, best distance %.2f, %d detections)",
			e.Attempts, d.BestScore, d.BestDistance, d.DetectionCount)
	}
	return fmt.Sprintf("Face not recognized after %d attempts. Make sure you are registered, face the camera in good light and try again", e.Attempts)
}

// AttemptState is the retry bookkeeping of one login session.
type AttemptState struct {
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	NextDelay   time.Duration `json:"next_delay"`
}

// Outcome is the terminal result of a Controller.
type Outcome struct {
	Authenticated bool
	User          *engine.Identity
	Attempts      int
	// Err is an *ExhaustedError or wraps capture.ErrCancelled.
	Err error
}

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	Engine      engine.Engine
	Session     *capture.Session
	Clock       clock.Clock
	Feedback    feedback.Reporter
	MaxAttempts int
	// Backoff returns the wait after failed attempt n.
	Backoff func(n int) time.Duration
}

// Controller issues bounded, backed-off authentication attempts. Each
// retry is an independent timer whose callback checks the session token
// before doing anything.
type Controller struct {
	cfg ControllerConfig

	mu       sync.Mutex
	state    AttemptState
	timer    *clock.Timer
	finished bool
	diag     *engine.Diagnostics
	lastErr  error

	authenticated atomic.Bool
	done          chan Outcome
}

// NewController returns an idle controller.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Feedback == nil {
		cfg.Feedback = feedback.Discard
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxAttempts
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.Backoff
	}
	return &Controller{
		cfg:   cfg,
		state: AttemptState{MaxAttempts: cfg.MaxAttempts},
		done:  make(chan Outcome, 1),
	}
}

// Start schedules the first attempt and arranges for cancellation of
// the session token to end the controller.
func (c *Controller) Start() {
	c.cfg.Session.Token.OnCancel(func(reason string) {
		c.finish(Outcome{Err: fmt.Errorf("login: %w (%s)", capture.ErrCancelled, reason)})
	})
	c.cfg.Clock.AfterFunc(0, func() { c.attempt(1) })
}

// Done delivers the single terminal outcome.
func (c *Controller) Done() <-chan Outcome { return c.done }

// Authenticated reports whether an attempt succeeded.
func (c *Controller) Authenticated() bool { return c.authenticated.Load() }

// State returns a copy of the attempt bookkeeping.
func (c *Controller) State() AttemptState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) attempt(n int) {
	sess := c.cfg.Session

	c.mu.Lock()
	if c.finished || sess.Token.Cancelled() || n > c.cfg.MaxAttempts {
		c.mu.Unlock()
		return
	}
	c.state.Attempt = n
	c.state.NextDelay = 0
	c.mu.Unlock()

	slog.Info("login: authentication attempt",
		"session_id", sess.ID,
		"attempt", n,
		"max_attempts", c.cfg.MaxAttempts,
	)

	res, err := c.cfg.Engine.AuthenticateUser(sess.Token.Context(), sess)
	if sess.Token.Cancelled() {
		return
	}

	if err == nil && res != nil && res.Authenticated {
		slog.Info("login: authenticated", "session_id", sess.ID, "attempt", n)
		c.finish(Outcome{Authenticated: true, User: res.User, Attempts: n})
		return
	}

	c.record(res, err)
	if err != nil {
		slog.Warn("login: attempt failed", "session_id", sess.ID, "attempt", n, "error", err)
	}

	if n >= c.cfg.MaxAttempts {
		c.mu.Lock()
		exhausted := &ExhaustedError{Attempts: n, Diagnostics: c.diag, LastErr: c.lastErr}
		c.mu.Unlock()
		slog.Warn("login: attempts exhausted", "session_id", sess.ID, "attempts", n)
		c.finish(Outcome{Attempts: n, Err: exhausted})
		return
	}

	delay := c.cfg.Backoff(n)

	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.state.NextDelay = delay
	c.timer = c.cfg.Clock.AfterFunc(delay, func() { c.attempt(n + 1) })
	c.mu.Unlock()

	c.cfg.Feedback.Report(feedback.Message{
		Kind: feedback.KindStatus,
		Text: fmt.Sprintf("Not recognized yet, retrying (%d/%d)", n+1, c.cfg.MaxAttempts),
	})
}

// record folds the engine's diagnostics into the running best.
func (c *Controller) record(res *engine.AuthResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.lastErr = err
		return
	}
	if res == nil || res.Diagnostics == nil {
		return
	}
	d := res.Diagnostics
	if c.diag == nil {
		cp := *d
		c.diag = &cp
		return
	}
	if d.BestScore > c.diag.BestScore {
		c.diag.BestScore = d.BestScore
	}
	if d.BestDistance > 0 && (c.diag.BestDistance == 0 || d.BestDistance < c.diag.BestDistance) {
		c.diag.BestDistance = d.BestDistance
	}
	c.diag.DetectionCount += d.DetectionCount
}

// finish delivers the outcome once. Later calls are no-ops, so a late
// callback after success cannot re-trigger anything.
func (c *Controller) finish(out Outcome) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	if out.Authenticated {
		c.authenticated.Store(true)
	}
	c.done <- out
}
