package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/capture"
	"github.com/e7canasta/orion-faceid/internal/clock"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/enroll"
	"github.com/e7canasta/orion-faceid/internal/feedback"
	"github.com/e7canasta/orion-faceid/internal/login"
	"github.com/e7canasta/orion-faceid/internal/render"
)

var (
	ErrNoSession = errors.New("session: no active session")
	ErrClosed    = errors.New("session: lifecycle closed")
)

// LoginSettings configures the login flow.
type LoginSettings struct {
	MaxAttempts    int
	Backoff        func(n int) time.Duration
	SampleInterval int
	FramePeriod    time.Duration
}

// Config wires a Lifecycle.
type Config struct {
	Engine   engine.Engine
	Gate     *engine.Gate
	Camera   *camera.Manager
	Clock    clock.Clock
	Events   Events
	Feedback feedback.Reporter
	Timing   enroll.Timing
	Login    LoginSettings
	// Sinks builds the video and overlay sinks of a new session.
	Sinks func() (camera.Sink, render.Surface)
}

// Status is a snapshot for health and control responses.
type Status struct {
	Active      bool                `json:"active"`
	SessionID   string              `json:"session_id,omitempty"`
	Mode        capture.Mode        `json:"mode,omitempty"`
	Stage       string              `json:"stage,omitempty"`
	Attempt     *login.AttemptState `json:"attempt,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	ModelsReady bool                `json:"models_ready"`
	Sessions    uint64              `json:"sessions"`
	Camera      camera.ManagerStats `json:"camera"`
	LastEvent   *Event              `json:"last_event,omitempty"`
}

// run is the bookkeeping of one session.
type run struct {
	sess     *capture.Session
	handle   *camera.Handle
	released chan struct{} // closed once the camera is released
	done     chan struct{}

	mu    sync.Mutex
	stage string
	ctrl  *login.Controller
	event *Event
}

func (r *run) setStage(s string) {
	r.mu.Lock()
	r.stage = s
	r.mu.Unlock()
}

func (r *run) finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.event != nil
}

// Lifecycle runs at most one capture session at a time. It owns every
// session token and is the only caller of camera.Manager.Release: the
// release is hooked to the token, so it happens exactly once however
// the session ends.
type Lifecycle struct {
	cfg  Config
	gate *engine.Gate
	clk  clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	startMu sync.Mutex

	mu      sync.Mutex
	current *run
	last    *Event
	closed  bool

	sessions atomic.Uint64
}

// New validates cfg and returns an idle lifecycle.
func New(cfg Config) (*Lifecycle, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("session: engine is required")
	}
	if cfg.Camera == nil {
		return nil, fmt.Errorf("session: camera manager is required")
	}
	if cfg.Gate == nil {
		cfg.Gate = engine.NewGate(cfg.Engine)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents{}
	}
	if cfg.Feedback == nil {
		cfg.Feedback = feedback.Log()
	}
	if cfg.Timing.MaxAttempts <= 0 {
		cfg.Timing = enroll.DesktopTiming()
	}
	if cfg.Sinks == nil {
		cfg.Sinks = func() (camera.Sink, render.Surface) {
			return render.NewVideoSink(), render.NewCanvas()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Lifecycle{
		cfg:    cfg,
		gate:   cfg.Gate,
		clk:    cfg.Clock,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Gate returns the model gate.
func (l *Lifecycle) Gate() *engine.Gate { return l.gate }

// StartEnrollment starts a guided enrollment for form.
func (l *Lifecycle) StartEnrollment(ctx context.Context, form enroll.Form) (*capture.Session, error) {
	return l.start(ctx, capture.ModeEnrollment, func(r *run) { l.runEnrollment(r, form) })
}

// StartLogin starts a face login.
func (l *Lifecycle) StartLogin(ctx context.Context) (*capture.Session, error) {
	return l.start(ctx, capture.ModeLogin, l.runLogin)
}

func (l *Lifecycle) start(ctx context.Context, mode capture.Mode, flow func(*run)) (*capture.Session, error) {
	l.startMu.Lock()
	defer l.startMu.Unlock()

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := l.gate.Ensure(ctx); err != nil {
		l.publish(l.failure("", mode, err))
		return nil, err
	}

	if err := l.teardown(ctx, "superseded by new "+string(mode)+" session"); err != nil {
		return nil, err
	}

	video, overlay := l.cfg.Sinks()
	h, err := l.cfg.Camera.Acquire(ctx, video)
	if err != nil {
		l.publish(l.failure("", mode, err))
		return nil, fmt.Errorf("session: acquire camera: %w", err)
	}
	if rs, ok := overlay.(interface{ Resize(width, height int) }); ok {
		rs.Resize(h.Render().Width, h.Render().Height)
	}

	sess := &capture.Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		Token:     capture.NewToken(l.ctx),
		Camera:    h,
		Video:     video,
		Overlay:   overlay,
		StartedAt: l.clk.Now(),
	}
	r := &run{
		sess:     sess,
		handle:   h,
		released: make(chan struct{}),
		done:     make(chan struct{}),
		stage:    "started",
	}
	sess.Token.OnCancel(func(reason string) { l.release(r, reason) })

	l.mu.Lock()
	l.current = r
	l.mu.Unlock()
	l.sessions.Add(1)

	slog.Info("session: started",
		"session_id", sess.ID,
		"mode", mode,
		"handle", h.ID(),
	)

	go func() {
		defer close(r.done)
		flow(r)
	}()
	return sess, nil
}

func (l *Lifecycle) release(r *run, reason string) {
	defer close(r.released)
	if err := l.cfg.Camera.Release(r.handle); err != nil {
		slog.Warn("session: camera release failed",
			"session_id", r.sess.ID,
			"error", err,
		)
	}
	slog.Info("session: camera released", "session_id", r.sess.ID, "reason", reason)
}

func (l *Lifecycle) runEnrollment(r *run, form enroll.Form) {
	sess := r.sess
	seq := enroll.NewSequencer(l.cfg.Engine, l.cfg.Timing, feedback.WithSession(l.cfg.Feedback, sess.ID))
	seq.OnStage = func(s enroll.Stage) { r.setStage(string(s)) }

	res, err := seq.Run(sess, form)

	if err != nil {
		sess.Token.Cancel("enrollment failed")
		ev := l.failure(sess.ID, sess.Mode, err)
		ev.Poses = res.Poses
		l.finish(r, ev)
		return
	}

	sess.Token.Cancel("enrollment complete")
	ev := Event{
		Type:      EventRegistrationSucceeded,
		SessionID: sess.ID,
		Mode:      sess.Mode,
		User:      res.Identity,
		Poses:     res.Poses,
		Timestamp: l.clk.Now(),
	}
	if res.Degraded() {
		ev.Warnings = []Category{CategoryPoseTimeout}
		ev.Message = Message(CategoryPoseTimeout, nil)
	}
	l.finish(r, ev)
}

func (l *Lifecycle) runLogin(r *run) {
	sess := r.sess
	fb := feedback.WithSession(l.cfg.Feedback, sess.ID)

	ctrl := login.NewController(login.ControllerConfig{
		Engine:      l.cfg.Engine,
		Session:     sess,
		Clock:       l.clk,
		Feedback:    fb,
		MaxAttempts: l.cfg.Login.MaxAttempts,
		Backoff:     l.cfg.Login.Backoff,
	})
	r.mu.Lock()
	r.ctrl = ctrl
	r.stage = "authenticating"
	r.mu.Unlock()

	loop := login.NewFeedbackLoop(login.FeedbackConfig{
		Engine:   l.cfg.Engine,
		Session:  sess,
		Feedback: fb,
		Clock:    l.clk,
		Period:   l.cfg.Login.FramePeriod,
		Interval: l.cfg.Login.SampleInterval,
		Done:     ctrl.Authenticated,
	})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(sess.Token.Context())
	}()

	ctrl.Start()
	out := <-ctrl.Done()

	if out.Authenticated {
		sess.Token.Cancel("authenticated")
	} else {
		sess.Token.Cancel("login failed")
	}
	<-loopDone

	if out.Authenticated {
		l.finish(r, Event{
			Type:      EventLoginSucceeded,
			SessionID: sess.ID,
			Mode:      sess.Mode,
			User:      out.User,
			Attempts:  out.Attempts,
			Timestamp: l.clk.Now(),
		})
		return
	}

	ev := l.failure(sess.ID, sess.Mode, out.Err)
	ev.Attempts = out.Attempts
	var ex *login.ExhaustedError
	if errors.As(out.Err, &ex) {
		ev.Diagnostics = ex.Diagnostics
	}
	l.finish(r, ev)
}

func (l *Lifecycle) failure(sessionID string, mode capture.Mode, err error) Event {
	cat := Classify(err)
	slog.Warn("session: failed",
		"session_id", sessionID,
		"mode", mode,
		"category", cat,
		"error", err,
	)
	return Event{
		Type:      EventSessionFailed,
		SessionID: sessionID,
		Mode:      mode,
		Category:  cat,
		Message:   Message(cat, err),
		Timestamp: l.clk.Now(),
	}
}

// finish waits for the camera release, records the terminal event,
// resets the per-session state and publishes the event. The token may
// have been cancelled from another goroutine that is still releasing.
func (l *Lifecycle) finish(r *run, ev Event) {
	<-r.released

	r.mu.Lock()
	r.event = &ev
	r.stage = ""
	r.ctrl = nil
	r.mu.Unlock()

	l.mu.Lock()
	l.last = &ev
	l.mu.Unlock()

	slog.Info("session: ended",
		"session_id", r.sess.ID,
		"mode", r.sess.Mode,
		"event", ev.Type,
		"category", ev.Category,
		"duration", r.sess.Elapsed(l.clk.Now()),
	)
	l.publish(ev)
}

func (l *Lifecycle) publish(ev Event) {
	if ev.SessionID == "" {
		l.mu.Lock()
		l.last = &ev
		l.mu.Unlock()
	}
	dispatch(l.cfg.Events, ev)
}

// teardown cancels the current session and waits for it to end.
func (l *Lifecycle) teardown(ctx context.Context, reason string) error {
	l.mu.Lock()
	r := l.current
	l.mu.Unlock()
	if r == nil {
		return nil
	}

	r.sess.Token.Cancel(reason)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cancels the running session.
func (l *Lifecycle) Cancel(reason string) error {
	l.mu.Lock()
	r := l.current
	l.mu.Unlock()

	if r == nil || r.finished() {
		return ErrNoSession
	}
	slog.Info("session: cancel requested", "session_id", r.sess.ID, "reason", reason)
	r.sess.Token.Cancel(reason)
	return nil
}

// Wait blocks until the current session ends and returns its terminal
// event.
func (l *Lifecycle) Wait(ctx context.Context) (Event, error) {
	l.mu.Lock()
	r := l.current
	l.mu.Unlock()
	if r == nil {
		return Event{}, ErrNoSession
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.event, nil
}

// Current returns the running session, or nil.
func (l *Lifecycle) Current() *capture.Session {
	l.mu.Lock()
	r := l.current
	l.mu.Unlock()
	if r == nil || r.finished() {
		return nil
	}
	return r.sess
}

// Status returns a snapshot of the lifecycle.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	r := l.current
	last := l.last
	l.mu.Unlock()

	st := Status{
		ModelsReady: l.gate.Ready(),
		Sessions:    l.sessions.Load(),
		Camera:      l.cfg.Camera.Stats(),
		LastEvent:   last,
	}
	if r == nil {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.event != nil {
		return st
	}
	st.Active = true
	st.SessionID = r.sess.ID
	st.Mode = r.sess.Mode
	st.Stage = r.stage
	st.StartedAt = r.sess.StartedAt
	if r.ctrl != nil {
		as := r.ctrl.State()
		st.Attempt = &as
	}
	return st
}

// Close cancels any running session, waits for it, and refuses new
// sessions.
func (l *Lifecycle) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := l.teardown(ctx, "shutdown")
	l.cancel()
	return err
}
