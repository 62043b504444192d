// Package login runs face authentication: live quality feedback and the
// bounded retry controller.
package login

import (
	"context"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-faceid/internal/capture"
	"github.com/e7canasta/orion-faceid/internal/clock"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/feedback"
	"github.com/e7canasta/orion-faceid/internal/poll"
)

// FeedbackConfig configures a FeedbackLoop.
type FeedbackConfig struct {
	Engine   engine.Engine
	Session  *capture.Session
	Feedback feedback.Reporter
	Clock    clock.Clock
	// Period is the scheduling tick; Interval ticks make one query.
	Period   time.Duration
	Interval int
	// Done reports whether authentication already succeeded.
	Done func() bool
}

// FeedbackLoop renders live detection quality during login. It never
// decides the authentication outcome.
type FeedbackLoop struct {
	cfg  FeedbackConfig
	loop *poll.Loop
	last feedback.Message
}

// NewFeedbackLoop builds the loop over cfg.Session.
func NewFeedbackLoop(cfg FeedbackConfig) *FeedbackLoop {
	if cfg.Feedback == nil {
		cfg.Feedback = feedback.Discard
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Period <= 0 {
		cfg.Period = 16 * time.Millisecond
	}

	f := &FeedbackLoop{cfg: cfg}
	f.loop = &poll.Loop{
		Name:     "login-feedback",
		Clock:    cfg.Clock,
		Period:   cfg.Period,
		Throttle: poll.NewThrottle(cfg.Interval),
		Alive:    f.alive,
		Query:    f.query,
	}
	return f
}

func (f *FeedbackLoop) alive() bool {
	if f.cfg.Done != nil && f.cfg.Done() {
		return false
	}
	return f.cfg.Session.Live()
}

// Run polls until the session dies, authentication succeeds or ctx ends.
func (f *FeedbackLoop) Run(ctx context.Context) error {
	return f.loop.Run(ctx)
}

// Tick runs one scheduling step and reports whether the loop continues.
func (f *FeedbackLoop) Tick(ctx context.Context) bool {
	return f.loop.Tick(ctx)
}

// Queries returns how many detections the loop issued.
func (f *FeedbackLoop) Queries() uint64 { return f.loop.Queries() }

func (f *FeedbackLoop) query(ctx context.Context) {
	sess := f.cfg.Session
	sample, err := f.cfg.Engine.DetectFace(ctx, sess)
	if err != nil {
		slog.Debug("login: feedback detection failed", "session_id", sess.ID, "error", err)
	}

	if sess.Overlay != nil {
		sess.Overlay.Clear()
	}
	if sample == nil {
		f.report(feedback.Prompt())
		return
	}

	good := f.cfg.Engine.IsDetectionQualityGood(*sample)
	f.report(feedback.Quality(sample.Confidence, good))

	if sess.Overlay != nil {
		sx, sy := sess.ScaleFactors()
		f.cfg.Engine.DrawFaceDetection(sess.Overlay, *sample, sx, sy)
	}
}

// report skips messages identical to the previous one.
func (f *FeedbackLoop) report(m feedback.Message) {
	if m == f.last {
		return
	}
	f.last = m
	f.cfg.Feedback.Report(m)
}
