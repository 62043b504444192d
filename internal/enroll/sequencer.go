package enroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-faceid/internal/capture"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/feedback"
	"github.com/e7canasta/orion-faceid/internal/poll"
)

// PoseOutcome records how one target resolved.
type PoseOutcome struct {
	Stage          Stage           `json:"stage"`
	Position       engine.Position `json:"position"`
	Satisfied      bool            `json:"satisfied"`
	Attempts       int             `json:"attempts"`
	BestConfidence float64         `json:"best_confidence"`
}

// Result is the outcome of one enrollment run.
type Result struct {
	Poses    []PoseOutcome    `json:"poses"`
	Identity *engine.Identity `json:"identity,omitempty"`
}

// Degraded reports whether any pose timed out.
func (r *Result) Degraded() bool {
	for _, p := range r.Poses {
		if !p.Satisfied {
			return true
		}
	}
	return false
}

// Sequencer drives the pose targets in order, then registers the face.
// Poses are strictly sequential; a pose that never satisfies its target
// is not fatal and the run moves on after the grace delay.
type Sequencer struct {
	Engine   engine.Engine
	Targets  []Target
	Timing   Timing
	Feedback feedback.Reporter

	// OnStage is called on every state transition.
	OnStage func(Stage)
}

// NewSequencer returns a sequencer over the standard targets.
func NewSequencer(eng engine.Engine, t Timing, fb feedback.Reporter) *Sequencer {
	if fb == nil {
		fb = feedback.Discard
	}
	return &Sequencer{Engine: eng, Targets: Targets(t), Timing: t, Feedback: fb}
}

// Run captures every pose on sess, validates form and registers. It
// returns the partial result together with any error. A cancelled
// session yields an error wrapping capture.ErrCancelled.
func (s *Sequencer) Run(sess *capture.Session, form Form) (*Result, error) {
	ctx := sess.Token.Context()
	res := &Result{Poses: make([]PoseOutcome, 0, len(s.Targets))}

	for _, t := range s.Targets {
		out, err := s.capturePose(ctx, sess, t)
		res.Poses = append(res.Poses, out)
		if err != nil {
			return res, s.stopped(sess, err)
		}
	}

	s.enter(StageFinalizing)
	if err := form.Validate(); err != nil {
		return res, err
	}
	if !sess.Live() {
		return res, s.stopped(sess, poll.ErrStopped)
	}

	s.report(feedback.Message{Kind: feedback.KindStatus, Text: "Registering your face"})
	id, err := s.Engine.RegisterFace(ctx, sess, form.Enrollee())
	if err != nil {
		if sess.Token.Cancelled() {
			return res, s.stopped(sess, err)
		}
		return res, fmt.Errorf("enroll: register: %w", err)
	}

	res.Identity = id
	s.enter(StageDone)
	slog.Info("enroll: registration complete",
		"session_id", sess.ID,
		"user_id", id.UserID,
		"degraded", res.Degraded(),
	)
	return res, nil
}

func (s *Sequencer) capturePose(ctx context.Context, sess *capture.Session, t Target) (PoseOutcome, error) {
	out := PoseOutcome{Stage: t.Stage, Position: t.Position}
	s.enter(t.Stage)
	s.report(feedback.Message{Kind: feedback.KindInstruction, Text: t.Instruction, Pose: string(t.Position)})

	settle := s.Engine.SamplingConfig().BaseDelay + s.Timing.SettleExtra
	if err := s.Engine.Delay(ctx, settle); err != nil {
		return out, err
	}

	attempts, ok, err := poll.Attempts(ctx, t.MaxAttempts, t.PerAttemptDelay, s.Engine.Delay, sess.Live,
		func(ctx context.Context, attempt int) bool {
			return s.pollOnce(ctx, sess, t, &out)
		})
	out.Attempts = attempts
	if err != nil {
		return out, err
	}

	if ok {
		out.Satisfied = true
		slog.Debug("enroll: pose captured",
			"session_id", sess.ID,
			"pose", t.Stage,
			"attempts", attempts,
		)
		return out, s.Engine.Delay(ctx, s.Timing.HoldDelay)
	}

	slog.Warn("enroll: pose timed out, continuing",
		"session_id", sess.ID,
		"pose", t.Stage,
		"attempts", attempts,
		"best_confidence", out.BestConfidence,
	)
	s.report(feedback.Message{
		Kind:       feedback.KindDegraded,
		Text:       fmt.Sprintf("Could not confirm the %s pose, continuing", t.Position),
		Confidence: out.BestConfidence,
		Pose:       string(t.Position),
	})
	return out, s.Engine.Delay(ctx, s.Timing.GraceDelay)
}

// pollOnce runs one detection and reports guidance. It returns true when
// the target is satisfied.
func (s *Sequencer) pollOnce(ctx context.Context, sess *capture.Session, t Target, out *PoseOutcome) bool {
	sample, err := s.Engine.DetectFace(ctx, sess)
	if err != nil {
		slog.Debug("enroll: detection failed", "session_id", sess.ID, "error", err)
	}
	if sess.Overlay != nil {
		sess.Overlay.Clear()
	}
	if sample == nil {
		s.report(feedback.Prompt())
		return false
	}

	if sample.Confidence > out.BestConfidence {
		out.BestConfidence = sample.Confidence
	}
	if sess.Overlay != nil {
		sx, sy := sess.ScaleFactors()
		s.Engine.DrawFaceDetection(sess.Overlay, *sample, sx, sy)
	}

	pos := s.Engine.AnalyzeFacePosition(*sample)
	good := s.quality(t, *sample)

	switch {
	case pos == t.Position && good:
		s.report(feedback.Message{
			Kind:       feedback.KindHold,
			Text:       "Perfect, hold still",
			Confidence: sample.Confidence,
			Pose:       string(t.Position),
		})
		return true
	case sample.Confidence > GuidanceConfidence:
		s.report(feedback.Message{
			Kind:       feedback.KindGuidance,
			Text:       steer(t.Position, pos),
			Confidence: sample.Confidence,
			Pose:       string(t.Position),
		})
	default:
		s.report(feedback.Prompt())
	}
	return false
}

func (s *Sequencer) quality(t Target, sample engine.Sample) bool {
	if t.Quality != nil {
		return t.Quality(sample)
	}
	return s.Engine.IsDetectionQualityGood(sample)
}

func (s *Sequencer) stopped(sess *capture.Session, err error) error {
	if sess.Token.Cancelled() || errors.Is(err, poll.ErrStopped) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("enroll: %w (%s)", capture.ErrCancelled, sess.Token.Reason())
	}
	return fmt.Errorf("enroll: %w", err)
}

func (s *Sequencer) enter(stage Stage) {
	if s.OnStage != nil {
		s.OnStage(stage)
	}
}

func (s *Sequencer) report(m feedback.Message) {
	if s.Feedback != nil {
		s.Feedback.Report(m)
	}
}
