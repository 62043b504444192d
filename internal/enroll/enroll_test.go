package enroll_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/capture"
	"github.com/e7canasta/orion-faceid/internal/config"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/engine/enginetest"
	"github.com/e7canasta/orion-faceid/internal/enroll"
	"github.com/e7canasta/orion-faceid/internal/feedback"
	"github.com/e7canasta/orion-faceid/internal/render"
)

type liveCamera struct {
	mu       sync.Mutex
	released bool
}

func (c *liveCamera) Latest() (camera.Frame, bool) { return camera.Frame{Seq: 1}, !c.Released() }
func (c *liveCamera) Native() camera.Size          { return camera.Size{Width: 1280, Height: 720} }
func (c *liveCamera) Render() camera.Size          { return camera.Size{Width: 640, Height: 360} }
func (c *liveCamera) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func newSession() *capture.Session {
	overlay := render.NewCanvas()
	overlay.Resize(640, 360)
	return &capture.Session{
		ID:      "s-1",
		Mode:    capture.ModeEnrollment,
		Token:   capture.NewToken(context.Background()),
		Camera:  &liveCamera{},
		Overlay: overlay,
	}
}

var validForm = enroll.Form{Name: "Ada Lovelace", Email: "ada@example.edu", StudentID: "S-1001"}

func positionOf(stage enroll.Stage) engine.Position {
	switch stage {
	case enroll.StageLeft:
		return engine.PositionLeft
	case enroll.StageRight:
		return engine.PositionRight
	default:
		return engine.PositionCenter
	}
}

func TestSequencerAdvancesEarlyOnSuccess(t *testing.T) {
	eng := enginetest.New()
	var mu sync.Mutex
	stage := enroll.StageCenter1

	eng.Detect = func(call int) (*engine.Sample, error) {
		if call <= 2 {
			return enginetest.Face(engine.PositionRight, 0.2), nil
		}
		mu.Lock()
		defer mu.Unlock()
		return enginetest.Face(positionOf(stage), 0.9), nil
	}

	seq := enroll.NewSequencer(eng, enroll.DesktopTiming(), nil)
	var stages []enroll.Stage
	seq.OnStage = func(s enroll.Stage) {
		mu.Lock()
		stage = s
		mu.Unlock()
		stages = append(stages, s)
	}

	res, err := seq.Run(newSession(), validForm)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Poses[0].Attempts != 3 || !res.Poses[0].Satisfied {
		t.Errorf("center pose = %+v, want satisfied on attempt 3", res.Poses[0])
	}
	for _, p := range res.Poses[1:] {
		if p.Attempts != 1 || !p.Satisfied {
			t.Errorf("pose %s = %+v, want satisfied on attempt 1", p.Stage, p)
		}
	}
	// Only the two failed center polls waited out a per-attempt delay.
	if got := eng.CountDelays(300 * time.Millisecond); got != 2 {
		t.Errorf("per-attempt delays = %d, want 2", got)
	}
	if eng.Detects() != 6 {
		t.Errorf("detections = %d, want 6", eng.Detects())
	}

	want := []enroll.Stage{
		enroll.StageCenter1, enroll.StageLeft, enroll.StageRight, enroll.StageCenter2,
		enroll.StageFinalizing, enroll.StageDone,
	}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, stages[i], want[i])
		}
	}
	if res.Identity == nil || res.Identity.StudentID != "S-1001" {
		t.Errorf("Identity = %+v", res.Identity)
	}
	if res.Degraded() {
		t.Error("result should not be degraded")
	}
}

func TestSequencerTimeoutsAreNotFatal(t *testing.T) {
	eng := enginetest.New()
	eng.Register = func(engine.Enrollee) (*engine.Identity, error) {
		return nil, &engine.RemoteError{Op: "register", Code: engine.CodeInsufficientSamples, Message: "0 usable"}
	}
	rec := &feedback.Recorder{}

	seq := enroll.NewSequencer(eng, enroll.DesktopTiming(), rec)
	var stages []enroll.Stage
	seq.OnStage = func(s enroll.Stage) { stages = append(stages, s) }

	res, err := seq.Run(newSession(), validForm)
	if !errors.Is(err, engine.ErrInsufficientSamples) {
		t.Fatalf("Run() error = %v, want ErrInsufficientSamples", err)
	}

	if len(res.Poses) != 4 {
		t.Fatalf("poses = %d, want 4", len(res.Poses))
	}
	for _, p := range res.Poses {
		if p.Satisfied || p.Attempts != 25 {
			t.Errorf("pose %s = %+v, want 25 unsatisfied attempts", p.Stage, p)
		}
	}
	if eng.Registers() != 1 {
		t.Errorf("RegisterFace calls = %d, want 1", eng.Registers())
	}
	if eng.Detects() != 100 {
		t.Errorf("detections = %d, want 100", eng.Detects())
	}
	if stages[len(stages)-1] != enroll.StageFinalizing {
		t.Errorf("last stage = %s, want finalizing", stages[len(stages)-1])
	}
	if !res.Degraded() {
		t.Error("result should be degraded")
	}
	if got := eng.CountDelays(500 * time.Millisecond); got != 4 {
		t.Errorf("grace delays = %d, want 4", got)
	}

	degraded := 0
	for _, k := range rec.Kinds() {
		if k == feedback.KindDegraded {
			degraded++
		}
	}
	if degraded != 4 {
		t.Errorf("degraded notices = %d, want 4", degraded)
	}
}

func TestSequencerGuidance(t *testing.T) {
	eng := enginetest.New()
	eng.Detect = func(call int) (*engine.Sample, error) {
		switch call {
		case 1:
			return enginetest.Face(engine.PositionLeft, 0.8), nil
		case 2:
			return enginetest.Face(engine.PositionLeft, 0.2), nil
		default:
			return nil, nil
		}
	}
	rec := &feedback.Recorder{}
	timing := enroll.DesktopTiming()
	timing.MaxAttempts = 3
	seq := enroll.NewSequencer(eng, timing, rec)
	seq.Targets = seq.Targets[:1]

	if _, err := seq.Run(newSession(), validForm); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []feedback.Kind{
		feedback.KindInstruction,
		feedback.KindGuidance,
		feedback.KindPrompt,
		feedback.KindPrompt,
		feedback.KindDegraded,
		feedback.KindStatus,
	}
	got := rec.Kinds()
	if len(got) != len(want) {
		t.Fatalf("feedback = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("feedback[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if eng.Draws() != 2 {
		t.Errorf("draws = %d, want 2", eng.Draws())
	}
}

func TestSequencerValidationBeforeRegister(t *testing.T) {
	eng := enginetest.New()
	seq := enroll.NewSequencer(eng, enroll.DesktopTiming(), nil)
	seq.Targets = seq.Targets[:1]
	seq.Targets[0].MaxAttempts = 1

	_, err := seq.Run(newSession(), enroll.Form{Name: "Ada", Email: "not-an-email", StudentID: "S-1"})

	var verr *enroll.ValidationError
	if !errors.As(err, &verr) || verr.Field != "email" {
		t.Fatalf("Run() error = %v, want email ValidationError", err)
	}
	if eng.Registers() != 0 {
		t.Error("RegisterFace must not run with an invalid form")
	}
}

func TestSequencerCancelMidPose(t *testing.T) {
	eng := enginetest.New()
	sess := newSession()
	eng.Detect = func(call int) (*engine.Sample, error) {
		if call == 5 {
			sess.Token.Cancel("user")
		}
		return nil, nil
	}

	seq := enroll.NewSequencer(eng, enroll.DesktopTiming(), nil)
	res, err := seq.Run(sess, validForm)

	if !errors.Is(err, capture.ErrCancelled) {
		t.Fatalf("Run() error = %v, want ErrCancelled", err)
	}
	if eng.Detects() != 5 {
		t.Errorf("detections = %d, want 5", eng.Detects())
	}
	if len(res.Poses) != 1 || eng.Registers() != 0 {
		t.Errorf("poses = %d, registers = %d; want 1, 0", len(res.Poses), eng.Registers())
	}
}

func TestFormValidate(t *testing.T) {
	tests := []struct {
		name  string
		form  enroll.Form
		field string
	}{
		{"valid", enroll.Form{Name: "  José  María ", Email: " Jose@Example.EDU ", StudentID: "A-12"}, ""},
		{"missing name", enroll.Form{Email: "a@b.io", StudentID: "A-12"}, "name"},
		{"short name", enroll.Form{Name: "J", Email: "a@b.io", StudentID: "A-12"}, "name"},
		{"digits in name", enroll.Form{Name: "R2D2", Email: "a@b.io", StudentID: "A-12"}, "name"},
		{"missing email", enroll.Form{Name: "Ada", StudentID: "A-12"}, "email"},
		{"bad email", enroll.Form{Name: "Ada", Email: "ada@", StudentID: "A-12"}, "email"},
		{"missing student id", enroll.Form{Name: "Ada", Email: "a@b.io"}, "student_id"},
		{"bad student id", enroll.Form{Name: "Ada", Email: "a@b.io", StudentID: "A 12"}, "student_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.form.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *enroll.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("Validate() = %v, want violation on %s", err, tt.field)
			}
			if !errors.Is(err, engine.ErrValidation) {
				t.Error("ValidationError should match engine.ErrValidation")
			}
		})
	}
}

func TestFormEnrolleeNormalizes(t *testing.T) {
	e := enroll.Form{Name: "  Ada   Lovelace ", Email: " ADA@Example.edu", StudentID: " S-1 "}.Enrollee()
	if e.Name != "Ada Lovelace" || e.Email != "ada@example.edu" || e.StudentID != "S-1" {
		t.Errorf("Enrollee() = %+v", e)
	}
}

func TestTimingFor(t *testing.T) {
	cfg := &config.Config{Profile: config.ProfileMobile}
	got := enroll.TimingFor(cfg)
	if got.MaxAttempts != 40 || got.PerAttemptDelay != 400*time.Millisecond || got.SettleExtra != 500*time.Millisecond {
		t.Errorf("mobile timing = %+v", got)
	}

	cfg = &config.Config{Profile: config.ProfileDesktop, Enrollment: config.EnrollmentConfig{MaxAttempts: 10}}
	got = enroll.TimingFor(cfg)
	if got.MaxAttempts != 10 || got.PerAttemptDelay != 300*time.Millisecond || got.SettleExtra != 0 {
		t.Errorf("desktop timing = %+v", got)
	}
}
