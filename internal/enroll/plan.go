package enroll

import (
	"time"

	"github.com/e7canasta/orion-faceid/internal/config"
	"github.com/e7canasta/orion-faceid/internal/engine"
)

// Stage is a sequencer state.
type Stage string

const (
	StageCenter1    Stage = "center_1"
	StageLeft       Stage = "left"
	StageRight      Stage = "right"
	StageCenter2    Stage = "center_2"
	StageFinalizing Stage = "finalizing"
	StageDone       Stage = "done"
)

// GuidanceConfidence is the confidence above which a mismatched pose
// gets steering guidance instead of the generic prompt.
const GuidanceConfidence = 0.3

// Timing holds the per-profile enrollment timings.
type Timing struct {
	MaxAttempts     int
	PerAttemptDelay time.Duration
	HoldDelay       time.Duration
	GraceDelay      time.Duration
	// SettleExtra is added to the engine's base settle delay.
	SettleExtra time.Duration
}

// DesktopTiming is the desktop profile.
func DesktopTiming() Timing {
	return Timing{
		MaxAttempts:     25,
		PerAttemptDelay: 300 * time.Millisecond,
		HoldDelay:       time.Second,
		GraceDelay:      500 * time.Millisecond,
	}
}

// MobileTiming is the mobile profile: more attempts, slower polling,
// longer settle.
func MobileTiming() Timing {
	return Timing{
		MaxAttempts:     40,
		PerAttemptDelay: 400 * time.Millisecond,
		HoldDelay:       time.Second,
		GraceDelay:      500 * time.Millisecond,
		SettleExtra:     500 * time.Millisecond,
	}
}

// TimingFor picks the profile timing and applies config overrides.
func TimingFor(cfg *config.Config) Timing {
	t := DesktopTiming()
	if cfg.Profile.Mobile() {
		t = MobileTiming()
	}

	e := cfg.Enrollment
	if e.MaxAttempts > 0 {
		t.MaxAttempts = e.MaxAttempts
	}
	if e.PerAttemptDelayMS > 0 {
		t.PerAttemptDelay = time.Duration(e.PerAttemptDelayMS) * time.Millisecond
	}
	if e.HoldDelayMS > 0 {
		t.HoldDelay = time.Duration(e.HoldDelayMS) * time.Millisecond
	}
	if e.GraceDelayMS > 0 {
		t.GraceDelay = time.Duration(e.GraceDelayMS) * time.Millisecond
	}
	if cfg.Profile.Mobile() && e.MobileSettleMS > 0 {
		t.SettleExtra = time.Duration(e.MobileSettleMS) * time.Millisecond
	}
	return t
}

// Target is one pose to capture. A nil Quality uses the engine's gate.
type Target struct {
	Stage           Stage
	Position        engine.Position
	Instruction     string
	PerAttemptDelay time.Duration
	MaxAttempts     int
	Quality         func(engine.Sample) bool
}

// Targets returns the fixed pose sequence center, left, right, center.
func Targets(t Timing) []Target {
	mk := func(stage Stage, pos engine.Position, text string) Target {
		return Target{
			Stage:           stage,
			Position:        pos,
			Instruction:     text,
			PerAttemptDelay: t.PerAttemptDelay,
			MaxAttempts:     t.MaxAttempts,
		}
	}
	return []Target{
		mk(StageCenter1, engine.PositionCenter, "Look straight at the camera"),
		mk(StageLeft, engine.PositionLeft, "Slowly turn your head to the left"),
		mk(StageRight, engine.PositionRight, "Slowly turn your head to the right"),
		mk(StageCenter2, engine.PositionCenter, "Look straight at the camera again"),
	}
}

// steer returns guidance toward target for a face detected at got.
func steer(target, got engine.Position) string {
	switch target {
	case engine.PositionLeft:
		if got == engine.PositionRight {
			return "Other way, turn to your left"
		}
		return "Turn your head a little more to the left"
	case engine.PositionRight:
		if got == engine.PositionLeft {
			return "Other way, turn to your right"
		}
		return "Turn your head a little more to the right"
	default:
		return "Turn back to face the camera"
	}
}
