// Package enginetest provides a scriptable in-memory engine.Engine.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/e7canasta/orion-faceid/internal/clock"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/render"
)

// Fake is an engine.Engine driven by hook functions. Nil hooks fall
// back to simple defaults: models load, no face is ever detected,
// registration succeeds and authentication fails.
//
// Delay records every duration. Without a Clock it returns at once.
type Fake struct {
	Load         func() (bool, error)
	Detect       func(call int) (*engine.Sample, error)
	Register     func(e engine.Enrollee) (*engine.Identity, error)
	Authenticate func(attempt int) (*engine.AuthResult, error)

	Analyzer  engine.Analyzer
	BaseDelay time.Duration
	Clock     clock.Clock

	mu        sync.Mutex
	loads     int
	detects   int
	registers int
	auths     int
	draws     int
	delays    []time.Duration
}

// New returns a Fake using the default analyzer.
func New() *Fake {
	return &Fake{Analyzer: engine.DefaultAnalyzer(), BaseDelay: 700 * time.Millisecond}
}

// Face builds a sample the default analyzer classifies as pos. Quality
// is good when confidence is at least 0.6.
func Face(pos engine.Position, confidence float64) *engine.Sample {
	nose := 650.0
	switch pos {
	case engine.PositionLeft:
		nose = 690
	case engine.PositionRight:
		nose = 610
	}
	return &engine.Sample{
		Confidence:  confidence,
		Box:         engine.Box{X: 500, Y: 200, Width: 300, Height: 300},
		FrameWidth:  1280,
		FrameHeight: 720,
		Landmarks: &engine.Landmarks{
			LeftEye:  engine.Point{X: 600, Y: 300},
			RightEye: engine.Point{X: 700, Y: 300},
			Nose:     engine.Point{X: nose, Y: 350},
		},
	}
}

func (f *Fake) LoadModels(context.Context) (bool, error) {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
	if f.Load == nil {
		return true, nil
	}
	return f.Load()
}

func (f *Fake) DetectFace(ctx context.Context, _ engine.FrameSource) (*engine.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.detects++
	n := f.detects
	f.mu.Unlock()
	if f.Detect == nil {
		return nil, nil
	}
	return f.Detect(n)
}

func (f *Fake) AnalyzeFacePosition(s engine.Sample) engine.Position {
	return f.Analyzer.Position(s)
}

func (f *Fake) IsDetectionQualityGood(s engine.Sample) bool {
	return f.Analyzer.Quality(s)
}

func (f *Fake) SamplingConfig() engine.SamplingConfig {
	return engine.SamplingConfig{BaseDelay: f.BaseDelay}
}

func (f *Fake) Delay(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	if f.Clock == nil {
		return ctx.Err()
	}
	return clock.SleepContext(ctx, f.Clock, d)
}

func (f *Fake) RegisterFace(ctx context.Context, _ engine.FrameSource, e engine.Enrollee) (*engine.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.registers++
	f.mu.Unlock()
	if f.Register == nil {
		return &engine.Identity{UserID: "user-1", Name: e.Name, Email: e.Email, StudentID: e.StudentID}, nil
	}
	return f.Register(e)
}

func (f *Fake) AuthenticateUser(ctx context.Context, _ engine.FrameSource) (*engine.AuthResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.auths++
	n := f.auths
	f.mu.Unlock()
	if f.Authenticate == nil {
		return &engine.AuthResult{Reason: "no match"}, nil
	}
	return f.Authenticate(n)
}

func (f *Fake) DrawFaceDetection(surface render.Surface, s engine.Sample, sx, sy float64) {
	f.mu.Lock()
	f.draws++
	f.mu.Unlock()
	f.Analyzer.DrawDetection(surface, s, sx, sy)
}

// Loads returns the number of LoadModels calls.
func (f *Fake) Loads() int { f.mu.Lock(); defer f.mu.Unlock(); return f.loads }

// Detects returns the number of DetectFace calls.
func (f *Fake) Detects() int { f.mu.Lock(); defer f.mu.Unlock(); return f.detects }

// Registers returns the number of RegisterFace calls.
func (f *Fake) Registers() int { f.mu.Lock(); defer f.mu.Unlock(); return f.registers }

// Auths returns the number of AuthenticateUser calls.
func (f *Fake) Auths() int { f.mu.Lock(); defer f.mu.Unlock(); return f.auths }

// Draws returns the number of DrawFaceDetection calls.
func (f *Fake) Draws() int { f.mu.Lock(); defer f.mu.Unlock(); return f.draws }

// Delays returns a copy of every duration passed to Delay.
func (f *Fake) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

// CountDelays returns how many times Delay was called with d.
func (f *Fake) CountDelays(d time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, x := range f.delays {
		if x == d {
			n++
		}
	}
	return n
}

var _ engine.Engine = (*Fake)(nil)
