package engine

import (
	"math"

	"github.com/e7canasta/orion-faceid/internal/render"
)

// Analyzer derives head position and detection quality from a sample.
type Analyzer struct {
	// YawThreshold is the nose offset from the eye midpoint, in units of
	// eye distance, beyond which the head counts as turned.
	YawThreshold float64
	// MinConfidence is the detector score a good sample needs.
	MinConfidence float64
	// MinFaceFraction is the minimum face width over frame width.
	MinFaceFraction float64
	// Mirror flips left and right for a selfie-view camera.
	Mirror bool
}

// DefaultAnalyzer returns the thresholds used when none are configured.
func DefaultAnalyzer() Analyzer {
	return Analyzer{YawThreshold: 0.18, MinConfidence: 0.6, MinFaceFraction: 0.15}
}

// Yaw returns the signed nose offset. Positive means the nose sits to
// the image right of the eye midpoint.
func (a Analyzer) Yaw(s Sample) (float64, bool) {
	lm := s.Landmarks
	if lm == nil {
		return 0, false
	}
	eyeDist := math.Abs(lm.RightEye.X - lm.LeftEye.X)
	if eyeDist <= 0 {
		return 0, false
	}
	mid := (lm.LeftEye.X + lm.RightEye.X) / 2
	return (lm.Nose.X - mid) / eyeDist, true
}

// Position classifies the head orientation from the subject's point of
// view. Without landmarks the position is unknown.
func (a Analyzer) Position(s Sample) Position {
	yaw, ok := a.Yaw(s)
	if !ok {
		return PositionUnknown
	}
	if a.Mirror {
		yaw = -yaw
	}
	// The subject's left is the image right of an unmirrored camera.
	switch {
	case yaw > a.YawThreshold:
		return PositionLeft
	case yaw < -a.YawThreshold:
		return PositionRight
	default:
		return PositionCenter
	}
}

// Quality reports whether the sample is confident, large enough, and
// fully inside the frame.
func (a Analyzer) Quality(s Sample) bool {
	if s.Confidence < a.MinConfidence {
		return false
	}
	if s.FrameWidth <= 0 || s.FrameHeight <= 0 {
		return false
	}
	if s.Box.Width/float64(s.FrameWidth) < a.MinFaceFraction {
		return false
	}
	b := s.Box
	return b.X >= 0 && b.Y >= 0 &&
		b.X+b.Width <= float64(s.FrameWidth) &&
		b.Y+b.Height <= float64(s.FrameHeight)
}

// DrawDetection outlines s on surface, colored by quality.
func (a Analyzer) DrawDetection(surface render.Surface, s Sample, sx, sy float64) {
	c := render.ColorWeak
	switch {
	case a.Quality(s):
		c = render.ColorGood
	case s.Confidence >= 0.5:
		c = render.ColorMarginal
	}
	surface.StrokeRect(s.Box.Scaled(sx, sy), c, 3)
}
