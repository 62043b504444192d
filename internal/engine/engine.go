// Package engine defines the face recognition engine consumed by the
// capture flows, and a client for the out-of-process engine worker.
package engine

import (
	"context"
	"image"
	"math"
	"time"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/render"
)

// Position is the coarse head orientation derived from a detection.
type Position string

const (
	PositionUnknown Position = "unknown"
	PositionCenter  Position = "center"
	PositionLeft    Position = "left"
	PositionRight   Position = "right"
)

// Point is a landmark in native frame pixels.
type Point struct {
	X float64 `msgpack:"x" json:"x"`
	Y float64 `msgpack:"y" json:"y"`
}

// Landmarks are the facial points position analysis needs.
type Landmarks struct {
	LeftEye  Point `msgpack:"left_eye" json:"left_eye"`
	RightEye Point `msgpack:"right_eye" json:"right_eye"`
	Nose     Point `msgpack:"nose" json:"nose"`
}

// Box is a bounding region in native frame pixels.
type Box struct {
	X      float64 `msgpack:"x" json:"x"`
	Y      float64 `msgpack:"y" json:"y"`
	Width  float64 `msgpack:"width" json:"width"`
	Height float64 `msgpack:"height" json:"height"`
}

// Scaled returns the box in display pixels.
func (b Box) Scaled(sx, sy float64) image.Rectangle {
	return image.Rect(
		int(math.Round(b.X*sx)),
		int(math.Round(b.Y*sy)),
		int(math.Round((b.X+b.Width)*sx)),
		int(math.Round((b.Y+b.Height)*sy)),
	)
}

// Sample is a single face detection. Ephemeral.
type Sample struct {
	Confidence  float64    `msgpack:"confidence" json:"confidence"`
	Box         Box        `msgpack:"box" json:"box"`
	Landmarks   *Landmarks `msgpack:"landmarks,omitempty" json:"landmarks,omitempty"`
	FrameWidth  int        `msgpack:"frame_width" json:"frame_width"`
	FrameHeight int        `msgpack:"frame_height" json:"frame_height"`
}

// SamplingConfig carries engine-side pacing hints.
type SamplingConfig struct {
	// BaseDelay is the settle time before sampling a new pose.
	BaseDelay time.Duration
}

// Enrollee is the validated registration payload.
type Enrollee struct {
	Name      string `msgpack:"name" json:"name"`
	Email     string `msgpack:"email" json:"email"`
	StudentID string `msgpack:"student_id" json:"student_id"`
}

// Identity is a registered user.
type Identity struct {
	UserID    string `msgpack:"user_id" json:"user_id"`
	Name      string `msgpack:"name" json:"name"`
	Email     string `msgpack:"email" json:"email"`
	StudentID string `msgpack:"student_id" json:"student_id"`
}

// Diagnostics explain an unsuccessful match.
type Diagnostics struct {
	BestScore      float64 `msgpack:"best_score" json:"best_score"`
	BestDistance   float64 `msgpack:"best_distance" json:"best_distance"`
	DetectionCount int     `msgpack:"detection_count" json:"detection_count"`
}

// AuthResult is the outcome of one authentication attempt.
type AuthResult struct {
	Authenticated bool         `msgpack:"authenticated" json:"authenticated"`
	User          *Identity    `msgpack:"user,omitempty" json:"user,omitempty"`
	Reason        string       `msgpack:"reason,omitempty" json:"reason,omitempty"`
	Diagnostics   *Diagnostics `msgpack:"debug,omitempty" json:"debug,omitempty"`
}

// FrameSource yields the latest frame of a live camera handle.
type FrameSource interface {
	Latest() (camera.Frame, bool)
}

// Engine is the recognition engine consumed by enrollment and login.
//
// DetectFace returns (nil, nil) when no face is visible. RegisterFace
// errors wrap ErrDuplicateStudentID, ErrDuplicateEmail, ErrValidation,
// ErrInsufficientSamples or ErrNetwork.
type Engine interface {
	LoadModels(ctx context.Context) (bool, error)
	DetectFace(ctx context.Context, src FrameSource) (*Sample, error)
	AnalyzeFacePosition(s Sample) Position
	IsDetectionQualityGood(s Sample) bool
	SamplingConfig() SamplingConfig
	Delay(ctx context.Context, d time.Duration) error
	RegisterFace(ctx context.Context, src FrameSource, e Enrollee) (*Identity, error)
	AuthenticateUser(ctx context.Context, src FrameSource) (*AuthResult, error)
	DrawFaceDetection(surface render.Surface, s Sample, scaleX, scaleY float64)
}
