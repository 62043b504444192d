package capture

import (
	"time"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/render"
)

// Mode selects the flow a session runs.
type Mode string

const (
	ModeEnrollment Mode = "enrollment"
	ModeLogin      Mode = "login"
)

// Camera is the live stream handle a session owns. *camera.Handle
// implements it.
type Camera interface {
	Latest() (camera.Frame, bool)
	Released() bool
	Native() camera.Size
	Render() camera.Size
}

// Session is one capture session. Its camera handle is owned here and
// released only by whoever created the session.
type Session struct {
	ID        string
	Mode      Mode
	Token     *Token
	Camera    Camera
	Video     camera.Sink
	Overlay   render.Surface
	StartedAt time.Time
}

// Live reports whether loops should keep going: the handle is set and
// not released, and the token is not cancelled.
func (s *Session) Live() bool {
	if s == nil || s.Camera == nil || s.Token == nil {
		return false
	}
	return !s.Token.Cancelled() && !s.Camera.Released()
}

// Latest returns the most recent frame of the session's stream.
func (s *Session) Latest() (camera.Frame, bool) {
	if s.Camera == nil {
		return camera.Frame{}, false
	}
	return s.Camera.Latest()
}

// ScaleFactors maps native frame coordinates onto the overlay.
func (s *Session) ScaleFactors() (sx, sy float64) {
	if s.Camera == nil {
		return 1, 1
	}
	return camera.ScaleFactors(s.Camera.Native(), s.Camera.Render())
}

// Elapsed is the session age at now.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
