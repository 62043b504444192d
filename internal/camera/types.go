package camera

import (
	"context"
	"time"
)

// Frame represents a single RGB24 video frame with metadata
type Frame struct {
	// Seq is the monotonic sequence number
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data holds Width*Height*3 bytes of packed RGB
	Data []byte
	// TraceID is a unique identifier for log correlation
	TraceID string
}

// Size is a width/height pair in pixels
type Size struct {
	Width  int
	Height int
}

// Stream is a capture device producing frames.
//
// Start returns immediately; frames arrive asynchronously. Stop releases
// every capture track, closes the frame channel, and is idempotent.
type Stream interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop() error
	Stats() Stats
}

// Sink is the rendering surface the live video is bound to.
type Sink interface {
	// Ready reports whether the surface can accept frames.
	Ready() bool
	// Resize sets the display size computed at acquire time.
	Resize(width, height int)
	// Present shows a frame. It must not block for long.
	Present(Frame)
}

// Stats contains current stream statistics
type Stats struct {
	// FrameCount is the total number of frames captured
	FrameCount uint64
	// FramesDropped is the number of frames dropped (consumer too slow)
	FramesDropped uint64
	// FPSReal is the measured frame rate since start
	FPSReal float64
	// Resolution is the frame resolution (e.g., "1280x720")
	Resolution string
	// IsConnected indicates the device is currently open
	IsConnected bool
}
