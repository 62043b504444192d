package render

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/e7canasta/orion-faceid/internal/camera"
)

// VideoSink scales live frames to the render size. It implements
// camera.Sink.
type VideoSink struct {
	mu      sync.RWMutex
	ready   bool
	display *image.RGBA
	scaler  draw.Scaler

	presented atomic.Uint64
}

// NewVideoSink returns a ready sink using bilinear scaling.
func NewVideoSink() *VideoSink {
	return &VideoSink{
		ready:   true,
		display: image.NewRGBA(image.Rect(0, 0, 0, 0)),
		scaler:  draw.ApproxBiLinear,
	}
}

// Ready reports whether the sink accepts frames.
func (v *VideoSink) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ready
}

// SetReady toggles readiness, e.g. while the display is torn down.
func (v *VideoSink) SetReady(ready bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ready = ready
}

// Resize sets the display buffer size.
func (v *VideoSink) Resize(width, height int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.display = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Present scales f into the display buffer. Malformed frames are ignored.
func (v *VideoSink) Present(f camera.Frame) {
	src := FrameImage(f)
	if src == nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.display.Bounds().Empty() {
		return
	}
	v.scaler.Scale(v.display, v.display.Bounds(), src, src.Bounds(), draw.Src, nil)
	v.presented.Add(1)
}

// Presented returns how many frames were shown.
func (v *VideoSink) Presented() uint64 { return v.presented.Load() }

// Snapshot returns a copy of the current display buffer.
func (v *VideoSink) Snapshot() *image.RGBA {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := image.NewRGBA(v.display.Bounds())
	copy(out.Pix, v.display.Pix)
	return out
}

// Compose draws the overlay over the current video frame.
func Compose(video *VideoSink, overlay *Canvas) *image.RGBA {
	out := video.Snapshot()
	if overlay == nil {
		return out
	}
	ov := overlay.Image()
	draw.Draw(out, out.Bounds(), ov, image.Point{}, draw.Over)
	return out
}

// FrameImage converts a packed RGB24 frame to RGBA. It returns nil when
// the payload does not match the frame size.
func FrameImage(f camera.Frame) *image.RGBA {
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) < f.Width*f.Height*3 {
		return nil
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < f.Width*f.Height*3; i, j = i+3, j+4 {
		img.Pix[j] = f.Data[i]
		img.Pix[j+1] = f.Data[i+1]
		img.Pix[j+2] = f.Data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// Colors used for detection boxes.
var (
	ColorGood     = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	ColorMarginal = color.RGBA{R: 0xea, G: 0xb3, B: 0x08, A: 0xff}
	ColorWeak     = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
)
