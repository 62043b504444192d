package render_test

import (
	"image"
	"testing"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/render"
)

func solidFrame(w, h int, r, g, b byte) camera.Frame {
	data := make([]byte, w*h*3)
	for i := 0; i < len(data); i += 3 {
		data[i], data[i+1], data[i+2] = r, g, b
	}
	return camera.Frame{Width: w, Height: h, Data: data}
}

func TestVideoSinkScales(t *testing.T) {
	v := render.NewVideoSink()
	v.Resize(64, 36)
	v.Present(solidFrame(128, 72, 200, 10, 10))

	snap := v.Snapshot()
	if snap.Bounds().Dx() != 64 || snap.Bounds().Dy() != 36 {
		t.Fatalf("snapshot bounds = %v", snap.Bounds())
	}
	c := snap.RGBAAt(32, 18)
	if c.R < 190 || c.G > 20 || c.A != 0xff {
		t.Errorf("center pixel = %+v, want solid red-ish", c)
	}
	if v.Presented() != 1 {
		t.Errorf("Presented() = %d, want 1", v.Presented())
	}
}

func TestVideoSinkIgnoresBadFrames(t *testing.T) {
	v := render.NewVideoSink()
	v.Resize(10, 10)
	v.Present(camera.Frame{Width: 10, Height: 10, Data: []byte{1, 2, 3}})
	if v.Presented() != 0 {
		t.Error("short frame should be ignored")
	}
}

func TestCanvasStrokeAndClear(t *testing.T) {
	c := render.NewCanvas()
	c.Resize(100, 100)

	c.StrokeRect(image.Rect(10, 10, 50, 50), render.ColorGood, 2)
	img := c.Image()
	if img.RGBAAt(10, 10).A == 0 {
		t.Error("corner pixel not drawn")
	}
	if img.RGBAAt(30, 30).A != 0 {
		t.Error("interior pixel should stay transparent")
	}
	if c.Strokes() != 1 {
		t.Errorf("Strokes() = %d, want 1", c.Strokes())
	}

	c.Clear()
	if c.Image().RGBAAt(10, 10).A != 0 || c.Strokes() != 0 {
		t.Error("Clear() did not reset canvas")
	}
}

func TestCanvasClipsOutOfBounds(t *testing.T) {
	c := render.NewCanvas()
	c.Resize(20, 20)
	// Every edge falls outside the canvas; drawing must not panic.
	c.StrokeRect(image.Rect(-10, -10, 500, 500), render.ColorWeak, 3)
	c.StrokeRect(image.Rect(-5, 5, 10, 15), render.ColorWeak, 1)
	if c.Image().RGBAAt(9, 10).A == 0 {
		t.Error("visible right edge of a partially clipped box not drawn")
	}
	if c.Strokes() != 2 {
		t.Errorf("Strokes() = %d, want 2", c.Strokes())
	}
}

func TestCompose(t *testing.T) {
	v := render.NewVideoSink()
	v.Resize(20, 20)
	v.Present(solidFrame(20, 20, 0, 0, 0))
	c := render.NewCanvas()
	c.Resize(20, 20)
	c.StrokeRect(image.Rect(0, 0, 20, 20), render.ColorGood, 1)

	out := render.Compose(v, c)
	if got := out.RGBAAt(0, 0); got.G != render.ColorGood.G {
		t.Errorf("overlay not composed, got %+v", got)
	}
}
