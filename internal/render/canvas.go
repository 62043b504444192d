// Package render holds the two display surfaces of a capture session:
// the scaled live video and the detection overlay drawn on top of it.
package render

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
)

// Surface is a 2D overlay the engine draws detections on.
type Surface interface {
	Clear()
	Size() (width, height int)
	StrokeRect(r image.Rectangle, c color.Color, thickness int)
}

// Canvas is a transparent RGBA overlay.
type Canvas struct {
	mu      sync.Mutex
	img     *image.RGBA
	strokes int
}

// NewCanvas returns an empty canvas; call Resize before drawing.
func NewCanvas() *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, 0, 0))}
}

// Resize reallocates the canvas and clears it.
func (c *Canvas) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	c.strokes = 0
}

func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	draw.Draw(c.img, c.img.Bounds(), image.Transparent, image.Point{}, draw.Src)
	c.strokes = 0
}

// StrokeRect outlines r, clipped to the canvas.
func (c *Canvas) StrokeRect(r image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	r = r.Canon()
	src := image.NewUniform(col)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		e = e.Intersect(c.img.Bounds())
		if !e.Empty() {
			draw.Draw(c.img, e, src, image.Point{}, draw.Over)
		}
	}
	c.strokes++
}

// Strokes returns the number of shapes drawn since the last Clear.
func (c *Canvas) Strokes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.strokes
}

// Image returns a copy of the overlay.
func (c *Canvas) Image() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}
