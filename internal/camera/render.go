package camera

// RenderSize scales native down to maxWidth keeping the aspect ratio.
// Frames narrower than maxWidth, or a non-positive maxWidth, keep their
// native size.
func RenderSize(native Size, maxWidth int) Size {
	if native.Width <= 0 || native.Height <= 0 {
		return Size{}
	}
	if maxWidth <= 0 || native.Width <= maxWidth {
		return native
	}

	h := (native.Height*maxWidth + native.Width/2) / native.Width
	if h < 1 {
		h = 1
	}
	return Size{Width: maxWidth, Height: h}
}

// ScaleFactors returns display/native ratios for overlay drawing.
func ScaleFactors(native, display Size) (sx, sy float64) {
	if native.Width <= 0 || native.Height <= 0 {
		return 1, 1
	}
	return float64(display.Width) / float64(native.Width),
		float64(display.Height) / float64(native.Height)
}
