package camera

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/e7canasta/orion-faceid/internal/clock"
)

const (
	// A stream is stable when the FPS stddev stays under 15% of the mean
	// and the mean jitter under 20% of the expected frame interval.
	fpsStabilityThreshold    = 0.15
	jitterStabilityThreshold = 0.20
)

// FrameTap is a Sink that forwards presented frames to C so Warmup can
// measure an acquired handle. Frames are dropped when C is full.
type FrameTap struct {
	C chan Frame
}

// NewFrameTap returns a tap buffering up to n frames.
func NewFrameTap(n int) *FrameTap {
	return &FrameTap{C: make(chan Frame, n)}
}

func (t *FrameTap) Ready() bool { return true }

func (t *FrameTap) Resize(width, height int) {}

func (t *FrameTap) Present(f Frame) {
	select {
	case t.C <- f:
	default:
	}
}

// WarmupStats contains statistics collected while probing a device
type WarmupStats struct {
	FramesReceived int
	Duration       time.Duration
	FPSMean        float64
	FPSStdDev      float64
	FPSMin         float64
	FPSMax         float64
	JitterMean     float64 // seconds
	JitterMax      float64 // seconds
	IsStable       bool
}

// Warmup consumes frames for duration d and reports FPS stability.
// It fails when fewer than two frames arrive.
func Warmup(ctx context.Context, clk clock.Clock, frames <-chan Frame, d time.Duration) (*WarmupStats, error) {
	slog.Info("camera: starting warmup", "duration", d)

	start := clk.Now()
	deadline := clk.After(d)
	times := make([]time.Time, 0, 64)

loop:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			break loop
		case f, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("%w: stream closed during warmup", ErrDeviceUnavailable)
			}
			times = append(times, f.Timestamp)
		}
	}

	if len(times) < 2 {
		return nil, fmt.Errorf("%w: only %d frames during warmup", ErrDeviceUnavailable, len(times))
	}

	stats := CalculateFPSStats(times, clk.Now().Sub(start))
	slog.Info("camera: warmup complete",
		"frames", stats.FramesReceived,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"stable", stats.IsStable,
	)
	return stats, nil
}

// CalculateFPSStats derives FPS and jitter statistics from frame
// timestamps collected over total.
func CalculateFPSStats(times []time.Time, total time.Duration) *WarmupStats {
	n := len(times)
	stats := &WarmupStats{FramesReceived: n, Duration: total}
	if n == 0 || total <= 0 {
		return stats
	}

	stats.FPSMean = float64(n) / total.Seconds()

	var inst []float64
	for i := 1; i < n; i++ {
		if dt := times[i].Sub(times[i-1]).Seconds(); dt > 0 {
			inst = append(inst, 1/dt)
		}
	}
	if len(inst) == 0 {
		return stats
	}

	stats.FPSMin, stats.FPSMax = inst[0], inst[0]
	var sq float64
	for _, f := range inst {
		stats.FPSMin = math.Min(stats.FPSMin, f)
		stats.FPSMax = math.Max(stats.FPSMax, f)
		sq += (f - stats.FPSMean) * (f - stats.FPSMean)
	}
	stats.FPSStdDev = math.Sqrt(sq / float64(len(inst)))

	expected := 1 / stats.FPSMean
	var jsum float64
	for i := 1; i < n; i++ {
		j := math.Abs(times[i].Sub(times[i-1]).Seconds() - expected)
		jsum += j
		stats.JitterMax = math.Max(stats.JitterMax, j)
	}
	stats.JitterMean = jsum / float64(n-1)

	stats.IsStable = stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold &&
		stats.JitterMean < expected*jitterStabilityThreshold
	return stats
}
