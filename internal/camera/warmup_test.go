package camera_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/clock"
)

func TestCalculateFPSStats(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		intervals  []time.Duration
		wantStable bool
	}{
		{
			name:       "steady 10fps",
			intervals:  []time.Duration{100, 100, 100, 100, 100, 100, 100, 100, 100},
			wantStable: true,
		},
		{
			name:       "bursty",
			intervals:  []time.Duration{20, 300, 20, 300, 20, 300, 20, 300, 20},
			wantStable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			times := []time.Time{start}
			at := start
			for _, d := range tt.intervals {
				at = at.Add(d * time.Millisecond)
				times = append(times, at)
			}
			stats := camera.CalculateFPSStats(times, at.Sub(start))

			if stats.FramesReceived != len(times) {
				t.Errorf("FramesReceived = %d, want %d", stats.FramesReceived, len(times))
			}
			if stats.IsStable != tt.wantStable {
				t.Errorf("IsStable = %v, want %v (%+v)", stats.IsStable, tt.wantStable, stats)
			}
			if stats.FPSMin > stats.FPSMax {
				t.Errorf("FPSMin %v > FPSMax %v", stats.FPSMin, stats.FPSMax)
			}
		})
	}
}

func TestCalculateFPSStatsEmpty(t *testing.T) {
	stats := camera.CalculateFPSStats(nil, time.Second)
	if stats.FramesReceived != 0 || stats.FPSMean != 0 || stats.IsStable {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWarmupRequiresTwoFrames(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	frames := make(chan camera.Frame, 1)
	frames <- camera.Frame{Timestamp: clk.Now()}

	errCh := make(chan error, 1)
	go func() {
		_, err := camera.Warmup(context.Background(), clk, frames, time.Second)
		errCh <- err
	}()

	clk.WaitForTimers(1)
	clk.Advance(time.Second)

	if err := <-errCh; !errors.Is(err, camera.ErrDeviceUnavailable) {
		t.Fatalf("Warmup() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestWarmupClosedStream(t *testing.T) {
	frames := make(chan camera.Frame)
	close(frames)

	_, err := camera.Warmup(context.Background(), clock.Real(), frames, time.Second)
	if !errors.Is(err, camera.ErrDeviceUnavailable) {
		t.Fatalf("Warmup() error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestFrameTapDropsWhenFull(t *testing.T) {
	tap := camera.NewFrameTap(1)
	tap.Present(camera.Frame{Seq: 1})
	tap.Present(camera.Frame{Seq: 2})

	if len(tap.C) != 1 {
		t.Fatalf("buffered = %d, want 1", len(tap.C))
	}
	if f := <-tap.C; f.Seq != 1 {
		t.Errorf("Seq = %d, want the first frame kept", f.Seq)
	}
}

func TestWarmupOverAcquiredHandle(t *testing.T) {
	stream := camera.NewMockStream(64, 36, 60, clock.Real())
	m, err := camera.NewManager(camera.ManagerConfig{
		Open:         func() (camera.Stream, error) { return stream, nil },
		ReadyTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	tap := camera.NewFrameTap(64)
	h, err := m.Acquire(context.Background(), tap)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	stats, err := camera.Warmup(context.Background(), clock.Real(), tap.C, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Warmup() error = %v", err)
	}
	if stats.FramesReceived < 2 {
		t.Errorf("FramesReceived = %d, want at least 2", stats.FramesReceived)
	}

	if err := m.Release(h); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if stream.Stops() != 1 || m.Stats().Open {
		t.Errorf("stops = %d, stats = %+v", stream.Stops(), m.Stats())
	}
}
