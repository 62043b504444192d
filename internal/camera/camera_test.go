package camera_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/clock"
)

type recordingSink struct {
	mu        sync.Mutex
	ready     bool
	w, h      int
	presented int
}

func (s *recordingSink) Ready() bool { return s.ready }

func (s *recordingSink) Resize(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w, s.h = w, h
}

func (s *recordingSink) Present(camera.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presented++
}

func (s *recordingSink) size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w, s.h
}

func newManager(t *testing.T, clk clock.Clock, stream *camera.MockStream, maxWidth int) *camera.Manager {
	t.Helper()
	m, err := camera.NewManager(camera.ManagerConfig{
		Open:           func() (camera.Stream, error) { return stream, nil },
		Clock:          clk,
		MaxRenderWidth: maxWidth,
		ReadyTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

// acquire runs Acquire on a goroutine and advances the fake clock until
// the mock stream has produced its first frame.
func acquire(t *testing.T, clk *clock.FakeClock, m *camera.Manager, sink camera.Sink) *camera.Handle {
	t.Helper()

	type result struct {
		h   *camera.Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := m.Acquire(context.Background(), sink)
		done <- result{h, err}
	}()

	clk.WaitForTimers(2) // mock ticker + ready timeout
	clk.Advance(40 * time.Millisecond)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Acquire() error = %v", r.err)
		}
		return r.h
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not return")
	}
	return nil
}

func TestAcquireBindsRenderSize(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	stream := camera.NewMockStream(1280, 720, 30, clk)
	m := newManager(t, clk, stream, 640)
	sink := &recordingSink{ready: true}

	h := acquire(t, clk, m, sink)
	defer m.Release(h)

	if got := h.Native(); got != (camera.Size{Width: 1280, Height: 720}) {
		t.Errorf("Native() = %+v", got)
	}
	if w, hh := sink.size(); w != 640 || hh != 360 {
		t.Errorf("sink size = %dx%d, want 640x360", w, hh)
	}
	if _, ok := h.Latest(); !ok {
		t.Error("Latest() returned no frame after acquire")
	}
	if m.Current() != h {
		t.Error("Current() does not return the live handle")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	stream := camera.NewMockStream(320, 240, 30, clk)
	m := newManager(t, clk, stream, 640)

	h := acquire(t, clk, m, &recordingSink{ready: true})
	pending := clk.Pending()

	if err := m.Release(h); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if got := clk.Pending(); got >= pending {
		t.Errorf("pending timers after Release = %d, want fewer than %d", got, pending)
	}
	if err := m.Release(h); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	if stream.Stops() != 1 {
		t.Errorf("stream stopped %d times, want 1", stream.Stops())
	}
	if m.Current() != nil {
		t.Error("Current() should be nil after release")
	}
	if _, ok := h.Latest(); ok {
		t.Error("Latest() should report no frame after release")
	}
	if st := m.Stats(); st.Acquires != 1 || st.Releases != 1 {
		t.Errorf("stats = %+v, want 1 acquire and 1 release", st)
	}
	if err := m.Release(nil); err != nil {
		t.Errorf("Release(nil) error = %v", err)
	}
}

func TestAcquireSinkNotReady(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	opened := false
	m, _ := camera.NewManager(camera.ManagerConfig{
		Open: func() (camera.Stream, error) {
			opened = true
			return camera.NewMockStream(320, 240, 30, clk), nil
		},
		Clock: clk,
	})

	_, err := m.Acquire(context.Background(), &recordingSink{ready: false})
	if !errors.Is(err, camera.ErrSinkNotReady) {
		t.Fatalf("err = %v, want ErrSinkNotReady", err)
	}
	if opened {
		t.Error("device opened although the sink was not ready")
	}
}

func TestAcquireClassifiesStartErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"permission", camera.ClassifyDeviceError("Could not open device", "Permission denied (13)"), camera.ErrPermissionDenied},
		{"busy", camera.ClassifyDeviceError("Device '/dev/video0' is busy", ""), camera.ErrDeviceUnavailable},
		{"other", errors.New("pipeline exploded"), camera.ErrDeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.Fake(time.Unix(0, 0))
			stream := camera.NewMockStream(320, 240, 30, clk)
			stream.StartErr = tt.err
			m := newManager(t, clk, stream, 0)

			_, err := m.Acquire(context.Background(), &recordingSink{ready: true})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if m.Current() != nil {
				t.Error("handle left open after failed acquire")
			}
		})
	}
}

func TestAcquireTwiceFails(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	stream := camera.NewMockStream(320, 240, 30, clk)
	m := newManager(t, clk, stream, 0)

	h := acquire(t, clk, m, &recordingSink{ready: true})
	defer m.Release(h)

	if _, err := m.Acquire(context.Background(), &recordingSink{ready: true}); !errors.Is(err, camera.ErrAlreadyOpen) {
		t.Errorf("second Acquire err = %v, want ErrAlreadyOpen", err)
	}
}

func TestAcquireReadyTimeout(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	// 1 fps never ticks inside the 1s ready timeout window below.
	stream := camera.NewMockStream(320, 240, 1, clk)
	m, _ := camera.NewManager(camera.ManagerConfig{
		Open:         func() (camera.Stream, error) { return stream, nil },
		Clock:        clk,
		ReadyTimeout: 500 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), &recordingSink{ready: true})
		done <- err
	}()

	clk.WaitForTimers(2)
	clk.Advance(500 * time.Millisecond)

	select {
	case err := <-done:
		if !errors.Is(err, camera.ErrDeviceUnavailable) {
			t.Errorf("err = %v, want ErrDeviceUnavailable", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire did not time out")
	}
	if stream.Stops() != 1 {
		t.Errorf("stream stopped %d times, want 1", stream.Stops())
	}
}

func TestRenderSize(t *testing.T) {
	tests := []struct {
		name   string
		native camera.Size
		max    int
		want   camera.Size
	}{
		{"desktop downscale", camera.Size{Width: 1280, Height: 720}, 640, camera.Size{Width: 640, Height: 360}},
		{"mobile downscale", camera.Size{Width: 1280, Height: 720}, 360, camera.Size{Width: 360, Height: 203}},
		{"already small", camera.Size{Width: 320, Height: 240}, 640, camera.Size{Width: 320, Height: 240}},
		{"no cap", camera.Size{Width: 1920, Height: 1080}, 0, camera.Size{Width: 1920, Height: 1080}},
		{"empty", camera.Size{}, 640, camera.Size{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := camera.RenderSize(tt.native, tt.max); got != tt.want {
				t.Errorf("RenderSize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScaleFactors(t *testing.T) {
	sx, sy := camera.ScaleFactors(camera.Size{Width: 1280, Height: 720}, camera.Size{Width: 640, Height: 360})
	if sx != 0.5 || sy != 0.5 {
		t.Errorf("ScaleFactors() = %v,%v want 0.5,0.5", sx, sy)
	}
}
