// Package gstcam captures a local camera through GStreamer.
package gstcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-faceid/internal/camera"
)

// Config contains configuration for a GStreamer capture stream
type Config struct {
	// Source is "v4l2" (a device node) or "test" (videotestsrc).
	Source string
	Device string
	Width  int
	Height int
	FPS    int
}

// Stream implements camera.Stream on a GStreamer pipeline
type Stream struct {
	cfg Config

	elements *pipelineElements
	frames   chan camera.Frame
	mu       sync.RWMutex

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time

	seq     atomic.Uint64
	dropped atomic.Uint64
	errors  atomic.Uint64

	framesClosed atomic.Bool
}

// New creates a capture stream with fail-fast validation
func New(cfg Config) (*Stream, error) {
	if cfg.Source == "" {
		cfg.Source = "v4l2"
	}
	if cfg.Source == "v4l2" && cfg.Device == "" {
		return nil, fmt.Errorf("gstcam: device is required for v4l2")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("gstcam: invalid resolution %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 || cfg.FPS > 60 {
		return nil, fmt.Errorf("gstcam: invalid fps %d (must be 1-60)", cfg.FPS)
	}

	return &Stream{cfg: cfg}, nil
}

// Start builds the pipeline and waits for it to reach PLAYING. Device
// failures are returned classified as camera.ErrPermissionDenied or
// camera.ErrDeviceUnavailable.
func (s *Stream) Start(ctx context.Context) (<-chan camera.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil, fmt.Errorf("gstcam: stream already started")
	}

	elements, err := createPipeline(pipelineConfig{
		Source: s.cfg.Source,
		Device: s.cfg.Device,
		Width:  s.cfg.Width,
		Height: s.cfg.Height,
		FPS:    s.cfg.FPS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrDeviceUnavailable, err)
	}

	frames := make(chan camera.Frame, 10)
	sc := &sampleContext{
		frames:  frames,
		seq:     &s.seq,
		dropped: &s.dropped,
		width:   s.cfg.Width,
		height:  s.cfg.Height,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return onNewSample(sink, sc)
		},
	})

	bus := elements.Pipeline.GetPipelineBus()
	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		cause := fmt.Errorf("%w: %v", camera.ErrDeviceUnavailable, err)
		if msg := bus.TimedPop(time.Second); msg != nil && msg.Type() == gst.MessageError {
			gerr := msg.ParseError()
			cause = camera.ClassifyDeviceError(gerr.Error(), gerr.DebugString())
		}
		destroyPipeline(elements)
		return nil, cause
	}

	if err := awaitPlaying(bus, elements.Pipeline, 5*time.Second); err != nil {
		destroyPipeline(elements)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.elements = elements
	s.frames = frames
	s.framesClosed.Store(false)
	s.started = time.Now()

	s.wg.Add(1)
	go s.monitor(runCtx)

	slog.Info("gstcam: stream started",
		"source", s.cfg.Source,
		"device", s.cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		"fps", s.cfg.FPS,
	)

	return frames, nil
}

// awaitPlaying pops bus messages until the pipeline is PLAYING, fails,
// or the timeout elapses.
func awaitPlaying(bus *gst.Bus, pipeline *gst.Pipeline, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("gstcam: pipeline failed to start",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return camera.ClassifyDeviceError(gerr.Error(), gerr.DebugString())
		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: pipeline did not reach PLAYING within %s", camera.ErrDeviceUnavailable, timeout)
}

// monitor watches the bus for runtime errors (device unplugged) until
// the stream is stopped.
func (s *Stream) monitor(ctx context.Context) {
	defer s.wg.Done()

	bus := s.elements.Pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("gstcam: end of stream", "uptime", time.Since(s.started))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.errors.Add(1)
			slog.Error("gstcam: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"classified", camera.ClassifyDeviceError(gerr.Error(), gerr.DebugString()),
				"frames_processed", s.seq.Load(),
			)
			return
		}
	}
}

// Stop releases the device. Idempotent.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("gstcam: stop timeout exceeded, monitor may still be running")
	}

	var err error
	if s.elements != nil {
		err = destroyPipeline(s.elements)
		s.elements = nil
	}

	if s.framesClosed.CompareAndSwap(false, true) {
		close(s.frames)
	}

	slog.Info("gstcam: stream stopped",
		"frames_captured", s.seq.Load(),
		"uptime", time.Since(s.started),
	)

	s.cancel = nil
	return err
}

// Stats returns current stream statistics
func (s *Stream) Stats() camera.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frames := s.seq.Load()
	var fps float64
	if !s.started.IsZero() {
		if up := time.Since(s.started).Seconds(); up > 0 {
			fps = float64(frames) / up
		}
	}

	return camera.Stats{
		FrameCount:    frames,
		FramesDropped: s.dropped.Load(),
		FPSReal:       fps,
		Resolution:    fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height),
		IsConnected:   s.elements != nil && s.cancel != nil,
	}
}
