package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-faceid/internal/clock"
)

// pumpStopTimeout bounds the wait for the frame pump on Release.
const pumpStopTimeout = 3 * time.Second

// Opener builds a fresh Stream for every acquire.
type Opener func() (Stream, error)

// ManagerConfig contains configuration for the camera resource manager
type ManagerConfig struct {
	Open           Opener
	Clock          clock.Clock
	MaxRenderWidth int
	// ReadyTimeout bounds the wait for the first frame (stream metadata).
	ReadyTimeout time.Duration
}

// Manager owns the single live camera handle of the process.
//
// Acquire opens the device and binds it to a sink; Release stops every
// capture track. At most one handle is live at a time.
type Manager struct {
	open           Opener
	clock          clock.Clock
	maxRenderWidth int
	readyTimeout   time.Duration

	acquireMu sync.Mutex
	current   atomic.Pointer[Handle]

	acquires atomic.Uint64
	releases atomic.Uint64
	failures atomic.Uint64
}

// NewManager creates a camera manager with fail-fast validation
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Open == nil {
		return nil, fmt.Errorf("camera: opener is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}

	return &Manager{
		open:           cfg.Open,
		clock:          cfg.Clock,
		maxRenderWidth: cfg.MaxRenderWidth,
		readyTimeout:   cfg.ReadyTimeout,
	}, nil
}

// Acquire opens the camera, waits for the first frame to learn the
// native resolution, sizes the sink, and starts feeding it.
//
// Errors wrap ErrSinkNotReady, ErrPermissionDenied, ErrDeviceUnavailable
// or ErrAlreadyOpen. On error nothing is left open.
func (m *Manager) Acquire(ctx context.Context, sink Sink) (*Handle, error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	if m.current.Load() != nil {
		return nil, ErrAlreadyOpen
	}
	if sink == nil || !sink.Ready() {
		m.failures.Add(1)
		return nil, ErrSinkNotReady
	}

	stream, err := m.open()
	if err != nil {
		m.failures.Add(1)
		return nil, asDeviceError(err)
	}

	// The stream outlives the acquire call; Release owns its lifetime.
	streamCtx, cancel := context.WithCancel(context.Background())
	frames, err := stream.Start(streamCtx)
	if err != nil {
		cancel()
		stream.Stop()
		m.failures.Add(1)
		return nil, asDeviceError(err)
	}

	first, err := m.awaitFirstFrame(ctx, frames)
	if err != nil {
		cancel()
		stream.Stop()
		m.failures.Add(1)
		return nil, err
	}

	native := Size{Width: first.Width, Height: first.Height}
	h := &Handle{
		id:       uuid.New().String(),
		native:   native,
		render:   RenderSize(native, m.maxRenderWidth),
		stream:   stream,
		cancel:   cancel,
		done:     make(chan struct{}),
		openedAt: m.clock.Now(),
	}

	sink.Resize(h.render.Width, h.render.Height)
	h.store(first)
	sink.Present(first)

	go h.pump(streamCtx, frames, sink)

	m.current.Store(h)
	m.acquires.Add(1)

	slog.Info("camera: acquired",
		"handle", h.id,
		"native", fmt.Sprintf("%dx%d", native.Width, native.Height),
		"render", fmt.Sprintf("%dx%d", h.render.Width, h.render.Height),
	)

	return h, nil
}

func (m *Manager) awaitFirstFrame(ctx context.Context, frames <-chan Frame) (Frame, error) {
	select {
	case f, ok := <-frames:
		if !ok {
			return Frame{}, fmt.Errorf("%w: stream closed before first frame", ErrDeviceUnavailable)
		}
		if f.Width <= 0 || f.Height <= 0 {
			return Frame{}, fmt.Errorf("%w: frame without dimensions", ErrDeviceUnavailable)
		}
		return f, nil
	case <-m.clock.After(m.readyTimeout):
		return Frame{}, fmt.Errorf("%w: no frame within %s", ErrDeviceUnavailable, m.readyTimeout)
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Release stops all capture tracks of h. It is idempotent: releasing a
// nil or already released handle is a no-op returning nil.
func (m *Manager) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	if !h.released.CompareAndSwap(false, true) {
		slog.Debug("camera: handle already released", "handle", h.id)
		return nil
	}

	h.cancel()
	stopErr := h.stream.Stop()

	timeout := make(chan struct{})
	timer := m.clock.AfterFunc(pumpStopTimeout, func() { close(timeout) })
	select {
	case <-h.done:
	case <-timeout:
		slog.Warn("camera: frame pump did not stop in time", "handle", h.id)
	}
	timer.Stop()

	m.current.CompareAndSwap(h, nil)
	m.releases.Add(1)

	slog.Info("camera: released",
		"handle", h.id,
		"frames", h.frames.Load(),
		"uptime", m.clock.Now().Sub(h.openedAt),
	)

	if stopErr != nil {
		return fmt.Errorf("camera: stop stream: %w", stopErr)
	}
	return nil
}

// Current returns the live handle, or nil.
func (m *Manager) Current() *Handle {
	return m.current.Load()
}

// ManagerStats contains acquire/release counters and the live stream stats
type ManagerStats struct {
	Open     bool    `json:"open"`
	Handle   string  `json:"handle,omitempty"`
	Acquires uint64  `json:"acquires"`
	Releases uint64  `json:"releases"`
	Failures uint64  `json:"failures"`
	Frames   uint64  `json:"frames"`
	Dropped  uint64  `json:"dropped"`
	FPS      float64 `json:"fps"`
}

// Stats returns current manager statistics
func (m *Manager) Stats() ManagerStats {
	s := ManagerStats{
		Acquires: m.acquires.Load(),
		Releases: m.releases.Load(),
		Failures: m.failures.Load(),
	}
	if h := m.current.Load(); h != nil {
		st := h.stream.Stats()
		s.Open = true
		s.Handle = h.id
		s.Frames = st.FrameCount
		s.Dropped = st.FramesDropped
		s.FPS = st.FPSReal
	}
	return s
}

// Handle is a live camera acquisition. Every reader sees the same latest
// frame.
type Handle struct {
	id       string
	native   Size
	render   Size
	stream   Stream
	cancel   context.CancelFunc
	latest   atomic.Pointer[Frame]
	frames   atomic.Uint64
	done     chan struct{}
	released atomic.Bool
	openedAt time.Time
}

// ID returns the handle identifier
func (h *Handle) ID() string { return h.id }

// Native returns the device resolution
func (h *Handle) Native() Size { return h.native }

// Render returns the display size bound to the sink
func (h *Handle) Render() Size { return h.render }

// Released reports whether Release has been called
func (h *Handle) Released() bool { return h.released.Load() }

// Done is closed once the frame pump has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Latest returns the most recent frame. ok is false once released.
func (h *Handle) Latest() (Frame, bool) {
	if h.released.Load() {
		return Frame{}, false
	}
	f := h.latest.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

func (h *Handle) store(f Frame) {
	h.latest.Store(&f)
	h.frames.Add(1)
}

// pump moves frames into the latest-frame slot and the sink until the
// stream closes or the handle is released.
func (h *Handle) pump(ctx context.Context, frames <-chan Frame, sink Sink) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				slog.Debug("camera: frame channel closed", "handle", h.id)
				return
			}
			h.store(f)
			sink.Present(f)
		}
	}
}
