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

// MockStream generates synthetic frames on a clock ticker
type MockStream struct {
	width  int
	height int
	fps    int
	clock  clock.Clock

	// StartErr, when set, is returned by Start instead of opening.
	StartErr error

	mu        sync.Mutex
	frames    chan Frame
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time

	seq     atomic.Uint64
	dropped atomic.Uint64
	stops   atomic.Uint64
}

// NewMockStream creates a new mock stream provider
func NewMockStream(width, height, fps int, clk clock.Clock) *MockStream {
	if fps <= 0 {
		fps = 30
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &MockStream{
		width:  width,
		height: height,
		fps:    fps,
		clock:  clk,
	}
}

// Start begins generating frames
func (m *MockStream) Start(ctx context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StartErr != nil {
		return nil, m.StartErr
	}
	if m.cancel != nil {
		return nil, fmt.Errorf("camera: mock stream already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.frames = make(chan Frame, 10)
	m.startTime = m.clock.Now()

	slog.Info("camera: mock stream starting",
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
	)

	// Ticker is created before the goroutine so a fake clock sees it
	// as soon as Start returns.
	ticker := m.clock.NewTicker(time.Second / time.Duration(m.fps))
	m.wg.Add(1)
	go m.generate(runCtx, ticker, m.frames)

	return m.frames, nil
}

// Stop stops the stream. Idempotent.
func (m *MockStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel == nil {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	close(m.frames)
	m.cancel = nil
	m.stops.Add(1)

	slog.Info("camera: mock stream stopped", "frames_emitted", m.seq.Load())
	return nil
}

// Stops returns how many times a running stream was stopped
func (m *MockStream) Stops() uint64 { return m.stops.Load() }

// Stats returns stream statistics
func (m *MockStream) Stats() Stats {
	m.mu.Lock()
	running := m.cancel != nil
	started := m.startTime
	m.mu.Unlock()

	frames := m.seq.Load()
	var fps float64
	if running && frames > 0 {
		if elapsed := m.clock.Now().Sub(started).Seconds(); elapsed > 0 {
			fps = float64(frames) / elapsed
		}
	}

	return Stats{
		FrameCount:    frames,
		FramesDropped: m.dropped.Load(),
		FPSReal:       fps,
		Resolution:    fmt.Sprintf("%dx%d", m.width, m.height),
		IsConnected:   running,
	}
}

// Emit pushes one frame immediately, bypassing the ticker.
func (m *MockStream) Emit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return
	}
	m.send(m.frames, m.createFrame())
}

func (m *MockStream) generate(ctx context.Context, ticker *clock.Ticker, out chan<- Frame) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.send(out, m.createFrame())
		}
	}
}

func (m *MockStream) send(out chan<- Frame, f Frame) {
	select {
	case out <- f:
	default:
		m.dropped.Add(1)
	}
}

// createFrame builds a horizontal gradient so previews are not blank
func (m *MockStream) createFrame() Frame {
	seq := m.seq.Add(1)

	data := make([]byte, m.width*m.height*3)
	shift := byte(seq)
	for y := 0; y < m.height; y++ {
		row := data[y*m.width*3:]
		for x := 0; x < m.width; x++ {
			v := byte(x*255/max(m.width-1, 1)) + shift
			row[x*3], row[x*3+1], row[x*3+2] = v, v/2, 255-v
		}
	}

	return Frame{
		Seq:       seq,
		Timestamp: m.clock.Now(),
		Width:     m.width,
		Height:    m.height,
		Data:      data,
		TraceID:   uuid.New().String(),
	}
}
