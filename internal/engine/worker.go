package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-faceid/internal/clock"
	"github.com/e7canasta/orion-faceid/internal/render"
	"github.com/e7canasta/orion-faceid/internal/retry"
)

// WorkerConfig configures the engine worker subprocess.
type WorkerConfig struct {
	ID        string
	Command   string
	Args      []string
	ModelsDir string

	Analyzer  Analyzer
	BaseDelay time.Duration

	// RegisterSamples is how many distinct frames RegisterFace sends,
	// spaced SampleGap apart.
	RegisterSamples int
	SampleGap       time.Duration

	RequestTimeout time.Duration
	LoadTimeout    time.Duration

	// Restart bounds respawning after the process dies.
	Restart retry.Exponential
	Clock   clock.Clock
}

// WorkerMetrics is a health snapshot of the worker.
type WorkerMetrics struct {
	Active       bool      `json:"active"`
	Requests     uint64    `json:"requests"`
	Failures     uint64    `json:"failures"`
	Restarts     uint64    `json:"restarts"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

type result struct {
	resp response
	err  error
}

// process is one running instance of the worker command.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader

	readers sync.WaitGroup
	wg      sync.WaitGroup
}

// Worker is an Engine backed by a subprocess speaking length-prefixed
// msgpack on stdin/stdout. Requests are multiplexed by ID, so detection
// and authentication may run concurrently.
type Worker struct {
	cfg WorkerConfig
	clk clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	proc    *process
	spawned bool
	pending map[string]chan result

	writeMu sync.Mutex
	stopped atomic.Bool

	requests       atomic.Uint64
	failures       atomic.Uint64
	restarts       atomic.Uint64
	totalLatencyMS atomic.Uint64
	lastSeenAt     atomic.Value // time.Time
}

// NewWorker validates cfg and returns an idle worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("engine worker command is required")
	}
	if cfg.ID == "" {
		cfg.ID = "faceid-engine"
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 60 * time.Second
	}
	if cfg.RegisterSamples <= 0 {
		cfg.RegisterSamples = 5
	}
	if cfg.SampleGap <= 0 {
		cfg.SampleGap = 200 * time.Millisecond
	}
	if cfg.Restart.MaxRetries == 0 {
		cfg.Restart = retry.DefaultExponential()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		cfg:     cfg,
		clk:     cfg.Clock,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan result),
	}

	slog.Info("engine worker created",
		"worker_id", cfg.ID,
		"command", cfg.Command,
		"models_dir", cfg.ModelsDir,
	)
	return w, nil
}

// ID returns the worker ID.
func (w *Worker) ID() string { return w.cfg.ID }

// Start spawns the subprocess, retrying with backoff.
func (w *Worker) Start(ctx context.Context) error {
	if w.stopped.Load() {
		return fmt.Errorf("engine worker stopped")
	}
	_, err := w.ensure(ctx)
	return err
}

func (w *Worker) ensure(ctx context.Context) (*process, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.proc != nil {
		return w.proc, nil
	}
	if w.stopped.Load() {
		return nil, fmt.Errorf("%w: worker stopped", ErrNetwork)
	}

	var p *process
	err := retry.Run(ctx, w.clk, w.cfg.Restart, "engine worker spawn", func(context.Context) error {
		var err error
		p, err = w.spawn()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	if w.spawned {
		w.restarts.Add(1)
	}
	w.spawned = true
	w.attachLocked(p)
	return p, nil
}

func (w *Worker) spawn() (*process, error) {
	args := append([]string{}, w.cfg.Args...)
	if w.cfg.ModelsDir != "" {
		args = append(args, "--models", w.cfg.ModelsDir)
	}

	cmd := exec.CommandContext(w.ctx, w.cfg.Command, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine process: %w", err)
	}

	slog.Info("engine process spawned",
		"worker_id", w.cfg.ID,
		"pid", cmd.Process.Pid,
	)

	return &process{cmd: cmd, stdin: stdin, stdout: stdout, stderr: bufio.NewReader(stderr)}, nil
}

// attachLocked starts the goroutines serving p. w.mu must be held.
func (w *Worker) attachLocked(p *process) {
	w.proc = p
	w.lastSeenAt.Store(w.clk.Now())

	p.readers.Add(1)
	p.wg.Add(1)
	go w.readResults(p)

	if p.stderr != nil {
		p.readers.Add(1)
		p.wg.Add(1)
		go w.logStderr(p)
	}

	if p.cmd != nil {
		p.wg.Add(1)
		go w.waitProcess(p)
	}
}

// readResults dispatches responses to their waiting requests.
func (w *Worker) readResults(p *process) {
	defer p.wg.Done()
	defer p.readers.Done()

	for {
		var resp response
		if err := readMessage(p.stdout, &resp); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("engine worker stdout closed", "worker_id", w.cfg.ID)
			} else {
				slog.Error("failed to read from engine worker",
					"worker_id", w.cfg.ID,
					"error", err,
				)
			}
			w.detach(p, err)
			return
		}

		w.lastSeenAt.Store(w.clk.Now())

		w.mu.Lock()
		ch, ok := w.pending[resp.ID]
		delete(w.pending, resp.ID)
		w.mu.Unlock()

		if !ok {
			slog.Warn("engine worker response without pending request",
				"worker_id", w.cfg.ID,
				"request_id", resp.ID,
			)
			continue
		}
		ch <- result{resp: resp}
	}
}

// logStderr maps the worker's log levels onto slog.
func (w *Worker) logStderr(p *process) {
	defer p.wg.Done()
	defer p.readers.Done()

	scanner := bufio.NewScanner(p.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			slog.Error("engine worker error", "worker_id", w.cfg.ID, "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			slog.Warn("engine worker warning", "worker_id", w.cfg.ID, "log", line)
		default:
			slog.Debug("engine worker log", "worker_id", w.cfg.ID, "log", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("error reading engine worker stderr", "worker_id", w.cfg.ID, "error", err)
	}
}

// waitProcess reaps the process once its pipes are drained.
func (w *Worker) waitProcess(p *process) {
	defer p.wg.Done()

	p.readers.Wait()
	err := p.cmd.Wait()

	select {
	case <-w.ctx.Done():
		slog.Debug("engine process exited (shutdown)", "worker_id", w.cfg.ID)
	default:
		if err != nil {
			slog.Error("engine process exited unexpectedly",
				"worker_id", w.cfg.ID,
				"error", err,
			)
		} else {
			slog.Warn("engine process exited", "worker_id", w.cfg.ID)
		}
	}
	w.detach(p, err)
}

// detach forgets p and fails every request waiting on it. The next
// request respawns the process.
func (w *Worker) detach(p *process, cause error) {
	w.mu.Lock()
	if w.proc != p {
		w.mu.Unlock()
		return
	}
	w.proc = nil
	pending := w.pending
	w.pending = make(map[string]chan result)
	w.mu.Unlock()

	if p.stdin != nil {
		p.stdin.Close()
	}

	err := fmt.Errorf("%w: worker process gone", ErrNetwork)
	if cause != nil && !errors.Is(cause, io.EOF) {
		err = fmt.Errorf("%w: %v", ErrNetwork, cause)
	}
	for _, ch := range pending {
		ch <- result{err: err}
	}
}

func (w *Worker) call(ctx context.Context, req request, timeout time.Duration) (response, error) {
	p, err := w.ensure(ctx)
	if err != nil {
		w.failures.Add(1)
		return response{}, err
	}

	req.ID = uuid.NewString()
	ch := make(chan result, 1)

	w.mu.Lock()
	w.pending[req.ID] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, req.ID)
		w.mu.Unlock()
	}()

	w.requests.Add(1)
	start := w.clk.Now()

	if err := w.send(p, req); err != nil {
		w.failures.Add(1)
		w.detach(p, err)
		return response{}, fmt.Errorf("%w: %s: %v", ErrNetwork, req.Op, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			w.failures.Add(1)
			return response{}, r.err
		}
		w.totalLatencyMS.Add(uint64(w.clk.Now().Sub(start).Milliseconds()))
		if r.resp.Error != nil {
			return r.resp, &RemoteError{Op: req.Op, Code: r.resp.Error.Code, Message: r.resp.Error.Message}
		}
		return r.resp, nil
	case <-w.clk.After(timeout):
		w.failures.Add(1)
		return response{}, fmt.Errorf("%w: %s timed out after %s", ErrNetwork, req.Op, timeout)
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// send writes req with a timeout so a hung process cannot block callers.
func (w *Worker) send(p *process, req request) error {
	errCh := make(chan error, 1)
	go func() {
		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		errCh <- writeMessage(p.stdin, req)
	}()

	select {
	case err := <-errCh:
		return err
	case <-w.clk.After(2 * time.Second):
		return fmt.Errorf("write timeout (engine worker blocked)")
	}
}

// LoadModels asks the worker to load its models.
func (w *Worker) LoadModels(ctx context.Context) (bool, error) {
	resp, err := w.call(ctx, request{Op: opLoadModels, ModelsDir: w.cfg.ModelsDir}, w.cfg.LoadTimeout)
	if err != nil {
		return false, err
	}
	return resp.Loaded, nil
}

// DetectFace runs detection on the latest frame of src.
func (w *Worker) DetectFace(ctx context.Context, src FrameSource) (*Sample, error) {
	f, ok := src.Latest()
	if !ok {
		return nil, nil
	}

	resp, err := w.call(ctx, request{Op: opDetect, Frames: []wireFrame{toWire(f)}}, w.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	s := resp.Detection
	if s == nil {
		return nil, nil
	}
	if s.FrameWidth == 0 || s.FrameHeight == 0 {
		s.FrameWidth, s.FrameHeight = f.Width, f.Height
	}
	return s, nil
}

func (w *Worker) AnalyzeFacePosition(s Sample) Position { return w.cfg.Analyzer.Position(s) }

func (w *Worker) IsDetectionQualityGood(s Sample) bool { return w.cfg.Analyzer.Quality(s) }

func (w *Worker) SamplingConfig() SamplingConfig {
	return SamplingConfig{BaseDelay: w.cfg.BaseDelay}
}

// Delay waits d on the worker's clock.
func (w *Worker) Delay(ctx context.Context, d time.Duration) error {
	return clock.SleepContext(ctx, w.clk, d)
}

// RegisterFace sends RegisterSamples distinct frames with the enrollee.
func (w *Worker) RegisterFace(ctx context.Context, src FrameSource, e Enrollee) (*Identity, error) {
	frames, err := w.collect(ctx, src, w.cfg.RegisterSamples)
	if err != nil {
		return nil, err
	}

	timeout := w.cfg.RequestTimeout * time.Duration(len(frames))
	resp, err := w.call(ctx, request{Op: opRegister, Frames: frames, Enrollee: &e}, timeout)
	if err != nil {
		return nil, err
	}
	if resp.Identity == nil {
		return nil, fmt.Errorf("%w: register returned no identity", ErrNetwork)
	}
	return resp.Identity, nil
}

// collect gathers up to n frames with distinct sequence numbers.
func (w *Worker) collect(ctx context.Context, src FrameSource, n int) ([]wireFrame, error) {
	frames := make([]wireFrame, 0, n)
	var lastSeq uint64
	for i := 0; len(frames) < n && i < n*3; i++ {
		if i > 0 {
			if err := w.Delay(ctx, w.cfg.SampleGap); err != nil {
				return nil, err
			}
		}
		f, ok := src.Latest()
		if !ok {
			break
		}
		if len(frames) > 0 && f.Seq == lastSeq {
			continue
		}
		lastSeq = f.Seq
		frames = append(frames, toWire(f))
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames available", ErrInsufficientSamples)
	}
	return frames, nil
}

// AuthenticateUser matches the latest frame of src against enrolled users.
func (w *Worker) AuthenticateUser(ctx context.Context, src FrameSource) (*AuthResult, error) {
	f, ok := src.Latest()
	if !ok {
		return &AuthResult{Reason: "no frame"}, nil
	}

	resp, err := w.call(ctx, request{Op: opAuthenticate, Frames: []wireFrame{toWire(f)}}, w.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Auth == nil {
		return &AuthResult{Reason: "empty response"}, nil
	}
	return resp.Auth, nil
}

func (w *Worker) DrawFaceDetection(surface render.Surface, s Sample, sx, sy float64) {
	w.cfg.Analyzer.DrawDetection(surface, s, sx, sy)
}

// Metrics returns the current worker health metrics.
func (w *Worker) Metrics() WorkerMetrics {
	requests := w.requests.Load()
	failures := w.failures.Load()

	var avg float64
	if ok := requests - failures; ok > 0 && requests >= failures {
		avg = float64(w.totalLatencyMS.Load()) / float64(ok)
	}

	var lastSeen time.Time
	if v := w.lastSeenAt.Load(); v != nil {
		lastSeen = v.(time.Time)
	}

	w.mu.Lock()
	active := w.proc != nil
	w.mu.Unlock()

	return WorkerMetrics{
		Active:       active,
		Requests:     requests,
		Failures:     failures,
		Restarts:     w.restarts.Load(),
		AvgLatencyMS: avg,
		LastSeenAt:   lastSeen,
	}
}

// Stop shuts the process down, killing it after 2s. Idempotent.
func (w *Worker) Stop() error {
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}

	slog.Info("stopping engine worker", "worker_id", w.cfg.ID)

	w.mu.Lock()
	p := w.proc
	w.mu.Unlock()

	if p == nil {
		w.cancel()
		return nil
	}

	// Closing stdin lets the worker exit on its own before the context
	// kills it.
	p.stdin.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("engine worker stopped cleanly", "worker_id", w.cfg.ID)
	case <-time.After(2 * time.Second):
		slog.Warn("engine worker stop timeout, force killing process", "worker_id", w.cfg.ID)
		if p.cmd != nil && p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill engine process", "worker_id", w.cfg.ID, "error", err)
			}
		}
	}

	w.cancel()
	w.detach(p, nil)

	slog.Info("engine worker stopped",
		"worker_id", w.cfg.ID,
		"requests", w.requests.Load(),
		"failures", w.failures.Load(),
	)
	return nil
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ Engine = (*Worker)(nil)
