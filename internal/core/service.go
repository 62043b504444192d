// Package core wires the face identification daemon together.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/camera/gstcam"
	"github.com/e7canasta/orion-faceid/internal/clock"
	"github.com/e7canasta/orion-faceid/internal/config"
	"github.com/e7canasta/orion-faceid/internal/control"
	"github.com/e7canasta/orion-faceid/internal/emitter"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/enroll"
	"github.com/e7canasta/orion-faceid/internal/feedback"
	"github.com/e7canasta/orion-faceid/internal/retry"
	"github.com/e7canasta/orion-faceid/internal/session"
)

const healthInterval = 10 * time.Second

// Options overrides collaborators normally built from the configuration.
type Options struct {
	Engine     engine.Engine
	Open       camera.Opener
	Clock      clock.Clock
	MQTTClient mqtt.Client // already connected; skips Connect
}

// Service is the main daemon orchestrator
type Service struct {
	cfg  *config.Config
	clk  clock.Clock
	opts Options

	engine    engine.Engine
	worker    *engine.Worker
	camera    *camera.Manager
	lifecycle *session.Lifecycle
	emitter   *emitter.MQTTEmitter
	control   *control.Handler
	server    *http.Server

	mu        sync.RWMutex
	wg        sync.WaitGroup
	started   time.Time
	isRunning bool
	cancelRun context.CancelFunc
}

// NewService builds every component from cfg. Nothing is started.
func NewService(cfg *config.Config, opts Options) (*Service, error) {
	s := &Service{cfg: cfg, opts: opts, clk: opts.Clock}
	if s.clk == nil {
		s.clk = clock.Real()
	}

	s.engine = opts.Engine
	if s.engine == nil {
		w, err := newWorker(cfg, s.clk)
		if err != nil {
			return nil, fmt.Errorf("failed to create engine worker: %w", err)
		}
		s.worker = w
		s.engine = w
	}

	open := opts.Open
	if open == nil {
		open = OpenerFor(cfg.Camera)
	}
	mgr, err := camera.NewManager(camera.ManagerConfig{
		Open:           open,
		Clock:          s.clk,
		MaxRenderWidth: cfg.MaxRenderWidth(),
		ReadyTimeout:   cfg.Camera.ReadyTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create camera manager: %w", err)
	}
	s.camera = mgr

	var events session.Events = session.NopEvents{}
	reporter := feedback.Log()
	if cfg.MQTT.Broker != "" || opts.MQTTClient != nil {
		s.emitter = emitter.NewMQTTEmitter(cfg)
		events = s.emitter
		reporter = feedback.Multi(reporter, s.emitter)
	}

	lc, err := session.New(session.Config{
		Engine:   s.engine,
		Camera:   mgr,
		Clock:    s.clk,
		Events:   events,
		Feedback: reporter,
		Timing:   enroll.TimingFor(cfg),
		Login: session.LoginSettings{
			MaxAttempts: cfg.Login.MaxAttempts,
			Backoff: retry.Linear{
				Base: time.Duration(cfg.Login.BackoffBaseMS) * time.Millisecond,
				Step: time.Duration(cfg.Login.BackoffStepMS) * time.Millisecond,
				Max:  time.Duration(cfg.Login.BackoffMaxMS) * time.Millisecond,
			}.Delay,
			SampleInterval: cfg.SampleInterval(),
			FramePeriod:    cfg.Camera.FramePeriod(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session lifecycle: %w", err)
	}
	s.lifecycle = lc

	slog.Info("service configured",
		"instance_id", cfg.InstanceID,
		"profile", cfg.Profile,
		"camera_source", cfg.Camera.Source,
		"mqtt", s.emitter != nil,
	)
	return s, nil
}

func newWorker(cfg *config.Config, clk clock.Clock) (*engine.Worker, error) {
	restart := retry.DefaultExponential()
	if cfg.Engine.MaxRestarts > 0 {
		restart.MaxRetries = cfg.Engine.MaxRestarts
	}
	return engine.NewWorker(engine.WorkerConfig{
		ID:        "faceid-engine",
		Command:   cfg.Engine.Command,
		Args:      cfg.Engine.Args,
		ModelsDir: cfg.Engine.ModelsDir,
		Analyzer: engine.Analyzer{
			YawThreshold:    cfg.Engine.YawThreshold,
			MinConfidence:   cfg.Engine.MinConfidence,
			MinFaceFraction: cfg.Engine.MinFaceFraction,
			Mirror:          cfg.Camera.Mirror,
		},
		BaseDelay:       cfg.Engine.BaseDelay(),
		RegisterSamples: cfg.Engine.RegisterSamples,
		RequestTimeout:  cfg.Engine.RequestTimeout(),
		LoadTimeout:     cfg.Engine.LoadTimeout(),
		Restart:         restart,
		Clock:           clk,
	})
}

// OpenerFor returns the stream factory for the configured source.
func OpenerFor(c config.CameraConfig) camera.Opener {
	if c.Source == "mock" {
		return func() (camera.Stream, error) {
			return camera.NewMockStream(c.Width, c.Height, c.FPS, clock.Real()), nil
		}
	}
	return func() (camera.Stream, error) {
		s, err := gstcam.New(gstcam.Config{
			Source: c.Source,
			Device: c.Device,
			Width:  c.Width,
			Height: c.Height,
			FPS:    c.FPS,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Lifecycle returns the session lifecycle.
func (s *Service) Lifecycle() *session.Lifecycle { return s.lifecycle }

// Addr returns the configured HTTP listen address.
func (s *Service) Addr() string { return s.cfg.HTTP.Addr }

// Camera returns the camera manager.
func (s *Service) Camera() *camera.Manager { return s.camera }

// Run starts the engine, the model gate and the MQTT planes, then blocks
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.isRunning = true
	s.started = s.clk.Now()
	s.cancelRun = cancel
	s.mu.Unlock()

	slog.Info("faceid service starting", "instance_id", s.cfg.InstanceID)

	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start engine worker: %w", err)
		}
	}

	// Models load once per process. A failure here is not fatal: every
	// session start retries the gate and reports models_not_loaded.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.lifecycle.Gate().Ensure(ctx); err != nil {
			slog.Error("model loading failed", "error", err)
			return
		}
		slog.Info("models loaded")
	}()

	if s.emitter != nil {
		if err := s.startMQTT(ctx); err != nil {
			return err
		}
	}

	slog.Info("faceid service running")

	<-ctx.Done()
	slog.Info("faceid service run loop exiting")
	return nil
}

func (s *Service) startMQTT(ctx context.Context) error {
	if s.opts.MQTTClient != nil {
		s.emitter.Use(s.opts.MQTTClient)
	} else if err := s.emitter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}

	h := control.NewHandler(s.cfg, s.emitter.Client, control.CommandCallbacks{
		OnStartEnrollment: func(ctx context.Context, form enroll.Form) (string, error) {
			sess, err := s.lifecycle.StartEnrollment(ctx, form)
			if err != nil {
				return "", err
			}
			return sess.ID, nil
		},
		OnStartLogin: func(ctx context.Context) (string, error) {
			sess, err := s.lifecycle.StartLogin(ctx)
			if err != nil {
				return "", err
			}
			return sess.ID, nil
		},
		OnCancelSession: s.lifecycle.Cancel,
		OnGetStatus: func() map[string]interface{} {
			return toMap(s.lifecycle.Status())
		},
	}).WithClock(s.clk)
	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}

	s.mu.Lock()
	s.control = h
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.publishHealth(ctx)
	}()
	return nil
}

// publishHealth publishes a health snapshot on every tick.
func (s *Service) publishHealth(ctx context.Context) {
	ticker := s.clk.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(s.HealthCheck())
			if err != nil {
				slog.Error("failed to marshal health", "error", err)
				continue
			}
			if err := s.emitter.PublishHealth(payload); err != nil {
				slog.Debug("health not published", "error", err)
			}
		}
	}
}

// ShutdownTimeout returns the configured graceful shutdown budget
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// Shutdown cancels any running session (releasing the camera), stops the
// control plane, the engine worker and the HTTP server, and disconnects
// MQTT.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return s.lifecycle.Close(ctx)
	}
	ctrl := s.control
	server := s.server
	cancelRun := s.cancelRun
	s.mu.Unlock()

	slog.Info("shutting down faceid service")
	cancelRun()

	// 1. End the session first so the camera is released
	if err := s.lifecycle.Close(ctx); err != nil {
		slog.Error("failed to close session lifecycle", "error", err)
	}

	// 2. Stop accepting commands
	if ctrl != nil {
		if err := ctrl.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// 3. Wait for background goroutines
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("background goroutines did not stop in time")
	}

	// 4. Stop the engine
	if s.worker != nil {
		if err := s.worker.Stop(); err != nil {
			slog.Error("failed to stop engine worker", "error", err)
		}
	}

	// 5. HTTP and MQTT last, so final events still go out
	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("failed to stop http server", "error", err)
		}
	}
	if s.emitter != nil {
		s.emitter.Disconnect()
	}

	s.mu.Lock()
	uptime := s.clk.Now().Sub(s.started)
	s.isRunning = false
	s.mu.Unlock()

	slog.Info("faceid service shutdown complete", "uptime", uptime)
	return nil
}

func toMap(v interface{}) map[string]interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	return m
}
