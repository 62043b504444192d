package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/capture"
	"github.com/e7canasta/orion-faceid/internal/clock"
	"github.com/e7canasta/orion-faceid/internal/config"
	"github.com/e7canasta/orion-faceid/internal/core"
	"github.com/e7canasta/orion-faceid/internal/enroll"
	"github.com/e7canasta/orion-faceid/internal/session"
)

const defaultConfigPath = "config/faced.yaml"

// CLI flags
var (
	configPath    string
	debug         bool
	nameFlag      string
	emailFlag     string
	studentIDFlag string
	probeDuration time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "faced",
	Short: "Guided face enrollment and login daemon",
	Long: `faced drives a camera and a face recognition engine through guided
enrollment and face login sessions. Hosts control it over MQTT and read
health, status and a live preview over HTTP.

Examples:
  faced serve --config config/faced.yaml
  faced enroll --name "Ada Lovelace" --email ada@example.edu --student-id S-1001
  faced login
  faced probe --duration 5s`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon with the MQTT control plane and HTTP server",
	RunE:  runServe,
}

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Run one guided enrollment from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		form := enroll.Form{Name: nameFlag, Email: emailFlag, StudentID: studentIDFlag}
		return runOnce(cmd.Context(), func(ctx context.Context, lc *session.Lifecycle) (*capture.Session, error) {
			return lc.StartEnrollment(ctx, form)
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Run one face login from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), func(ctx context.Context, lc *session.Lifecycle) (*capture.Session, error) {
			return lc.StartLogin(ctx)
		})
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Open the camera, measure frame rate stability and release it",
	RunE:  runProbe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	enrollCmd.Flags().StringVar(&nameFlag, "name", "", "Full name of the student")
	enrollCmd.Flags().StringVar(&emailFlag, "email", "", "Email address")
	enrollCmd.Flags().StringVar(&studentIDFlag, "student-id", "", "Student ID")

	probeCmd.Flags().DurationVar(&probeDuration, "duration", 5*time.Second, "Measurement window")

	rootCmd.AddCommand(serveCmd, enrollCmd, loginCmd, probeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func loadService() (*core.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("configuration loaded",
		"config", configPath,
		"instance_id", cfg.InstanceID,
		"profile", cfg.Profile,
	)
	return core.NewService(cfg, core.Options{})
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, err := loadService()
	if err != nil {
		return err
	}

	if err := svc.StartHealthServer(svc.Addr()); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	ctx := cmd.Context()
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case runErr = <-errCh:
		if runErr != nil {
			slog.Error("service error", "error", runErr)
		}
	}

	return shutdown(svc, runErr)
}

// runOnce runs a single session to completion and prints its terminal
// event. Interrupting cancels the session, which releases the camera.
func runOnce(ctx context.Context, start func(context.Context, *session.Lifecycle) (*capture.Session, error)) error {
	svc, err := loadService()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(runCtx) }()

	lc := svc.Lifecycle()
	if _, err := start(ctx, lc); err != nil {
		cancel()
		<-errCh
		return shutdown(svc, err)
	}

	go func() {
		<-ctx.Done()
		lc.Cancel("interrupted")
	}()

	ev, err := lc.Wait(context.Background())
	if err == nil {
		out, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Println(string(out))
		if ev.Type == session.EventSessionFailed {
			err = fmt.Errorf("%s: %s", ev.Category, ev.Message)
		}
	}

	cancel()
	<-errCh
	return shutdown(svc, err)
}

func shutdown(svc *core.Service, cause error) error {
	timeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		slog.Error("shutdown failed", "error", err)
		if cause == nil {
			cause = err
		}
	}
	return cause
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	mgr, err := camera.NewManager(camera.ManagerConfig{
		Open:           core.OpenerFor(cfg.Camera),
		MaxRenderWidth: cfg.MaxRenderWidth(),
		ReadyTimeout:   cfg.Camera.ReadyTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create camera manager: %w", err)
	}

	ctx := cmd.Context()
	tap := camera.NewFrameTap(64)
	h, err := mgr.Acquire(ctx, tap)
	if err != nil {
		return fmt.Errorf("failed to acquire camera: %w", err)
	}

	stats, werr := camera.Warmup(ctx, clock.Real(), tap.C, probeDuration)
	live := mgr.Stats()
	if err := mgr.Release(h); err != nil {
		slog.Warn("camera release failed", "error", err)
	}
	if werr != nil {
		return fmt.Errorf("warmup failed: %w", werr)
	}

	out, _ := json.MarshalIndent(struct {
		Source string              `json:"source"`
		Device string              `json:"device,omitempty"`
		Native camera.Size         `json:"native"`
		Render camera.Size         `json:"render"`
		Stats  *camera.WarmupStats `json:"stats"`
		Camera camera.ManagerStats `json:"camera"`
	}{cfg.Camera.Source, cfg.Camera.Device, h.Native(), h.Render(), stats, live}, "", "  ")
	fmt.Println(string(out))
	return nil
}
