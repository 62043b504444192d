package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	// Validate instance_id
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	switch cfg.Profile {
	case "":
		cfg.Profile = ProfileDesktop
	case ProfileDesktop, ProfileMobile:
	default:
		return fmt.Errorf("profile must be 'desktop' or 'mobile', got '%s'", cfg.Profile)
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateCamera(&cfg.Camera); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	if err := validateEngine(&cfg.Engine); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := validateLogin(&cfg.Login); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if cfg.Enrollment.MaxAttempts < 0 || cfg.Enrollment.PerAttemptDelayMS < 0 {
		return fmt.Errorf("enrollment: timings must be >= 0")
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	// Set default topics if not provided
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("faceid/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Responses == "" {
		cfg.MQTT.Topics.Responses = cfg.MQTT.Topics.Control + "/responses"
	}
	if cfg.MQTT.Topics.Events == "" {
		cfg.MQTT.Topics.Events = fmt.Sprintf("faceid/events/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Feedback == "" {
		cfg.MQTT.Topics.Feedback = fmt.Sprintf("faceid/feedback/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("faceid/health/%s", cfg.InstanceID)
	}

	// Set default QoS if not provided
	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control":  1,
			"events":   1,
			"feedback": 0,
			"health":   0,
		}
	}

	return nil
}

func validateCamera(c *CameraConfig) error {
	switch c.Source {
	case "":
		c.Source = "v4l2"
	case "v4l2", "test", "mock":
	default:
		return fmt.Errorf("unknown source '%s' (must be v4l2, test or mock)", c.Source)
	}
	if c.Source == "v4l2" && c.Device == "" {
		c.Device = "/dev/video0"
	}
	if c.Width == 0 && c.Height == 0 {
		c.Width, c.Height = 1280, 720
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("width and height must be > 0")
	}
	if c.FPS <= 0 {
		c.FPS = 30
	}
	if c.FPS > 60 {
		return fmt.Errorf("fps %d out of range (1-60)", c.FPS)
	}
	if c.ReadyTimeoutMS <= 0 {
		c.ReadyTimeoutMS = 5000
	}
	if c.MaxRenderWidthDesktop <= 0 {
		c.MaxRenderWidthDesktop = 640
	}
	if c.MaxRenderWidthMobile <= 0 {
		c.MaxRenderWidthMobile = 360
	}
	if c.FramePeriodMS <= 0 {
		c.FramePeriodMS = 16
	}
	return nil
}

func validateEngine(e *EngineConfig) error {
	if e.Command == "" {
		e.Command = "models/run_faceid.sh"
	}
	if e.LoadTimeoutS <= 0 {
		e.LoadTimeoutS = 60
	}
	if e.RequestTimeoutMS <= 0 {
		e.RequestTimeoutMS = 5000
	}
	if e.MaxRestarts < 0 {
		return fmt.Errorf("max_restarts must be >= 0")
	}
	if e.BaseDelayMS <= 0 {
		e.BaseDelayMS = 1000
	}
	if e.MinConfidence == 0 {
		e.MinConfidence = 0.6
	}
	if e.MinConfidence < 0 || e.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within [0,1]")
	}
	if e.MinFaceFraction == 0 {
		e.MinFaceFraction = 0.15
	}
	if e.YawThreshold == 0 {
		e.YawThreshold = 0.18
	}
	if e.RegisterSamples <= 0 {
		e.RegisterSamples = 5
	}
	return nil
}

func validateLogin(l *LoginConfig) error {
	if l.MaxAttempts == 0 {
		l.MaxAttempts = 6
	}
	if l.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	if l.BackoffBaseMS == 0 && l.BackoffStepMS == 0 && l.BackoffMaxMS == 0 {
		l.BackoffBaseMS, l.BackoffStepMS, l.BackoffMaxMS = 1000, 500, 3000
	}
	if l.BackoffMaxMS < l.BackoffBaseMS {
		return fmt.Errorf("backoff_max_ms must be >= backoff_base_ms")
	}
	if l.SampleInterval < 0 {
		return fmt.Errorf("sample_interval must be >= 0")
	}
	return nil
}
