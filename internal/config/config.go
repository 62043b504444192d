package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete faced configuration
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	Profile          Profile          `yaml:"profile"`            // desktop, mobile
	ShutdownTimeoutS int              `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Camera           CameraConfig     `yaml:"camera"`
	Engine           EngineConfig     `yaml:"engine"`
	Enrollment       EnrollmentConfig `yaml:"enrollment"`
	Login            LoginConfig      `yaml:"login"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	HTTP             HTTPConfig       `yaml:"http"`
}

// Profile selects the timing and render budget of a device class
type Profile string

const (
	ProfileDesktop Profile = "desktop"
	ProfileMobile  Profile = "mobile"
)

// Mobile reports whether the mobile timings apply
func (p Profile) Mobile() bool { return p == ProfileMobile }

// CameraConfig contains capture device settings
type CameraConfig struct {
	Source                string `yaml:"source"` // v4l2, test, mock
	Device                string `yaml:"device"` // e.g. /dev/video0
	Width                 int    `yaml:"width"`
	Height                int    `yaml:"height"`
	FPS                   int    `yaml:"fps"`
	ReadyTimeoutMS        int    `yaml:"ready_timeout_ms"`
	MaxRenderWidthDesktop int    `yaml:"max_render_width_desktop"`
	MaxRenderWidthMobile  int    `yaml:"max_render_width_mobile"`
	FramePeriodMS         int    `yaml:"frame_period_ms"` // scheduling tick of the feedback loop
	Mirror                bool   `yaml:"mirror"`          // preview is mirrored (selfie view)
}

// EngineConfig contains recognition worker settings
type EngineConfig struct {
	Command          string   `yaml:"command"`
	Args             []string `yaml:"args"`
	ModelsDir        string   `yaml:"models_dir"`
	LoadTimeoutS     int      `yaml:"load_timeout_s"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms"`
	MaxRestarts      int      `yaml:"max_restarts"`
	BaseDelayMS      int      `yaml:"base_delay_ms"` // sampling base delay (settle before each pose)
	MinConfidence    float64  `yaml:"min_confidence"`
	MinFaceFraction  float64  `yaml:"min_face_fraction"` // face box width over frame width
	YawThreshold     float64  `yaml:"yaw_threshold"`
	RegisterSamples  int      `yaml:"register_samples"`
}

// EnrollmentConfig overrides the guided capture timings (zero keeps the profile default)
type EnrollmentConfig struct {
	MaxAttempts       int `yaml:"max_attempts"`
	PerAttemptDelayMS int `yaml:"per_attempt_delay_ms"`
	HoldDelayMS       int `yaml:"hold_delay_ms"`
	GraceDelayMS      int `yaml:"grace_delay_ms"`
	MobileSettleMS    int `yaml:"mobile_settle_extra_ms"`
}

// LoginConfig contains authentication retry settings
type LoginConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	BackoffBaseMS  int `yaml:"backoff_base_ms"`
	BackoffStepMS  int `yaml:"backoff_step_ms"`
	BackoffMaxMS   int `yaml:"backoff_max_ms"`
	SampleInterval int `yaml:"sample_interval"` // 0 = profile default (6 desktop, 10 mobile)
}

// MQTTConfig contains MQTT broker settings. An empty broker disables the
// event and control planes.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control   string `yaml:"control"`
	Responses string `yaml:"responses"`
	Events    string `yaml:"events"`
	Feedback  string `yaml:"feedback"`
	Health    string `yaml:"health"`
}

// HTTPConfig contains the health/status server settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ShutdownTimeout returns the graceful shutdown budget
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// MaxRenderWidth returns the render width cap for the active profile
func (c *Config) MaxRenderWidth() int {
	if c.Profile.Mobile() {
		return c.Camera.MaxRenderWidthMobile
	}
	return c.Camera.MaxRenderWidthDesktop
}

// SampleInterval returns the detection throttle N for the active profile
func (c *Config) SampleInterval() int {
	if c.Login.SampleInterval > 0 {
		return c.Login.SampleInterval
	}
	if c.Profile.Mobile() {
		return 10
	}
	return 6
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ReadyTimeout returns how long acquire waits for stream metadata
func (c CameraConfig) ReadyTimeout() time.Duration { return ms(c.ReadyTimeoutMS) }

// FramePeriod returns the scheduling tick of continuous loops
func (c CameraConfig) FramePeriod() time.Duration { return ms(c.FramePeriodMS) }

// RequestTimeout returns the per-request deadline of the worker
func (e EngineConfig) RequestTimeout() time.Duration { return ms(e.RequestTimeoutMS) }

// LoadTimeout returns the model loading deadline of the worker
func (e EngineConfig) LoadTimeout() time.Duration {
	return time.Duration(e.LoadTimeoutS) * time.Second
}

// BaseDelay returns the sampling base delay
func (e EngineConfig) BaseDelay() time.Duration { return ms(e.BaseDelayMS) }
