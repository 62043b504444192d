package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/e7canasta/orion-faceid/internal/config"
)

const minimal = `
instance_id: kiosk-01
`

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Profile != config.ProfileDesktop {
		t.Errorf("Profile = %q, want desktop", cfg.Profile)
	}
	if cfg.Camera.Source != "v4l2" || cfg.Camera.Device != "/dev/video0" {
		t.Errorf("camera = %s %s, want v4l2 /dev/video0", cfg.Camera.Source, cfg.Camera.Device)
	}
	if cfg.Login.MaxAttempts != 6 {
		t.Errorf("Login.MaxAttempts = %d, want 6", cfg.Login.MaxAttempts)
	}
	if cfg.SampleInterval() != 6 {
		t.Errorf("SampleInterval() = %d, want 6", cfg.SampleInterval())
	}
	if cfg.MaxRenderWidth() != 640 {
		t.Errorf("MaxRenderWidth() = %d, want 640", cfg.MaxRenderWidth())
	}
	if cfg.MQTT.Topics.Events != "faceid/events/kiosk-01" {
		t.Errorf("Topics.Events = %q", cfg.MQTT.Topics.Events)
	}
	if cfg.MQTT.Topics.Responses != "faceid/control/kiosk-01/responses" {
		t.Errorf("Topics.Responses = %q", cfg.MQTT.Topics.Responses)
	}
	if cfg.ShutdownTimeout() != 5*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 5s", cfg.ShutdownTimeout())
	}
}

func TestMobileProfile(t *testing.T) {
	cfg, err := config.Parse([]byte("instance_id: phone\nprofile: mobile\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.SampleInterval() != 10 {
		t.Errorf("SampleInterval() = %d, want 10", cfg.SampleInterval())
	}
	if cfg.MaxRenderWidth() != 360 {
		t.Errorf("MaxRenderWidth() = %d, want 360", cfg.MaxRenderWidth())
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing instance", "profile: desktop\n", "instance_id is required"},
		{"bad instance", "instance_id: Kiosk_01\n", "instance_id must match"},
		{"bad profile", "instance_id: a\nprofile: tablet\n", "profile must be"},
		{"bad source", "instance_id: a\ncamera:\n  source: rtsp\n", "unknown source"},
		{"bad confidence", "instance_id: a\nengine:\n  min_confidence: 1.5\n", "min_confidence"},
		{"bad backoff", "instance_id: a\nlogin:\n  backoff_base_ms: 4000\n  backoff_max_ms: 1000\n", "backoff_max_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faced.yaml")
	body := `
instance_id: kiosk-02
camera:
  source: mock
  width: 640
  height: 480
mqtt:
  broker: localhost:1883
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Camera.Device != "" {
		t.Errorf("mock source should not get a device default, got %q", cfg.Camera.Device)
	}
	if cfg.MQTT.Broker != "localhost:1883" {
		t.Errorf("Broker = %q", cfg.MQTT.Broker)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestShippedConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "config", "faced.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Camera.Source != "v4l2" || !cfg.Camera.Mirror {
		t.Errorf("camera = %+v", cfg.Camera)
	}
	if cfg.MQTT.Topics.Control != "faceid/control/kiosk-01" {
		t.Errorf("control topic = %q", cfg.MQTT.Topics.Control)
	}
	if cfg.SampleInterval() != 6 || cfg.MaxRenderWidth() != 640 {
		t.Errorf("SampleInterval() = %d, MaxRenderWidth() = %d", cfg.SampleInterval(), cfg.MaxRenderWidth())
	}
}
