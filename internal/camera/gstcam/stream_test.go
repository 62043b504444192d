package gstcam

import "testing"

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"v4l2 ok", Config{Source: "v4l2", Device: "/dev/video0", Width: 640, Height: 480, FPS: 30}, false},
		{"default source needs device", Config{Width: 640, Height: 480, FPS: 30}, true},
		{"test source without device", Config{Source: "test", Width: 640, Height: 480, FPS: 15}, false},
		{"bad resolution", Config{Source: "test", Width: 0, Height: 480, FPS: 30}, true},
		{"bad fps", Config{Source: "test", Width: 640, Height: 480, FPS: 120}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildCaps(t *testing.T) {
	got := buildCaps(1280, 720, 30)
	want := "video/x-raw,format=RGB,width=1280,height=720,framerate=30/1"
	if got != want {
		t.Errorf("buildCaps() = %q, want %q", got, want)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s, err := New(Config{Source: "test", Width: 320, Height: 240, FPS: 10})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop() on idle stream error = %v", err)
	}
	if st := s.Stats(); st.IsConnected {
		t.Error("idle stream reports connected")
	}
}
