package control_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/e7canasta/orion-faceid/internal/clock"
	"github.com/e7canasta/orion-faceid/internal/config"
	"github.com/e7canasta/orion-faceid/internal/control"
	"github.com/e7canasta/orion-faceid/internal/emitter/emittertest"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/enroll"
	"github.com/e7canasta/orion-faceid/internal/session"
)

type fixture struct {
	cfg    *config.Config
	client *emittertest.Client
	h      *control.Handler
}

func setup(t *testing.T, cb control.CommandCallbacks) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte("instance_id: kiosk-1\ncamera:\n  source: mock\n"))
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}
	client := emittertest.NewClient()
	h := control.NewHandler(cfg, client, cb).WithClock(clock.Fake(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		h.Stop()
		cancel()
	})
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return &fixture{cfg: cfg, client: client, h: h}
}

// send delivers a command and waits for the n-th response.
func (f *fixture) send(t *testing.T, payload string, n int) control.Response {
	t.Helper()
	if !f.client.Deliver(f.cfg.MQTT.Topics.Control, []byte(payload)) {
		t.Fatal("no subscriber on the control topic")
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		msgs := f.client.Published(f.cfg.MQTT.Topics.Responses)
		if len(msgs) >= n {
			var resp control.Response
			if err := json.Unmarshal(msgs[n-1].Payload(), &resp); err != nil {
				t.Fatalf("response payload: %v", err)
			}
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("no response %d for %s", n, payload)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandlerStartEnrollment(t *testing.T) {
	var got enroll.Form
	f := setup(t, control.CommandCallbacks{
		OnStartEnrollment: func(_ context.Context, form enroll.Form) (string, error) {
			got = form
			return "s-42", nil
		},
	})

	resp := f.send(t, `{"command":"start_enrollment","params":{"name":"Ada","email":"ada@example.edu","student_id":"S-1"}}`, 1)

	if resp.Status != "success" || resp.Data["session_id"] != "s-42" {
		t.Fatalf("response = %+v", resp)
	}
	if got.Name != "Ada" || got.Email != "ada@example.edu" || got.StudentID != "S-1" {
		t.Errorf("form = %+v", got)
	}
	if resp.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("timestamp = %q", resp.Timestamp)
	}
}

func TestHandlerErrorsAreCategorized(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantCat session.Category
	}{
		{"models", fmt.Errorf("gate: %w", engine.ErrModelsNotLoaded), session.CategoryModelsNotLoaded},
		{"validation", &enroll.ValidationError{Field: "email", Rule: "must be a valid address"}, session.CategoryValidation},
		{"unknown", fmt.Errorf("socket closed"), session.CategoryNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t, control.CommandCallbacks{
				OnStartLogin: func(context.Context) (string, error) { return "", tt.err },
			})
			resp := f.send(t, `{"command":"start_login"}`, 1)
			if resp.Status != "error" || resp.Category != tt.wantCat {
				t.Fatalf("response = %+v", resp)
			}
			if resp.Error != session.Message(tt.wantCat, tt.err) {
				t.Errorf("error text = %q", resp.Error)
			}
		})
	}
}

func TestHandlerCancelAndStatus(t *testing.T) {
	var reason string
	f := setup(t, control.CommandCallbacks{
		OnCancelSession: func(r string) error {
			reason = r
			return nil
		},
		OnGetStatus: func() map[string]interface{} {
			return map[string]interface{}{"active": false}
		},
	})

	if resp := f.send(t, `{"command":"cancel_session"}`, 1); resp.Status != "success" {
		t.Fatalf("cancel response = %+v", resp)
	}
	if reason != "host request" {
		t.Errorf("reason = %q, want default", reason)
	}

	resp := f.send(t, `{"command":"get_status"}`, 2)
	if resp.Status != "success" || resp.Data["active"] != false {
		t.Errorf("status response = %+v", resp)
	}
}

func TestHandlerRejectsBadInput(t *testing.T) {
	f := setup(t, control.CommandCallbacks{})

	tests := []struct {
		payload string
		wantAck string
		wantErr string
	}{
		{`not json`, "unknown", "invalid JSON"},
		{`{"command":"reboot"}`, "reboot", "unknown command: reboot"},
		{`{"command":"start_login"}`, "start_login", "start_login not implemented"},
	}

	for i, tt := range tests {
		resp := f.send(t, tt.payload, i+1)
		if resp.Status != "error" || resp.CommandAck != tt.wantAck || resp.Error != tt.wantErr {
			t.Errorf("%s: response = %+v", tt.payload, resp)
		}
	}
}

func TestHandlerStopIsIdempotent(t *testing.T) {
	f := setup(t, control.CommandCallbacks{})
	if err := f.h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := f.h.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if f.client.Deliver(f.cfg.MQTT.Topics.Control, []byte(`{"command":"get_status"}`)) {
		t.Error("control topic still subscribed after Stop()")
	}
}
