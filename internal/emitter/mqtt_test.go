package emitter_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/e7canasta/orion-faceid/internal/capture"
	"github.com/e7canasta/orion-faceid/internal/config"
	"github.com/e7canasta/orion-faceid/internal/emitter"
	"github.com/e7canasta/orion-faceid/internal/emitter/emittertest"
	"github.com/e7canasta/orion-faceid/internal/feedback"
	"github.com/e7canasta/orion-faceid/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("instance_id: kiosk-1\ncamera:\n  source: mock\n"))
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}
	return cfg
}

func TestEmitterPublishesEventsByType(t *testing.T) {
	cfg := testConfig(t)
	client := emittertest.NewClient()
	e := emitter.NewMQTTEmitter(cfg)
	e.Use(client)

	var events session.Events = e
	events.SessionFailed(session.Event{
		Type:      session.EventSessionFailed,
		SessionID: "s-1",
		Mode:      capture.ModeLogin,
		Category:  session.CategoryAuthenticationExhausted,
		Message:   "Face not recognized",
	})
	events.LoginSucceeded(session.Event{Type: session.EventLoginSucceeded, SessionID: "s-2"})

	failed := client.Published("faceid/events/kiosk-1/session_failed")
	if len(failed) != 1 {
		t.Fatalf("session_failed messages = %d, want 1", len(failed))
	}
	if failed[0].Qos() != 1 {
		t.Errorf("qos = %d, want 1", failed[0].Qos())
	}
	var got session.Event
	if err := json.Unmarshal(failed[0].Payload(), &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Category != session.CategoryAuthenticationExhausted || got.SessionID != "s-1" {
		t.Errorf("event = %+v", got)
	}
	if n := len(client.Published("faceid/events/kiosk-1/login_succeeded")); n != 1 {
		t.Errorf("login_succeeded messages = %d, want 1", n)
	}

	st := e.Stats()
	if !st.Connected || st.Errors != 0 || st.Published["faceid/events/kiosk-1/session_failed"] != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestEmitterReportsFeedback(t *testing.T) {
	cfg := testConfig(t)
	client := emittertest.NewClient()
	e := emitter.NewMQTTEmitter(cfg)
	e.Use(client)

	var r feedback.Reporter = e
	r.Report(feedback.Message{SessionID: "s-1", Kind: feedback.KindHold, Text: "Hold still"})

	msgs := client.Published(cfg.MQTT.Topics.Feedback)
	if len(msgs) != 1 {
		t.Fatalf("feedback messages = %d, want 1", len(msgs))
	}
	var m feedback.Message
	if err := json.Unmarshal(msgs[0].Payload(), &m); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if m.Kind != feedback.KindHold || m.SessionID != "s-1" {
		t.Errorf("message = %+v", m)
	}
}

func TestEmitterDisconnected(t *testing.T) {
	cfg := testConfig(t)
	client := emittertest.NewClient()
	client.SetConnected(false)
	e := emitter.NewMQTTEmitter(cfg)
	e.Use(client)

	if err := e.PublishHealth([]byte(`{}`)); err == nil {
		t.Error("PublishHealth() on a disconnected client should fail")
	}
	e.Report(feedback.Message{Kind: feedback.KindPrompt})
	if n := len(client.Published("")); n != 0 {
		t.Errorf("published %d messages while disconnected", n)
	}
	if e.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", e.Stats().Errors)
	}
}

func TestEmitterPublishError(t *testing.T) {
	cfg := testConfig(t)
	client := emittertest.NewClient()
	client.PublishErr = errors.New("broker rejected")
	e := emitter.NewMQTTEmitter(cfg)
	e.Use(client)

	err := e.PublishEvent(session.Event{Type: session.EventLoginSucceeded})
	if err == nil || !errors.Is(err, client.PublishErr) {
		t.Errorf("PublishEvent() error = %v", err)
	}
}

func TestEmitterDisconnect(t *testing.T) {
	cfg := testConfig(t)
	client := emittertest.NewClient()
	e := emitter.NewMQTTEmitter(cfg)
	e.Use(client)

	if err := e.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if client.IsConnected() || e.Connected() {
		t.Error("still connected after Disconnect()")
	}
}
