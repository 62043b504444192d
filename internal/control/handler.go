// Package control is the MQTT command plane of the daemon.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-faceid/internal/clock"
	"github.com/e7canasta/orion-faceid/internal/config"
	"github.com/e7canasta/orion-faceid/internal/enroll"
	"github.com/e7canasta/orion-faceid/internal/session"
)

// Command names.
const (
	CmdStartEnrollment = "start_enrollment"
	CmdStartLogin      = "start_login"
	CmdCancelSession   = "cancel_session"
	CmdGetStatus       = "get_status"
)

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Category   session.Category       `json:"category,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnStartEnrollment func(ctx context.Context, form enroll.Form) (sessionID string, err error)
	OnStartLogin      func(ctx context.Context) (sessionID string, err error)
	OnCancelSession   func(reason string) error
	OnGetStatus       func() map[string]interface{}
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   mqtt.Client
	clock    clock.Clock
	commands chan Command
	stop     chan struct{}
	stopOnce sync.Once

	callbacks CommandCallbacks
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		clock:     clock.Real(),
		commands:  make(chan Command, 10),
		stop:      make(chan struct{}),
		callbacks: callbacks,
	}
}

// WithClock sets the clock used for response timestamps.
func (h *Handler) WithClock(clk clock.Clock) *Handler {
	h.clock = clk
	return h
}

// Start starts listening for control commands
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)
	return nil
}

// Stop unsubscribes and stops command processing. Safe to call twice.
func (h *Handler) Stop() error {
	h.stopOnce.Do(func() {
		if h.client != nil && h.client.IsConnected() {
			token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
			token.WaitTimeout(2 * time.Second)
		}
		close(h.stop)
		slog.Info("control plane handler stopped")
	})
	return nil
}

func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case cmd := <-h.commands:
			h.handleCommand(ctx, cmd)
		}
	}
}

func (h *Handler) handleCommand(ctx context.Context, cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case CmdStartEnrollment:
		if h.callbacks.OnStartEnrollment == nil {
			resp.notImplemented()
			break
		}
		form := enroll.Form{
			Name:      stringParam(cmd.Params, "name"),
			Email:     stringParam(cmd.Params, "email"),
			StudentID: stringParam(cmd.Params, "student_id"),
		}
		id, err := h.callbacks.OnStartEnrollment(ctx, form)
		resp.started(id, err)

	case CmdStartLogin:
		if h.callbacks.OnStartLogin == nil {
			resp.notImplemented()
			break
		}
		id, err := h.callbacks.OnStartLogin(ctx)
		resp.started(id, err)

	case CmdCancelSession:
		if h.callbacks.OnCancelSession == nil {
			resp.notImplemented()
			break
		}
		reason := stringParam(cmd.Params, "reason")
		if reason == "" {
			reason = "host request"
		}
		if err := h.callbacks.OnCancelSession(reason); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
		} else {
			resp.Status = "success"
			resp.Data = map[string]interface{}{"cancelled": true}
		}

	case CmdGetStatus:
		if h.callbacks.OnGetStatus == nil {
			resp.notImplemented()
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (r *Response) notImplemented() {
	r.Status = "error"
	r.Error = r.CommandAck + " not implemented"
}

// started fills the response of a session start. Failures carry the
// category and display message, never the raw error.
func (r *Response) started(sessionID string, err error) {
	if err != nil {
		cat := session.Classify(err)
		r.Status = "error"
		r.Category = cat
		r.Error = session.Message(cat, err)
		return
	}
	r.Status = "success"
	r.Data = map[string]interface{}{"session_id": sessionID}
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = h.clock.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Responses
	qos := h.cfg.MQTT.QoS["control"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}
