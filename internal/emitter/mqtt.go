// Package emitter publishes session events, user guidance and health
// snapshots to the host over MQTT.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-faceid/internal/config"
	"github.com/e7canasta/orion-faceid/internal/feedback"
	"github.com/e7canasta/orion-faceid/internal/session"
)

const publishTimeout = 2 * time.Second

// MQTTEmitter implements session.Events and feedback.Reporter on top of
// an MQTT client.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for the control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to the MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	client := mqtt.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.Use(client)
	return nil
}

// Use attaches an already connected client.
func (e *MQTTEmitter) Use(client mqtt.Client) {
	e.mu.Lock()
	e.Client = client
	e.connected = client.IsConnected()
	e.mu.Unlock()
}

// LoginSucceeded publishes a login_succeeded event.
func (e *MQTTEmitter) LoginSucceeded(ev session.Event) { e.event(ev) }

// RegistrationSucceeded publishes a registration_succeeded event.
func (e *MQTTEmitter) RegistrationSucceeded(ev session.Event) { e.event(ev) }

// SessionFailed publishes a session_failed event.
func (e *MQTTEmitter) SessionFailed(ev session.Event) { e.event(ev) }

func (e *MQTTEmitter) event(ev session.Event) {
	if err := e.PublishEvent(ev); err != nil {
		slog.Warn("session event not published",
			"session_id", ev.SessionID,
			"event", ev.Type,
			"error", err,
		)
	}
}

// PublishEvent publishes ev on <events>/<type> and waits for the broker.
func (e *MQTTEmitter) PublishEvent(ev session.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	topic := fmt.Sprintf("%s/%s", e.cfg.MQTT.Topics.Events, ev.Type)
	return e.publish(topic, e.qos("events"), payload)
}

// Report publishes a guidance message without waiting for delivery.
func (e *MQTTEmitter) Report(m feedback.Message) {
	client, ok := e.client()
	if !ok {
		return
	}
	payload, err := json.Marshal(m)
	if err != nil {
		e.countError()
		return
	}
	topic := e.cfg.MQTT.Topics.Feedback
	client.Publish(topic, e.qos("feedback"), false, payload)

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
}

// PublishHealth publishes a health snapshot
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Health, e.qos("health"), payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) error {
	client, ok := e.client()
	if !ok {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	token := client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("mqtt message published",
		"topic", topic,
		"qos", qos,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	e.mu.Lock()
	client := e.Client
	e.connected = false
	e.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	return nil
}

// Connected reports the connection state.
func (e *MQTTEmitter) Connected() bool {
	_, ok := e.client()
	return ok
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) client() (mqtt.Client, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Client, e.connected && e.Client != nil
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *MQTTEmitter) qos(kind string) byte {
	return e.cfg.MQTT.QoS[kind]
}
