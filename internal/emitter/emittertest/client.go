// Package emittertest provides an in-memory mqtt.Client for tests.
package emittertest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is a published or delivered message.
type Message struct {
	mqtt.Message

	topic   string
	qos     byte
	payload []byte
}

func (m *Message) Topic() string     { return m.topic }
func (m *Message) Qos() byte         { return m.qos }
func (m *Message) Payload() []byte   { return m.payload }
func (m *Message) Duplicate() bool   { return false }
func (m *Message) Retained() bool    { return false }
func (m *Message) MessageID() uint16 { return 0 }
func (m *Message) Ack()              {}

// Token is an already completed mqtt.Token.
type Token struct {
	err error
}

var closed = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (t *Token) Wait() bool                     { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Done() <-chan struct{}          { return closed }
func (t *Token) Error() error                   { return t.err }

// Client records publishes and routes Deliver calls to subscribers.
// Methods not overridden here panic through the nil embedded interface.
type Client struct {
	mqtt.Client

	mu         sync.Mutex
	connected  bool
	published  []*Message
	handlers   map[string]mqtt.MessageHandler
	PublishErr error
}

// NewClient returns a connected client.
func NewClient() *Client {
	return &Client{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsConnectionOpen() bool { return c.IsConnected() }

// SetConnected flips the connection state.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) Disconnect(uint) { c.SetConnected(false) }

func (c *Client) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = append([]byte(nil), p...)
	case string:
		b = []byte(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr != nil {
		return &Token{err: c.PublishErr}
	}
	c.published = append(c.published, &Message{topic: topic, qos: qos, payload: b})
	return &Token{}
}

func (c *Client) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	c.handlers[topic] = cb
	c.mu.Unlock()
	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.handlers, t)
	}
	c.mu.Unlock()
	return &Token{}
}

// Deliver hands payload to the subscriber of topic. It reports whether
// one existed.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	cb, ok := c.handlers[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cb(c, &Message{topic: topic, payload: payload})
	return true
}

// Published returns the messages published on topic, or all of them
// when topic is empty.
func (c *Client) Published(topic string) []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Message
	for _, m := range c.published {
		if topic == "" || m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}
