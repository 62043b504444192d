package session

import (
	"sync"
	"time"

	"github.com/e7canasta/orion-faceid/internal/capture"
	"github.com/e7canasta/orion-faceid/internal/engine"
	"github.com/e7canasta/orion-faceid/internal/enroll"
)

// Event types.
const (
	EventLoginSucceeded        = "login_succeeded"
	EventRegistrationSucceeded = "registration_succeeded"
	EventSessionFailed         = "session_failed"
)

// Event is the terminal event of a session.
type Event struct {
	Type        string               `json:"type"`
	SessionID   string               `json:"session_id,omitempty"`
	Mode        capture.Mode         `json:"mode"`
	User        *engine.Identity     `json:"user,omitempty"`
	Category    Category             `json:"category,omitempty"`
	Message     string               `json:"message,omitempty"`
	Warnings    []Category           `json:"warnings,omitempty"`
	Attempts    int                  `json:"attempts,omitempty"`
	Poses       []enroll.PoseOutcome `json:"poses,omitempty"`
	Diagnostics *engine.Diagnostics  `json:"diagnostics,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
}

// Events receives exactly one terminal event per session. After
// RegistrationSucceeded the host is expected to route to login.
type Events interface {
	LoginSucceeded(Event)
	RegistrationSucceeded(Event)
	SessionFailed(Event)
}

func dispatch(ev Events, e Event) {
	switch e.Type {
	case EventLoginSucceeded:
		ev.LoginSucceeded(e)
	case EventRegistrationSucceeded:
		ev.RegistrationSucceeded(e)
	default:
		ev.SessionFailed(e)
	}
}

// NopEvents drops every event.
type NopEvents struct{}

func (NopEvents) LoginSucceeded(Event)        {}
func (NopEvents) RegistrationSucceeded(Event) {}
func (NopEvents) SessionFailed(Event)         {}

// MultiEvents fans events out to several receivers.
type MultiEvents []Events

func (m MultiEvents) LoginSucceeded(e Event) {
	for _, ev := range m {
		ev.LoginSucceeded(e)
	}
}

func (m MultiEvents) RegistrationSucceeded(e Event) {
	for _, ev := range m {
		ev.RegistrationSucceeded(e)
	}
}

func (m MultiEvents) SessionFailed(e Event) {
	for _, ev := range m {
		ev.SessionFailed(e)
	}
}

// RecordingEvents keeps every event. Safe for concurrent use.
type RecordingEvents struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingEvents) LoginSucceeded(e Event)        { r.add(e) }
func (r *RecordingEvents) RegistrationSucceeded(e Event) { r.add(e) }
func (r *RecordingEvents) SessionFailed(e Event)         { r.add(e) }

func (r *RecordingEvents) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *RecordingEvents) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
