// Package feedback carries user guidance produced by the capture flows.
package feedback

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Kind classifies a message for the host UI.
type Kind string

const (
	KindInstruction Kind = "instruction"
	KindGuidance    Kind = "guidance"
	KindHold        Kind = "hold"
	KindDegraded    Kind = "degraded"
	KindPrompt      Kind = "prompt"
	KindStatus      Kind = "status"

	// Login quality tiers.
	KindGood     Kind = "good"
	KindMarginal Kind = "marginal"
	KindWeak     Kind = "weak"
)

// MarginalConfidence is the lowest confidence still shown as marginal.
const MarginalConfidence = 0.5

// Message is one piece of guidance.
type Message struct {
	SessionID  string  `json:"session_id,omitempty"`
	Kind       Kind    `json:"kind"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Pose       string  `json:"pose,omitempty"`
}

// Reporter receives guidance. Implementations must not block.
type Reporter interface {
	Report(Message)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Message)

func (f ReporterFunc) Report(m Message) { f(m) }

// Discard drops every message.
var Discard Reporter = ReporterFunc(func(Message) {})

// Log returns a Reporter writing messages at debug level.
func Log() Reporter {
	return ReporterFunc(func(m Message) {
		slog.Debug("feedback",
			"session_id", m.SessionID,
			"kind", m.Kind,
			"text", m.Text,
			"confidence", m.Confidence,
			"pose", m.Pose,
		)
	})
}

// Multi fans messages out to every reporter.
func Multi(rs ...Reporter) Reporter {
	return ReporterFunc(func(m Message) {
		for _, r := range rs {
			r.Report(m)
		}
	})
}

// WithSession stamps sessionID on every message.
func WithSession(r Reporter, sessionID string) Reporter {
	return ReporterFunc(func(m Message) {
		m.SessionID = sessionID
		r.Report(m)
	})
}

// Tier picks the login quality tier.
func Tier(confidence float64, good bool) Kind {
	switch {
	case good:
		return KindGood
	case confidence >= MarginalConfidence:
		return KindMarginal
	default:
		return KindWeak
	}
}

// Quality builds the tiered login message with the confidence shown as
// a percentage.
func Quality(confidence float64, good bool) Message {
	kind := Tier(confidence, good)
	pct := int(math.Round(confidence * 100))

	var text string
	switch kind {
	case KindGood:
		text = fmt.Sprintf("Face detected, hold still (%d%%)", pct)
	case KindMarginal:
		text = fmt.Sprintf("Almost there, face the camera directly (%d%%)", pct)
	default:
		text = fmt.Sprintf("Face barely visible, move closer or improve lighting (%d%%)", pct)
	}
	return Message{Kind: kind, Text: text, Confidence: confidence}
}

// Prompt is the neutral message shown when no face is detected.
func Prompt() Message {
	return Message{Kind: KindPrompt, Text: "Position your face in the frame"}
}

// Recorder keeps every message. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Report(m Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// Kinds returns the kinds of the recorded messages in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Kind
	}
	return out
}

// Last returns the most recent message.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return Message{}, false
	}
	return r.msgs[len(r.msgs)-1], true
}
