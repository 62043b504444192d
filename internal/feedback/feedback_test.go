package feedback_test

import (
	"strings"
	"testing"

	"github.com/e7canasta/orion-faceid/internal/feedback"
)

func TestQualityTiers(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		good       bool
		want       feedback.Kind
		pct        string
	}{
		{"good", 0.92, true, feedback.KindGood, "92%"},
		{"marginal", 0.64, false, feedback.KindMarginal, "64%"},
		{"marginal boundary", 0.5, false, feedback.KindMarginal, "50%"},
		{"weak", 0.31, false, feedback.KindWeak, "31%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := feedback.Quality(tt.confidence, tt.good)
			if m.Kind != tt.want {
				t.Errorf("Kind = %q, want %q", m.Kind, tt.want)
			}
			if !strings.Contains(m.Text, tt.pct) {
				t.Errorf("Text = %q, want confidence %s", m.Text, tt.pct)
			}
			if m.Confidence != tt.confidence {
				t.Errorf("Confidence = %v", m.Confidence)
			}
		})
	}
}

func TestWithSessionAndMulti(t *testing.T) {
	var a, b feedback.Recorder
	r := feedback.WithSession(feedback.Multi(&a, &b), "s-1")

	r.Report(feedback.Prompt())

	for _, rec := range []*feedback.Recorder{&a, &b} {
		m, ok := rec.Last()
		if !ok || m.SessionID != "s-1" || m.Kind != feedback.KindPrompt {
			t.Errorf("recorded %+v, %v", m, ok)
		}
	}
}
