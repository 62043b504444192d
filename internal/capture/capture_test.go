package capture_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/orion-faceid/internal/camera"
	"github.com/e7canasta/orion-faceid/internal/capture"
)

func TestTokenCancelRunsHooksOnce(t *testing.T) {
	tok := capture.NewToken(context.Background())

	var order []string
	tok.OnCancel(func(reason string) { order = append(order, "a:"+reason) })
	tok.OnCancel(func(reason string) { order = append(order, "b:"+reason) })

	tok.Cancel("user")
	tok.Cancel("again")

	if len(order) != 2 || order[0] != "a:user" || order[1] != "b:user" {
		t.Fatalf("hooks ran as %v", order)
	}
	if !tok.Cancelled() || tok.Reason() != "user" {
		t.Errorf("Cancelled() = %v, Reason() = %q", tok.Cancelled(), tok.Reason())
	}
	select {
	case <-tok.Done():
	default:
		t.Error("Done() not closed")
	}
	if cause := context.Cause(tok.Context()); !errors.Is(cause, capture.ErrCancelled) {
		t.Errorf("context cause = %v, want ErrCancelled", cause)
	}
}

func TestTokenOnCancelAfterCancelRunsImmediately(t *testing.T) {
	tok := capture.NewToken(context.Background())
	tok.Cancel("done")

	ran := false
	tok.OnCancel(func(string) { ran = true })
	if !ran {
		t.Error("hook registered after cancel did not run")
	}
}

func TestTokenFollowsParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tok := capture.NewToken(parent)

	fired := make(chan string, 1)
	tok.OnCancel(func(reason string) { fired <- reason })
	cancel()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("parent cancellation did not cancel token")
	}
	if !tok.Cancelled() {
		t.Error("token not cancelled")
	}
}

type fakeCamera struct {
	released bool
	frame    camera.Frame
}

func (c *fakeCamera) Latest() (camera.Frame, bool) { return c.frame, !c.released }
func (c *fakeCamera) Released() bool               { return c.released }
func (c *fakeCamera) Native() camera.Size          { return camera.Size{Width: 1280, Height: 720} }
func (c *fakeCamera) Render() camera.Size          { return camera.Size{Width: 640, Height: 360} }

func TestSessionLive(t *testing.T) {
	cam := &fakeCamera{frame: camera.Frame{Seq: 7}}
	s := &capture.Session{Token: capture.NewToken(context.Background()), Camera: cam}

	if !s.Live() {
		t.Fatal("new session should be live")
	}
	if f, ok := s.Latest(); !ok || f.Seq != 7 {
		t.Errorf("Latest() = %+v, %v", f, ok)
	}
	if sx, sy := s.ScaleFactors(); sx != 0.5 || sy != 0.5 {
		t.Errorf("ScaleFactors() = %v, %v; want 0.5, 0.5", sx, sy)
	}

	cam.released = true
	if s.Live() {
		t.Error("session with released camera should not be live")
	}

	cam.released = false
	s.Token.Cancel("stop")
	if s.Live() {
		t.Error("cancelled session should not be live")
	}

	var nilSession *capture.Session
	if nilSession.Live() {
		t.Error("nil session should not be live")
	}
}
