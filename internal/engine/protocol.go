package engine

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-faceid/internal/camera"
)

// Worker operations.
const (
	opLoadModels   = "load_models"
	opDetect       = "detect"
	opRegister     = "register"
	opAuthenticate = "authenticate"
)

// maxMessageSize bounds a single framed message. A 1080p RGB frame is
// about 6MB; registration carries several.
const maxMessageSize = 64 << 20

type wireFrame struct {
	Seq     uint64 `msgpack:"seq"`
	Width   int    `msgpack:"width"`
	Height  int    `msgpack:"height"`
	Format  string `msgpack:"format"`
	Data    []byte `msgpack:"data"`
	TraceID string `msgpack:"trace_id,omitempty"`
}

func toWire(f camera.Frame) wireFrame {
	return wireFrame{
		Seq:     f.Seq,
		Width:   f.Width,
		Height:  f.Height,
		Format:  "rgb24",
		Data:    f.Data,
		TraceID: f.TraceID,
	}
}

type request struct {
	ID        string      `msgpack:"id"`
	Op        string      `msgpack:"op"`
	ModelsDir string      `msgpack:"models_dir,omitempty"`
	Frames    []wireFrame `msgpack:"frames,omitempty"`
	Enrollee  *Enrollee   `msgpack:"enrollee,omitempty"`
}

type wireError struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

type response struct {
	ID        string      `msgpack:"id"`
	Error     *wireError  `msgpack:"error,omitempty"`
	Loaded    bool        `msgpack:"loaded,omitempty"`
	Detection *Sample     `msgpack:"detection,omitempty"`
	Identity  *Identity   `msgpack:"identity,omitempty"`
	Auth      *AuthResult `msgpack:"auth,omitempty"`
}

// writeMessage writes v with length-prefix framing: 4 bytes big-endian
// followed by the msgpack body.
func writeMessage(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(body) > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(body))
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readMessage reads one framed message into v.
func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
