package wire

import (
	"errors"
	"fmt"
	"io"
)

// rawReadSize is the single read the unframed protocol relies on.
const rawReadSize = 64 << 10

// Framing reads one request from and writes one reply to a connection.
type Framing interface {
	ReadMessage(r io.Reader) ([]byte, error)
	WriteMessage(w io.Writer, msg []byte) error
	Name() string
}

// LengthPrefixed is the canonical framing.
type LengthPrefixed struct {
	Max uint32
}

func (f LengthPrefixed) ReadMessage(r io.Reader) ([]byte, error) {
	return ReadFrame(r, f.Max)
}

func (f LengthPrefixed) WriteMessage(w io.Writer, msg []byte) error {
	return WriteFrame(w, msg)
}

func (LengthPrefixed) Name() string { return "length" }

// Unframed assumes one read returns the whole request and writes the reply
// as-is. Requests longer than one read, or split across packets, are cut short.
type Unframed struct{}

func (Unframed) ReadMessage(r io.Reader) ([]byte, error) {
	buf := make([]byte, rawReadSize)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return nil, ErrClosed
	}
	return nil, fmt.Errorf("read: %w", err)
}

func (Unframed) WriteMessage(w io.Writer, msg []byte) error {
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (Unframed) Name() string { return "raw" }

// ForName returns the framing registered under name ("length" or "raw").
func ForName(name string, max uint32) (Framing, error) {
	switch name {
	case "", "length":
		return LengthPrefixed{Max: max}, nil
	case "raw":
		return Unframed{}, nil
	}
	return nil, fmt.Errorf("unknown framing %q", name)
}
