// Package wire implements message framing for the bridge connection.
//
// The canonical framing is a 4-byte big-endian length header followed by
// exactly that many payload bytes. The unframed variant treats a single read
// as the whole request and only exists for old clients.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of the frame header in bytes.
const HeaderSize = 4

// DefaultMaxFrame bounds the payload size accepted by ReadFrame.
const DefaultMaxFrame = 16 << 20

var (
	// ErrClosed is returned when the peer disconnects before a full frame arrived.
	ErrClosed = errors.New("wire: connection closed")
	// ErrNeedMoreData is returned by Buffer.Next until a full frame is buffered.
	ErrNeedMoreData = errors.New("wire: need more data")
	// ErrFrameTooLarge is returned when a header declares more than the allowed size.
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

// Encode prefixes msg with its length.
func Encode(msg []byte) []byte {
	out := make([]byte, HeaderSize+len(msg))
	binary.BigEndian.PutUint32(out, uint32(len(msg)))
	copy(out[HeaderSize:], msg)
	return out
}

// ReadFrame reads one length-prefixed message from r, looping over short reads.
// A max of 0 means DefaultMaxFrame.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	if max == 0 {
		max = DefaultMaxFrame
	}
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, closedOr(err, "read header")
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, max)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, closedOr(err, "read body")
	}
	return data, nil
}

// WriteFrame writes msg as a single framed write.
func WriteFrame(w io.Writer, msg []byte) error {
	if _, err := w.Write(Encode(msg)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func closedOr(err error, op string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrClosed
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Buffer decodes frames incrementally from bytes fed as they arrive.
type Buffer struct {
	buf []byte
	max uint32
}

// NewBuffer returns a Buffer accepting payloads up to max bytes (0 = DefaultMaxFrame).
func NewBuffer(max uint32) *Buffer {
	if max == 0 {
		max = DefaultMaxFrame
	}
	return &Buffer{max: max}
}

// Feed appends received bytes.
func (b *Buffer) Feed(p []byte) {
	b.buf = append(b.buf, p...)
}

// Buffered returns the number of bytes not yet consumed.
func (b *Buffer) Buffered() int {
	return len(b.buf)
}

// Next returns the next complete message, ErrNeedMoreData, or ErrFrameTooLarge.
func (b *Buffer) Next() ([]byte, error) {
	if len(b.buf) < HeaderSize {
		return nil, ErrNeedMoreData
	}
	length := binary.BigEndian.Uint32(b.buf)
	if length > b.max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, b.max)
	}
	end := HeaderSize + int(length)
	if len(b.buf) < end {
		return nil, ErrNeedMoreData
	}
	msg := make([]byte, length)
	copy(msg, b.buf[HeaderSize:end])
	b.buf = b.buf[end:]
	return msg, nil
}
