package wire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestEncodeHeader(t *testing.T) {
	got := Encode([]byte("abc"))
	want := []byte{0, 0, 0, 3, 'a', 'b', 'c'}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
	if got := Encode(nil); !bytes.Equal(got, []byte{0, 0, 0, 0}) {
		t.Errorf("Encode(nil) = %v", got)
	}
}

func TestRoundTripShortReads(t *testing.T) {
	messages := [][]byte{
		nil,
		[]byte("x = 1"),
		[]byte("%!c fmt.Pri"),
		bytes.Repeat([]byte("é"), 40000),
	}
	readers := map[string]func(io.Reader) io.Reader{
		"whole":    func(r io.Reader) io.Reader { return r },
		"one-byte": iotest.OneByteReader,
		"half":     iotest.HalfReader,
		"data-err": iotest.DataErrReader,
	}
	for _, m := range messages {
		encoded := Encode(m)
		for name, wrap := range readers {
			t.Run(name, func(t *testing.T) {
				decoded, err := ReadFrame(wrap(bytes.NewReader(encoded)), 0)
				if err != nil {
					t.Fatalf("ReadFrame: %v", err)
				}
				if !bytes.Equal(Encode(decoded), encoded) {
					t.Errorf("round trip mismatch for %d-byte message", len(m))
				}
			})
		}
	}
}

func TestReadFrameClosedMidMessage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"partial header", []byte{0, 0}},
		{"partial body", append([]byte{0, 0, 0, 10}, "abc"...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tt.data), 0)
			if !errors.Is(err, ErrClosed) {
				t.Errorf("expected ErrClosed, got %v", err)
			}
		})
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}), 1024)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameSequential(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(Encode([]byte("first")))
	stream.Write(Encode([]byte("second")))
	r := iotest.OneByteReader(&stream)
	for _, want := range []string{"first", "second"} {
		got, err := ReadFrame(r, 0)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if _, err := ReadFrame(r, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed at end of stream, got %v", err)
	}
}

func TestBufferIncremental(t *testing.T) {
	b := NewBuffer(0)
	encoded := append(Encode([]byte("hello")), Encode([]byte("world"))...)

	var got []string
	for i := 0; i < len(encoded); i++ {
		b.Feed(encoded[i : i+1])
		for {
			msg, err := b.Next()
			if errors.Is(err, ErrNeedMoreData) {
				break
			}
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, string(msg))
		}
	}
	if strings.Join(got, ",") != "hello,world" {
		t.Errorf("got %v", got)
	}
	if b.Buffered() != 0 {
		t.Errorf("expected empty buffer, %d bytes left", b.Buffered())
	}
}

func TestBufferTooLarge(t *testing.T) {
	b := NewBuffer(4)
	b.Feed(Encode([]byte("too long")))
	if _, err := b.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestUnframed(t *testing.T) {
	var f Framing = Unframed{}
	msg, err := f.ReadMessage(strings.NewReader("1 + 1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(msg) != "1 + 1" {
		t.Errorf("got %q", msg)
	}
	if _, err := f.ReadMessage(strings.NewReader("")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on empty read, got %v", err)
	}

	var out bytes.Buffer
	if err := f.WriteMessage(&out, []byte(`{"status":"ok"}`)); err != nil {
		t.Fatal(err)
	}
	if out.String() != `{"status":"ok"}` {
		t.Errorf("unframed write added framing: %q", out.String())
	}
}

func TestForName(t *testing.T) {
	for _, name := range []string{"", "length", "raw"} {
		if _, err := ForName(name, 0); err != nil {
			t.Errorf("ForName(%q): %v", name, err)
		}
	}
	if _, err := ForName("xml", 0); err == nil {
		t.Error("expected error for unknown framing")
	}
}
