package kernel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Paranoid-AF/kernlet"
)

const (
	red   = "\x1b[0;31m"
	reset = "\x1b[0m"
)

// Stream is text destined for a notebook output stream.
type Stream struct {
	Name string
	Text string
}

// ExecuteResult is the notebook-facing result of a cell.
type ExecuteResult struct {
	Status          string
	ExecutionCount  int
	Payload         []any
	UserExpressions map[string]any
	Stream          []Stream
}

// CompleteResult is the notebook-facing completion reply. Matches replace
// code[CursorStart:CursorEnd].
type CompleteResult struct {
	Matches     []string
	CursorStart int
	CursorEnd   int
	Metadata    map[string]any
}

// InspectResult is the notebook-facing introspection reply.
type InspectResult struct {
	Status   string
	Found    bool
	Data     map[string]string
	Metadata map[string]any
}

// Session adapts bridge replies to the notebook protocol and keeps the
// notebook's own execution counter.
type Session struct {
	client *Client

	mu    sync.Mutex
	count int
}

// NewSession returns a session over c.
func NewSession(c *Client) *Session {
	return &Session{client: c}
}

// Execute sends code to the host. The result status is always "ok"; cell
// errors arrive as colored traceback text on the stdout stream. A transport
// failure yields a red banner stream and the error.
func (s *Session) Execute(ctx context.Context, code string, silent bool) (*ExecuteResult, error) {
	s.mu.Lock()
	s.count++
	n := s.count
	s.mu.Unlock()

	res := &ExecuteResult{
		Status:          "ok",
		ExecutionCount:  n,
		Payload:         []any{},
		UserExpressions: map[string]any{},
	}

	reply, err := s.client.Execute(ctx, code)
	if err != nil {
		res.Stream = append(res.Stream, Stream{Name: "stdout", Text: banner(s.client.Addr(), err)})
		return res, err
	}
	if !silent && reply.Output != "" {
		res.Stream = append(res.Stream, Stream{Name: "stdout", Text: reply.Output})
	}
	if reply.Status == kernlet.StatusError {
		res.Stream = append(res.Stream, Stream{Name: "stdout", Text: ColorTraceback(reply)})
	}
	return res, nil
}

// Complete asks for completions at cursor, a byte offset into code.
func (s *Session) Complete(ctx context.Context, code string, cursor int) (*CompleteResult, error) {
	cursor = clamp(cursor, len(code))
	reply, err := s.client.Complete(ctx, code, cursor)
	if err != nil {
		return nil, err
	}
	matches := reply.Matches
	if matches == nil {
		matches = []string{}
	}
	return &CompleteResult{
		Matches:     matches,
		CursorStart: cursor - reply.Delta,
		CursorEnd:   cursor,
		Metadata:    map[string]any{},
	}, nil
}

// Inspect documents the symbol at cursor, a byte offset into code.
func (s *Session) Inspect(ctx context.Context, code string, cursor int) (*InspectResult, error) {
	line, column := LineColumn(code, cursor)
	reply, err := s.client.Introspect(ctx, code, line, column)
	if err != nil {
		return nil, err
	}
	res := &InspectResult{Status: "ok", Found: reply.Found, Data: map[string]string{}, Metadata: map[string]any{}}
	if reply.Found {
		res.Data["text/plain"] = reply.Data
	}
	return res, nil
}

// LineColumn converts a byte offset into a 1-based line and 0-based column.
func LineColumn(code string, cursor int) (line, column int) {
	cursor = clamp(cursor, len(code))
	before := code[:cursor]
	line = strings.Count(before, "\n") + 1
	column = cursor - (strings.LastIndexByte(before, '\n') + 1)
	return line, column
}

// ColorTraceback renders the traceback of a failed cell with the error kind
// highlighted.
func ColorTraceback(reply *kernlet.ExecuteReply) string {
	var b strings.Builder
	b.WriteString(red + strings.Repeat("-", 50) + reset)
	for _, line := range reply.Traceback {
		if reply.ErrorKind != "" {
			line = strings.ReplaceAll(line, reply.ErrorKind, red+reply.ErrorKind+reset)
		}
		b.WriteByte('\n')
		b.WriteString(line)
	}
	return b.String()
}

func banner(addr string, err error) string {
	rule := red + strings.Repeat("=", 50) + reset
	return fmt.Sprintf("%s\n%sKernel error at %s%s\n%v\n%s\n", rule, red, addr, reset, err, rule)
}

func clamp(n, limit int) int {
	if n < 0 {
		return 0
	}
	if n > limit {
		return limit
	}
	return n
}
