package evaluate

import (
	"context"
	"errors"
	"fmt"
	"go/scanner"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
)

// Error kinds reported in ExecuteReply.ErrorKind.
const (
	KindSyntax     = "SyntaxError"
	KindName       = "NameError"
	KindZeroDiv    = "ZeroDivisionError"
	KindIndex      = "IndexError"
	KindType       = "TypeError"
	KindNilPointer = "NilPointerError"
	KindInterrupt  = "KeyboardInterrupt"
	KindUsage      = "UsageError"
	KindShell      = "ShellError"
	KindPanic      = "Panic"
	KindRuntime    = "RuntimeError"
	KindError      = "Error"
)

// failure is a classified user code error.
type failure struct {
	Kind    string
	Message string
	// Lines are 1-based cell lines, outermost call first.
	Lines []int
}

// magicError is a failure raised by a magic command.
type magicError struct {
	kind string
	msg  string
}

func (e *magicError) Error() string { return e.msg }

// position matches "_.go:3:14: msg" and "3:14: msg".
var position = regexp.MustCompile(`^(?:\S+?\.go:)?(\d+):(\d+): (.*)$`)

func classify(err error, frames []int, offset int) failure {
	f := failure{Kind: KindError, Message: err.Error()}

	var (
		me    *magicError
		pe    interp.Panic
		list  scanner.ErrorList
		rtErr runtime.Error
	)
	switch {
	case errors.As(err, &me):
		f.Kind, f.Message = me.kind, me.msg
		return f

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.Kind, f.Message = KindInterrupt, "execution interrupted"
		return f

	case errors.As(err, &pe):
		f.Message = fmt.Sprint(pe.Value)
		f.Lines = frames
		if e, ok := pe.Value.(error); ok && errors.As(e, &rtErr) {
			f.Kind = kindOf(f.Message, KindRuntime)
		} else {
			f.Kind = kindOf(f.Message, KindPanic)
		}

	case errors.As(err, &list) && len(list) > 0:
		f.Kind = KindSyntax
		f.Message = list[0].Msg
		f.Lines = []int{list[0].Pos.Line}

	default:
		msg := strings.TrimSpace(err.Error())
		if first, _, ok := strings.Cut(msg, "\n"); ok {
			msg = first
		}
		if m := position.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			f.Lines = []int{line}
			msg = m[3]
		} else {
			f.Lines = frames
		}
		f.Message = msg
		f.Kind = kindOf(msg, KindError)
	}

	for i := range f.Lines {
		f.Lines[i] += offset
	}
	return f
}

// kindOf maps an error message to an error kind.
func kindOf(msg, fallback string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "divide by zero"), strings.Contains(m, "division by zero"):
		return KindZeroDiv
	case strings.Contains(m, "undefined:"):
		return KindName
	case strings.Contains(m, "index out of range"), strings.Contains(m, "slice bounds out of range"):
		return KindIndex
	case strings.Contains(m, "nil pointer"), strings.Contains(m, "invalid memory address"):
		return KindNilPointer
	case strings.Contains(m, "interface conversion"), strings.Contains(m, "cannot use"),
		strings.Contains(m, "mismatched types"), strings.Contains(m, "invalid operation"),
		strings.Contains(m, "cannot convert"):
		return KindType
	case strings.HasPrefix(m, "expected "), strings.Contains(m, "syntax error"),
		strings.Contains(m, "illegal character"), strings.Contains(m, "unexpected "):
		return KindSyntax
	}
	return fallback
}

// splitStderr separates the interpreter's panic position lines, such as
// "1:28: panic: main(...)", from anything the cell itself wrote to stderr.
// Frames come back outermost first.
func splitStderr(s string) (frames []int, rest string) {
	if s == "" {
		return nil, ""
	}
	var kept []string
	for _, line := range strings.SplitAfter(s, "\n") {
		m := position.FindStringSubmatch(strings.TrimRight(line, "\n"))
		if m != nil && (m[3] == "panic" || strings.HasPrefix(m[3], "panic: ")) {
			n, _ := strconv.Atoi(m[1])
			frames = append(frames, n)
			continue
		}
		kept = append(kept, line)
	}
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames, strings.Join(kept, "")
}

// traceback renders f the way notebook front ends expect: a header, one
// entry per cell frame with its source line, then "Kind: message".
func traceback(n int, code string, f failure) []string {
	out := []string{"Traceback (most recent call last):"}
	src := strings.Split(code, "\n")
	if len(f.Lines) == 0 {
		out = append(out, fmt.Sprintf("  Cell In [%d]", n))
	}
	for _, line := range f.Lines {
		out = append(out, fmt.Sprintf("  Cell In [%d], line %d", n, line))
		if line >= 1 && line <= len(src) {
			if text := strings.TrimSpace(src[line-1]); text != "" {
				out = append(out, "    "+text)
			}
		}
	}
	return append(out, f.Kind+": "+f.Message)
}
