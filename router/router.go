// Package router classifies raw bridge messages into typed requests.
//
// A three-character sentinel selects the request kind:
//
//	%!c<code>                       completion, cursor at the end of code
//	%!i<line>:<column>%<code>       introspection at line/column
//	anything else                   execute the whole message
package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	CompletePrefix   = "%!c"
	IntrospectPrefix = "%!i"
)

// ErrMalformed is returned when a tagged message cannot be sliced.
var ErrMalformed = errors.New("router: malformed request")

// Kind identifies the request type.
type Kind int

const (
	KindExecute Kind = iota
	KindComplete
	KindIntrospect
)

func (k Kind) String() string {
	switch k {
	case KindExecute:
		return "execute"
	case KindComplete:
		return "complete"
	case KindIntrospect:
		return "introspect"
	default:
		return "unknown"
	}
}

// Request is one of Execute, Complete or Introspect.
type Request interface {
	Kind() Kind
}

// Execute runs Code against the shared scope.
type Execute struct {
	Code string
}

// Complete asks for completions at Cursor (a byte offset into Code).
type Complete struct {
	Code   string
	Cursor int
}

// Introspect asks for the documentation of the symbol at Line (1-based)
// and Column (0-based).
type Introspect struct {
	Code   string
	Line   int
	Column int
}

func (Execute) Kind() Kind    { return KindExecute }
func (Complete) Kind() Kind   { return KindComplete }
func (Introspect) Kind() Kind { return KindIntrospect }

// Classify slices raw into a typed request. It never executes anything.
func Classify(raw string) (Request, error) {
	switch {
	case strings.HasPrefix(raw, CompletePrefix):
		code := raw[len(CompletePrefix):]
		return Complete{Code: code, Cursor: len(code)}, nil

	case strings.HasPrefix(raw, IntrospectPrefix):
		rest := raw[len(IntrospectPrefix):]
		pos := strings.IndexByte(rest, '%')
		if pos < 0 {
			return nil, fmt.Errorf("%w: introspect request has no %% delimiter", ErrMalformed)
		}
		lineStr, colStr, ok := strings.Cut(rest[:pos], ":")
		if !ok {
			return nil, fmt.Errorf("%w: introspect position %q is not line:column", ErrMalformed, rest[:pos])
		}
		line, err := strconv.Atoi(lineStr)
		if err != nil {
			return nil, fmt.Errorf("%w: bad line %q", ErrMalformed, lineStr)
		}
		col, err := strconv.Atoi(colStr)
		if err != nil {
			return nil, fmt.Errorf("%w: bad column %q", ErrMalformed, colStr)
		}
		return Introspect{Code: rest[pos+1:], Line: line, Column: col}, nil
	}
	return Execute{Code: raw}, nil
}

// Format is the client-side inverse of Classify. A Complete request is
// truncated to its cursor, since the wire form carries no cursor field.
func Format(req Request) string {
	switch r := req.(type) {
	case Complete:
		cursor := r.Cursor
		if cursor < 0 || cursor > len(r.Code) {
			cursor = len(r.Code)
		}
		return CompletePrefix + r.Code[:cursor]
	case Introspect:
		return fmt.Sprintf("%s%d:%d%%%s", IntrospectPrefix, r.Line, r.Column, r.Code)
	case Execute:
		return r.Code
	}
	return ""
}
