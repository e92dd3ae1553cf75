// Package kernlet defines the reply types exchanged between a notebook kernel
// and the execution bridge running inside a host process.
// Requests are plain strings (see package router); replies are JSON objects,
// one per connection, framed by package wire.
package kernlet

// Status is the outcome of an execute request.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ExecuteReply is sent back after a cell has been evaluated.
type ExecuteReply struct {
	// Status is "ok" or "error".
	Status Status `json:"status"`
	// Output is everything the cell wrote to stdout, followed by the
	// representation of a bare expression's value.
	Output string `json:"output"`
	// Traceback is the sanitized traceback, one entry per line (error only).
	Traceback []string `json:"traceback,omitempty"`
	// ErrorKind is the error class name, e.g. "NameError" (error only).
	ErrorKind string `json:"ename,omitempty"`
	// ErrorMessage is the error text without position prefix (error only).
	ErrorMessage string `json:"evalue,omitempty"`
	// ExecutionCount is the bridge-side counter for the cell; 0 for empty cells.
	ExecutionCount int `json:"execution_count,omitempty"`
}

// OK reports whether the cell completed without error.
func (r *ExecuteReply) OK() bool {
	return r.Status == StatusOK
}

// CompleteReply lists completions for the identifier before the cursor.
type CompleteReply struct {
	// Matches is the ranked list of full symbol names.
	Matches []string `json:"matches"`
	// Delta is how many characters before the cursor the client replaces
	// with the chosen match.
	Delta int `json:"delta"`
}

// IntrospectReply carries documentation for the symbol at a position.
type IntrospectReply struct {
	// Found is false when no definition resolves.
	Found bool `json:"found"`
	// Data is the documentation text (signature first, then doc comment).
	Data string `json:"data"`
}
