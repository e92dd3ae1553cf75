package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/Paranoid-AF/kernlet"
	"github.com/Paranoid-AF/kernlet/kernel"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if isTerminal(f) {
		return &crlfWriter{w: f}
	}
	return f
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// renderExecute prints a cell's output followed by its traceback.
func renderExecute(w io.Writer, reply *kernlet.ExecuteReply, color bool) {
	io.WriteString(w, reply.Output)
	if reply.Output != "" && !strings.HasSuffix(reply.Output, "\n") {
		io.WriteString(w, "\n")
	}
	if reply.OK() {
		return
	}
	if color {
		fmt.Fprintln(w, kernel.ColorTraceback(reply))
		return
	}
	for _, line := range reply.Traceback {
		fmt.Fprintln(w, line)
	}
}

// writeExecute writes a TOML record of one execute round trip.
func writeExecute(w io.Writer, code string, reply *kernlet.ExecuteReply) {
	writeHeader(w, "execute", code)
	fmt.Fprintln(w, "[reply]")
	fmt.Fprintf(w, "status = %s\n", tomlQuote(string(reply.Status)))
	fmt.Fprintf(w, "execution_count = %d\n", reply.ExecutionCount)
	fmt.Fprintf(w, "output = %s\n", tomlQuote(reply.Output))
	if !reply.OK() {
		fmt.Fprintf(w, "ename = %s\n", tomlQuote(reply.ErrorKind))
		fmt.Fprintf(w, "evalue = %s\n", tomlQuote(reply.ErrorMessage))
		fmt.Fprintf(w, "traceback = %s\n", tomlArray(reply.Traceback))
	}
	fmt.Fprintln(w)
}

// writeComplete writes a TOML record of one completion round trip.
func writeComplete(w io.Writer, code string, cursor int, reply kernlet.CompleteReply) {
	writeHeader(w, "complete", code)
	fmt.Fprintln(w, "[reply]")
	fmt.Fprintf(w, "cursor = %d\n", cursor)
	fmt.Fprintf(w, "delta = %d\n", reply.Delta)
	fmt.Fprintf(w, "matches = %s\n", tomlArray(reply.Matches))
	fmt.Fprintln(w)
}

// writeInspect writes a TOML record of one introspection round trip.
func writeInspect(w io.Writer, code string, line, column int, reply kernlet.IntrospectReply) {
	writeHeader(w, "inspect", code)
	fmt.Fprintln(w, "[reply]")
	fmt.Fprintf(w, "line = %d\n", line)
	fmt.Fprintf(w, "column = %d\n", column)
	fmt.Fprintf(w, "found = %t\n", reply.Found)
	if reply.Found {
		fmt.Fprintf(w, "data = %s\n", tomlQuote(reply.Data))
	}
	fmt.Fprintln(w)
}

func writeHeader(w io.Writer, kind, code string) {
	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))
	fmt.Fprintln(w, "[request]")
	fmt.Fprintf(w, "timestamp = %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "kind = %s\n", tomlQuote(kind))
	fmt.Fprintf(w, "code = %s\n", tomlQuote(code))
	fmt.Fprintln(w)
}

func tomlArray(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = tomlQuote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// tomlQuote returns a TOML basic-string quoted value.
func tomlQuote(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	s = strings.ReplaceAll(s, "\x1b", "\\u001b")
	return "\"" + s + "\""
}
