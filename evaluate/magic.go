package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	shinterp "mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

const defaultHistoryLimit = 10

// isMagic reports whether code is a magic command. Go source never starts
// with '%', so the prefix is unambiguous.
func isMagic(code string) bool {
	return strings.HasPrefix(strings.TrimLeftFunc(code, unicode.IsSpace), "%")
}

func (e *Evaluator) magic(ctx context.Context, code string, out io.Writer) result {
	trimmed := strings.TrimSpace(code)

	if strings.HasPrefix(trimmed, "%%") {
		header, body, _ := strings.Cut(trimmed[2:], "\n")
		name, args, _ := strings.Cut(strings.TrimSpace(header), " ")
		switch name {
		case "sh":
			script := body
			if args = strings.TrimSpace(args); args != "" {
				script = args + "\n" + body
			}
			return result{err: e.shell.run(ctx, script, out), lineOffset: 1}
		}
		return result{err: &magicError{kind: KindUsage, msg: fmt.Sprintf("unknown cell magic %%%%%s", name)}}
	}

	name, args, _ := strings.Cut(trimmed[1:], " ")
	args = strings.TrimSpace(args)
	switch name {
	case "sh":
		return result{err: e.shell.run(ctx, args, out)}
	case "who":
		e.who(out)
		return result{}
	case "history":
		return result{err: e.showHistory(ctx, args, out)}
	}
	return result{err: &magicError{kind: KindUsage, msg: fmt.Sprintf("unknown magic %%%s", name)}}
}

func (e *Evaluator) who(out io.Writer) {
	for _, sym := range e.scope.Symbols() {
		fmt.Fprintf(out, "%-16s %-7s %s\n", sym.Name, sym.Kind, sym.Signature)
	}
}

func (e *Evaluator) showHistory(ctx context.Context, args string, out io.Writer) error {
	if e.history == nil {
		return &magicError{kind: KindUsage, msg: "history is disabled"}
	}
	limit := defaultHistoryLimit
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return &magicError{kind: KindUsage, msg: fmt.Sprintf("%%history: invalid count %q", args)}
		}
		limit = n
	}
	entries, err := e.history.Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		lines := strings.Split(entry.Code, "\n")
		fmt.Fprintf(out, "[%d] %s\n", entry.N, lines[0])
		for _, l := range lines[1:] {
			fmt.Fprintf(out, "    %s\n", l)
		}
	}
	return nil
}

// shell runs POSIX shell scripts in-process. The runner keeps its state
// (working directory, variables) across cells.
type shell struct {
	dir    string
	runner *shinterp.Runner
	out    redirect
}

// redirect forwards to the writer of the cell currently running.
type redirect struct {
	w io.Writer
}

func (r *redirect) Write(p []byte) (int, error) {
	if r.w == nil {
		return len(p), nil
	}
	return r.w.Write(p)
}

func (s *shell) run(ctx context.Context, script string, out io.Writer) error {
	if strings.TrimSpace(script) == "" {
		return &magicError{kind: KindUsage, msg: "%sh: missing script"}
	}
	file, err := syntax.NewParser().Parse(strings.NewReader(script), "")
	if err != nil {
		return &magicError{kind: KindSyntax, msg: err.Error()}
	}

	if s.runner == nil {
		opts := []shinterp.RunnerOption{shinterp.StdIO(nil, &s.out, &s.out)}
		if s.dir != "" {
			opts = append(opts, shinterp.Dir(s.dir))
		}
		s.runner, err = shinterp.New(opts...)
		if err != nil {
			return fmt.Errorf("start shell: %w", err)
		}
	}

	s.out.w = out
	defer func() { s.out.w = nil }()

	err = s.runner.Run(ctx, file)
	if s.runner.Exited() {
		s.runner.Reset()
	}
	var status shinterp.ExitStatus
	if errors.As(err, &status) {
		return &magicError{kind: KindShell, msg: fmt.Sprintf("exit status %d", status)}
	}
	return err
}
