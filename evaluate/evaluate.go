// Package evaluate runs cells against the shared scope and turns the outcome
// into an ExecuteReply.
package evaluate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	"github.com/Paranoid-AF/kernlet"
	"github.com/Paranoid-AF/kernlet/history"
	"github.com/Paranoid-AF/kernlet/loop"
	"github.com/Paranoid-AF/kernlet/scope"
)

// Recorder stores executed cells.
type Recorder interface {
	Record(ctx context.Context, e history.Entry) error
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Awaitable is a value that completes later, such as a *loop.Future.
type Awaitable interface {
	Done() <-chan struct{}
	Result() (any, error)
}

// Evaluator executes cells. Like the scope it wraps, it must only be used
// from the host loop goroutine.
type Evaluator struct {
	scope   *scope.Scope
	loop    *loop.Loop
	history Recorder
	shell   *shell
	count   int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLoop lets awaited cells keep the loop's frame callbacks running.
func WithLoop(l *loop.Loop) Option {
	return func(e *Evaluator) { e.loop = l }
}

// WithHistory records every executed cell.
func WithHistory(r Recorder) Option {
	return func(e *Evaluator) { e.history = r }
}

// WithShellDir sets the working directory of shell magics.
func WithShellDir(dir string) Option {
	return func(e *Evaluator) { e.shell.dir = dir }
}

// New creates an evaluator bound to s.
func New(s *scope.Scope, opts ...Option) *Evaluator {
	e := &Evaluator{scope: s, shell: &shell{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Count returns the number of cells executed so far.
func (e *Evaluator) Count() int {
	return e.count
}

// Evaluate runs code and reports its outcome. User code failures are always
// returned as an error reply; Evaluate itself never fails.
func (e *Evaluator) Evaluate(ctx context.Context, code string) *kernlet.ExecuteReply {
	if strings.TrimSpace(code) == "" {
		return &kernlet.ExecuteReply{Status: kernlet.StatusOK}
	}
	e.count++
	n := e.count

	var stdout, stderr bytes.Buffer
	var res result
	release, err := e.scope.Capture(&stdout, &stderr)
	if err != nil {
		res.err = err
	} else {
		if isMagic(code) {
			res = e.magic(ctx, code, &stdout)
		} else {
			res = e.run(ctx, code, &stdout)
		}
		release()
	}

	frames, extra := splitStderr(stderr.String())
	output := stdout.String() + extra

	reply := &kernlet.ExecuteReply{Status: kernlet.StatusOK, Output: output, ExecutionCount: n}
	if res.err != nil {
		f := classify(res.err, frames, res.lineOffset)
		reply.Status = kernlet.StatusError
		reply.ErrorKind = f.Kind
		reply.ErrorMessage = f.Message
		reply.Traceback = traceback(n, code, f)
		slog.Debug("cell failed", "n", n, "kind", f.Kind, "message", f.Message)
	} else if !isMagic(code) {
		e.scope.Record(code)
	}

	e.record(ctx, n, code, reply)
	return reply
}

func (e *Evaluator) record(ctx context.Context, n int, code string, reply *kernlet.ExecuteReply) {
	if e.history == nil {
		return
	}
	err := e.history.Record(ctx, history.Entry{
		N:      n,
		Code:   code,
		Status: string(reply.Status),
		Output: reply.Output,
	})
	if err != nil {
		slog.Warn("failed to record cell", "n", n, "error", err)
	}
}

type result struct {
	err        error
	lineOffset int
}

// run compiles code as an expression first and as statements otherwise.
// Statement cells are evaluated chunk by chunk, and a trailing expression
// statement is awaited and displayed like an expression cell.
func (e *Evaluator) run(ctx context.Context, code string, out io.Writer) result {
	if expr, err := parser.ParseExpr(code); err == nil {
		v, err := e.scope.Eval(ctx, code)
		if err != nil {
			return result{err: err}
		}
		return e.show(ctx, v, expr, out)
	}

	src, offset := code, 0
	if imports, rest, ok := scope.SplitImports(code); ok {
		if err := e.importAll(ctx, imports); err != nil {
			return result{err: err}
		}
		src, offset = rest, strings.Count(imports, "\n")
	}
	chunks := scope.SplitCell(src)
	for i, c := range chunks {
		line := offset + c.Line
		v, err := e.scope.Eval(ctx, c.Src)
		if err != nil {
			return result{err: err, lineOffset: line}
		}
		if i < len(chunks)-1 || c.Decl {
			continue
		}
		if expr := trailingExpr(c.Src); expr != nil {
			res := e.show(ctx, v, expr, out)
			res.lineOffset = line
			return res
		}
	}
	return result{}
}

func (e *Evaluator) show(ctx context.Context, v reflect.Value, expr ast.Expr, out io.Writer) result {
	v, err := e.await(ctx, v)
	if err != nil {
		return result{err: err}
	}
	if e.shouldDisplay(expr) {
		io.WriteString(out, render(v))
	}
	return result{}
}

// trailingExpr returns the last statement of src when it is an expression.
func trailingExpr(src string) ast.Expr {
	f, err := parser.ParseFile(token.NewFileSet(), "", "package p\nfunc _() {\n"+src+"\n}", 0)
	if err != nil {
		return nil
	}
	body := f.Decls[len(f.Decls)-1].(*ast.FuncDecl).Body.List
	if len(body) == 0 {
		return nil
	}
	if st, ok := body[len(body)-1].(*ast.ExprStmt); ok {
		return st.X
	}
	return nil
}

func (e *Evaluator) importAll(ctx context.Context, imports string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", "package p\n"+imports, parser.ImportsOnly)
	if err != nil {
		return err
	}
	for _, spec := range f.Imports {
		path, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return err
		}
		name := ""
		if spec.Name != nil {
			name = spec.Name.Name
		}
		if err := e.scope.Import(ctx, name, path); err != nil {
			return err
		}
	}
	return nil
}

// await drives suspending results to completion. Receive-only channels and
// Awaitable values suspend; everything else is returned as is.
func (e *Evaluator) await(ctx context.Context, v reflect.Value) (reflect.Value, error) {
	if !v.IsValid() {
		return v, nil
	}
	if v.Kind() == reflect.Chan && v.Type().ChanDir() == reflect.RecvDir {
		return e.awaitChan(ctx, v)
	}
	if !v.CanInterface() {
		return v, nil
	}
	a, ok := v.Interface().(Awaitable)
	if !ok {
		return v, nil
	}
	if err := e.wait(ctx, a.Done()); err != nil {
		return reflect.Value{}, err
	}
	res, err := a.Result()
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(res), nil
}

func (e *Evaluator) awaitChan(ctx context.Context, ch reflect.Value) (reflect.Value, error) {
	stop := make(chan struct{})
	defer close(stop)

	done := make(chan struct{})
	var (
		got reflect.Value
		ok  bool
	)
	go func() {
		chosen, recv, recvOK := reflect.Select([]reflect.SelectCase{
			{Dir: reflect.SelectRecv, Chan: ch},
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(stop)},
		})
		if chosen == 0 {
			got, ok = recv, recvOK
			close(done)
		}
	}()

	if err := e.wait(ctx, done); err != nil {
		return reflect.Value{}, err
	}
	if !ok {
		return reflect.Value{}, nil
	}
	return got, nil
}

func (e *Evaluator) wait(ctx context.Context, done <-chan struct{}) error {
	if e.loop != nil {
		err := e.loop.Await(ctx, done)
		if !errors.Is(err, loop.ErrNotInTask) {
			return err
		}
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shouldDisplay reports whether a bare expression's value is shown.
// Calls to print functions already wrote their output.
func (e *Evaluator) shouldDisplay(expr ast.Expr) bool {
	for {
		p, ok := expr.(*ast.ParenExpr)
		if !ok {
			break
		}
		expr = p.X
	}
	call, ok := expr.(*ast.CallExpr)
	if !ok {
		return true
	}
	switch fn := call.Fun.(type) {
	case *ast.Ident:
		return fn.Name != "print" && fn.Name != "println"
	case *ast.SelectorExpr:
		pkg, ok := fn.X.(*ast.Ident)
		if !ok {
			return true
		}
		path := e.scope.Imports()[pkg.Name]
		name := fn.Sel.Name
		switch path {
		case "fmt":
			return !strings.HasPrefix(name, "Print") && !strings.HasPrefix(name, "Fprint")
		case "log":
			return !strings.HasPrefix(name, "Print") && !strings.HasPrefix(name, "Fatal") && !strings.HasPrefix(name, "Panic")
		}
	}
	return true
}

func render(v reflect.Value) string {
	if !v.IsValid() || !v.CanInterface() {
		return ""
	}
	x := v.Interface()
	if s, ok := x.(string); ok {
		return strconv.Quote(s) + "\n"
	}
	return fmt.Sprintf("%v\n", x)
}
