// Package scope owns the live interpreter that every cell runs against.
//
// A Scope is not safe for concurrent use. All calls are expected to come from
// the host loop goroutine, which is what serializes evaluation.
package scope

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// HostPackage is the import path under which host exports are published.
const HostPackage = "kernlet/host"

// ErrCaptureBusy is returned when output is already being captured.
var ErrCaptureBusy = errors.New("scope: output capture already active")

// Options configures a Scope.
type Options struct {
	// GoPath is handed to the interpreter for resolving source imports.
	GoPath string
	// Exports are host-provided names visible to cells as host.<Name>.
	Exports map[string]any
	// Preload lists import paths imported before the first cell.
	Preload []string
	// Stdout receives interpreter output while nothing is captured.
	// Defaults to io.Discard.
	Stdout io.Writer
}

// Scope is the persistent namespace shared by all cells.
type Scope struct {
	interp *interp.Interpreter
	out    *switchWriter
	errOut *switchWriter

	symbols []Symbol
	index   map[string]int
	imports map[string]string
	exports []string
}

// New creates an interpreter with the standard library and host exports loaded.
func New(opts Options) (*Scope, error) {
	fallback := opts.Stdout
	if fallback == nil {
		fallback = io.Discard
	}
	out := &switchWriter{fallback: fallback}
	errOut := &switchWriter{fallback: fallback}

	i := interp.New(interp.Options{
		GoPath: opts.GoPath,
		Stdout: out,
		Stderr: errOut,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib: %w", err)
	}

	s := &Scope{
		interp:  i,
		out:     out,
		errOut:  errOut,
		index:   make(map[string]int),
		imports: make(map[string]string),
	}

	if len(opts.Exports) > 0 {
		if err := s.useExports(opts.Exports); err != nil {
			return nil, err
		}
	}
	for _, path := range opts.Preload {
		if err := s.Import(context.Background(), "", path); err != nil {
			return nil, fmt.Errorf("preload %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *Scope) useExports(exports map[string]any) error {
	table := make(map[string]reflect.Value, len(exports))
	for name, v := range exports {
		table[name] = reflect.ValueOf(v)
		s.exports = append(s.exports, name)
	}
	sort.Strings(s.exports)

	if err := s.interp.Use(interp.Exports{HostPackage + "/host": table}); err != nil {
		return fmt.Errorf("publish host exports: %w", err)
	}
	return s.Import(context.Background(), "", HostPackage)
}

// Eval evaluates src in the shared namespace.
func (s *Scope) Eval(ctx context.Context, src string) (reflect.Value, error) {
	return s.interp.EvalWithContext(ctx, src)
}

// Import binds path under name, or under the package name when name is
// empty. Re-importing an existing binding is a no-op.
func (s *Scope) Import(ctx context.Context, name, path string) error {
	src := fmt.Sprintf("import %q", path)
	if name == "" {
		name = packageName(path)
	} else {
		src = fmt.Sprintf("import %s %q", name, path)
	}
	if s.imports[name] == path {
		return nil
	}
	if _, err := s.Eval(ctx, src); err != nil {
		return err
	}
	s.imports[name] = path
	s.record(Symbol{Name: name, Kind: KindImport, Signature: "import " + name + " " + strconv.Quote(path)})
	return nil
}

// Imported reports whether name is bound to path.
func (s *Scope) Imported(name, path string) bool {
	return s.imports[name] == path
}

// Capture routes interpreter stdout to stdout and stderr to stderr until
// release is called. A nil stderr shares stdout.
func (s *Scope) Capture(stdout, stderr io.Writer) (release func(), err error) {
	if stderr == nil {
		stderr = stdout
	}
	releaseOut, err := s.out.capture(stdout)
	if err != nil {
		return nil, err
	}
	releaseErr, err := s.errOut.capture(stderr)
	if err != nil {
		releaseOut()
		return nil, err
	}
	return func() {
		releaseErr()
		releaseOut()
	}, nil
}

// Imports maps package names to import paths.
func (s *Scope) Imports() map[string]string {
	out := make(map[string]string, len(s.imports))
	for k, v := range s.imports {
		out[k] = v
	}
	return out
}

// HostExports returns the sorted names published under the host package.
func (s *Scope) HostExports() []string {
	return append([]string(nil), s.exports...)
}

// Value returns the current value of a recorded variable or constant.
// Names that are not in the symbol table are never evaluated.
func (s *Scope) Value(ctx context.Context, name string) (reflect.Value, bool) {
	sym, ok := s.Lookup(name)
	if !ok || (sym.Kind != KindVar && sym.Kind != KindConst) {
		return reflect.Value{}, false
	}
	v, err := s.Eval(ctx, name)
	if err != nil || !v.IsValid() {
		return reflect.Value{}, false
	}
	return v, true
}

// Packages lists the import paths the interpreter can resolve without
// source, sorted.
func (s *Scope) Packages() []string {
	seen := make(map[string]bool, len(stdlib.Symbols)+1)
	var out []string
	for key := range stdlib.Symbols {
		path := key
		if i := strings.LastIndexByte(key, '/'); i > 0 {
			path = key[:i]
		}
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	if len(s.exports) > 0 && !seen[HostPackage] {
		out = append(out, HostPackage)
	}
	sort.Strings(out)
	return out
}

// Members returns the exported names of the package at path, sorted.
func (s *Scope) Members(path string) []string {
	if path == HostPackage {
		return s.HostExports()
	}
	key := path + "/" + packageName(path)
	table, ok := stdlib.Symbols[key]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(table))
	for name := range table {
		if strings.HasPrefix(name, "_") {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func packageName(path string) string {
	elems := strings.Split(path, "/")
	name := elems[len(elems)-1]
	// Versioned paths such as math/rand/v2 are named after the parent element.
	if len(elems) > 1 && len(name) > 1 && name[0] == 'v' && strings.Trim(name[1:], "0123456789") == "" {
		return elems[len(elems)-2]
	}
	return name
}

type switchWriter struct {
	mu       sync.Mutex
	target   io.Writer
	fallback io.Writer
}

func (w *switchWriter) capture(target io.Writer) (func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target != nil {
		return nil, ErrCaptureBusy
	}
	w.target = target
	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			w.target = nil
			w.mu.Unlock()
		})
	}, nil
}

func (w *switchWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target != nil {
		return w.target.Write(p)
	}
	return w.fallback.Write(p)
}
