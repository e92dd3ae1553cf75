// Package complete answers completion and introspection requests from the
// scope's symbol table, the interpreter's export tables and package
// documentation read from GOROOT and the configured search paths.
//
// The engine never executes cell code.
package complete

import (
	"context"
	"fmt"
	"go/token"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Paranoid-AF/kernlet"
	"github.com/Paranoid-AF/kernlet/scope"
)

const (
	defaultMaxMatches = 50
	fuzzyMinPrefix    = 3
	fuzzyCandidates   = 8
)

// Source is the view of the shared scope the engine reads.
type Source interface {
	Symbols() []scope.Symbol
	Lookup(name string) (scope.Symbol, bool)
	Imports() map[string]string
	Packages() []string
	Members(path string) []string
	Value(ctx context.Context, name string) (reflect.Value, bool)
}

// Options configures an Engine.
type Options struct {
	GoRoot      string
	SearchPaths []string
	CacheTTL    time.Duration
	MaxMatches  int
	Fuzzy       bool
}

// Engine implements completion and introspection.
type Engine struct {
	src        Source
	docs       *DocCache
	fuzzy      *fuzzyIndex
	maxMatches int
	useFuzzy   bool
}

// New creates an engine over src.
func New(src Source, opts Options) *Engine {
	goroot := opts.GoRoot
	if goroot == "" {
		goroot = runtime.GOROOT()
	}
	maxMatches := opts.MaxMatches
	if maxMatches <= 0 {
		maxMatches = defaultMaxMatches
	}
	e := &Engine{
		src:        src,
		docs:       NewDocCache(goroot, opts.SearchPaths, opts.CacheTTL),
		fuzzy:      newFuzzyIndex(),
		maxMatches: maxMatches,
		useFuzzy:   opts.Fuzzy,
	}
	e.fuzzy.Add(builtins...)
	e.fuzzy.Add(keywords...)
	return e
}

// Close releases the documentation cache.
func (e *Engine) Close() {
	e.docs.Close()
}

// Docs exposes the engine's documentation cache.
func (e *Engine) Docs() *DocCache {
	return e.docs
}

// Complete returns the names that can replace the identifier ending at
// cursor. Delta is the length of the typed part the client erases.
func (e *Engine) Complete(ctx context.Context, code string, cursor int) kernlet.CompleteReply {
	empty := kernlet.CompleteReply{Matches: []string{}}
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(code) {
		cursor = len(code)
	}
	before := code[:cursor]
	if strings.TrimSpace(before) == "" {
		return empty
	}
	if strings.ContainsRune(" =:()", rune(before[len(before)-1])) {
		return empty
	}

	qualifier, prefix, ok := splitToken(trailingToken(before))
	if !ok {
		return empty
	}

	var candidates []string
	if qualifier != "" {
		candidates = e.members(ctx, qualifier)
	} else {
		candidates = e.unqualified()
	}

	matches := filterPrefix(candidates, prefix)
	if len(matches) == 0 && e.useFuzzy && len(prefix) >= fuzzyMinPrefix {
		matches = e.fuzzyMatches(qualifier, prefix, candidates)
	}
	if len(matches) > e.maxMatches {
		matches = matches[:e.maxMatches]
	}
	if len(matches) == 0 {
		return empty
	}
	return kernlet.CompleteReply{Matches: matches, Delta: len(prefix)}
}

// unqualified lists candidate names in rank order: scope symbols, builtins,
// package names, keywords.
func (e *Engine) unqualified() []string {
	var out []string
	for _, sym := range e.src.Symbols() {
		if sym.Kind != scope.KindImport {
			out = append(out, sym.Name)
		}
	}
	sort.Strings(out)
	out = append(out, builtins...)

	var pkgs []string
	for name := range e.src.Imports() {
		pkgs = append(pkgs, name)
	}
	sort.Strings(pkgs)
	out = append(out, pkgs...)
	return append(out, keywords...)
}

// members lists the names reachable through qualifier: a package or a
// recorded value.
func (e *Engine) members(ctx context.Context, qualifier string) []string {
	if strings.Contains(qualifier, ".") {
		return nil
	}
	if path, ok := e.packagePath(qualifier); ok {
		if names := e.src.Members(path); len(names) > 0 {
			return names
		}
		return e.docs.Members(path)
	}
	v, ok := e.src.Value(ctx, qualifier)
	if !ok {
		return nil
	}
	return valueMembers(v.Type())
}

// packagePath resolves a package name, preferring the scope's imports over
// the interpreter's known packages.
func (e *Engine) packagePath(name string) (string, bool) {
	if path, ok := e.src.Imports()[name]; ok {
		return path, true
	}
	if _, ok := e.src.Lookup(name); ok {
		return "", false
	}
	for _, path := range e.src.Packages() {
		if path == name || strings.HasSuffix(path, "/"+name) {
			return path, true
		}
	}
	return "", false
}

func (e *Engine) fuzzyMatches(qualifier, prefix string, candidates []string) []string {
	if qualifier != "" {
		return searchAmong(prefix, candidates, fuzzyCandidates)
	}
	e.fuzzy.Add(candidates...)
	return e.fuzzy.Search(prefix, fuzzyCandidates)
}

func valueMembers(t reflect.Type) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] && token.IsExported(name) {
			seen[name] = true
			out = append(out, name)
		}
	}
	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() == reflect.Struct {
		for i := 0; i < st.NumField(); i++ {
			add(st.Field(i).Name)
		}
	}
	for i := 0; i < t.NumMethod(); i++ {
		add(t.Method(i).Name)
	}
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
		pt := reflect.PointerTo(t)
		for i := 0; i < pt.NumMethod(); i++ {
			add(pt.Method(i).Name)
		}
	}
	sort.Strings(out)
	return out
}

func filterPrefix(candidates []string, prefix string) []string {
	seen := make(map[string]bool, len(candidates))
	out := []string{}
	for _, c := range candidates {
		if seen[c] || !strings.HasPrefix(c, prefix) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// trailingToken returns the dotted identifier that ends s.
func trailingToken(s string) string {
	i := len(s)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if r != '.' && !isIdentRune(r) {
			break
		}
		i -= size
	}
	return s[i:]
}

// splitToken splits "a.b.pre" into qualifier "a.b" and prefix "pre".
func splitToken(tok string) (qualifier, prefix string, ok bool) {
	if tok == "" || strings.HasPrefix(tok, ".") {
		return "", "", false
	}
	if r, _ := utf8.DecodeRuneInString(tok); unicode.IsDigit(r) {
		return "", "", false
	}
	if i := strings.LastIndexByte(tok, '.'); i >= 0 {
		if tok[:i] == "" || strings.HasSuffix(tok[:i], ".") {
			return "", "", false
		}
		return tok[:i], tok[i+1:], true
	}
	return "", tok, true
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Introspect documents the identifier at line (1-based) and column
// (0-based) in code.
func (e *Engine) Introspect(ctx context.Context, code string, line, column int) kernlet.IntrospectReply {
	notFound := kernlet.IntrospectReply{}
	offset, ok := lineColumnOffset(code, line, column)
	if !ok {
		return notFound
	}
	qualifier, name := identifierAt(code, offset)
	if name == "" {
		return notFound
	}

	if text, ok := e.describe(ctx, qualifier, name); ok {
		return kernlet.IntrospectReply{Found: true, Data: text}
	}
	return notFound
}

func (e *Engine) describe(ctx context.Context, qualifier, name string) (string, bool) {
	if qualifier == "" {
		if sym, ok := e.src.Lookup(name); ok {
			if sym.Kind == scope.KindImport {
				path := strings.Trim(sym.Signature[strings.LastIndexByte(sym.Signature, ' ')+1:], `"`)
				if text, ok := e.docs.Lookup(path, ""); ok {
					return text, true
				}
			}
			text := sym.Signature + "\n"
			if sym.Doc != "" {
				text += "\n" + sym.Doc
			}
			return text, true
		}
		if isBuiltin(name) {
			return e.docs.Lookup("builtin", name)
		}
		if path, ok := e.packagePath(name); ok {
			return e.docs.Lookup(path, "")
		}
		return "", false
	}

	if path, ok := e.packagePath(qualifier); ok {
		return e.docs.Lookup(path, name)
	}
	v, ok := e.src.Value(ctx, qualifier)
	if !ok {
		return "", false
	}
	return describeMember(e.docs, v.Type(), name)
}

// describeMember documents a field or method of t, using package docs when
// t is declared in a package the cache can load.
func describeMember(docs *DocCache, t reflect.Type, name string) (string, bool) {
	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	if base.PkgPath() != "" {
		if text, ok := docs.Method(base.PkgPath(), base.Name(), name); ok {
			return text, true
		}
	}
	if m, ok := t.MethodByName(name); ok {
		return fmt.Sprintf("func (%s) %s%s\n", t, name, strings.TrimPrefix(m.Type.String(), "func")), true
	}
	if m, ok := reflect.PointerTo(base).MethodByName(name); ok {
		return fmt.Sprintf("func (*%s) %s%s\n", base, name, strings.TrimPrefix(m.Type.String(), "func")), true
	}
	if base.Kind() == reflect.Struct {
		if f, ok := base.FieldByName(name); ok {
			return fmt.Sprintf("field %s %s\n", f.Name, f.Type), true
		}
	}
	return "", false
}

func lineColumnOffset(code string, line, column int) (int, bool) {
	if line < 1 || column < 0 {
		return 0, false
	}
	lines := strings.SplitAfter(code, "\n")
	if line > len(lines) {
		return 0, false
	}
	offset := 0
	for _, l := range lines[:line-1] {
		offset += len(l)
	}
	text := strings.TrimSuffix(lines[line-1], "\n")
	if column > len(text) {
		column = len(text)
	}
	return offset + column, true
}

// identifierAt returns the identifier touching offset and the dotted
// qualifier in front of it.
func identifierAt(code string, offset int) (qualifier, name string) {
	start := offset
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(code[:start])
		if !isIdentRune(r) {
			break
		}
		start -= size
	}
	end := offset
	for end < len(code) {
		r, size := utf8.DecodeRuneInString(code[end:])
		if !isIdentRune(r) {
			break
		}
		end += size
	}
	name = code[start:end]
	if name == "" {
		return "", ""
	}
	if start > 0 && code[start-1] == '.' {
		q := trailingToken(code[:start-1])
		if q != "" && !strings.Contains(q, ".") {
			qualifier = q
		}
	}
	return qualifier, name
}
