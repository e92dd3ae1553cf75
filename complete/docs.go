package complete

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/build"
	"go/doc"
	"go/parser"
	"go/printer"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jellydator/ttlcache/v3"
)

const defaultDocTTL = time.Hour

// pkgDoc is the parsed documentation of one package.
type pkgDoc struct {
	fset *token.FileSet
	pkg  *doc.Package
	dir  string
}

// DocCache loads package documentation from GOROOT and the search paths
// and keeps it in a TTL cache keyed by import path. Packages loaded from
// the search paths are watched and evicted when their files change.
type DocCache struct {
	goroot      string
	searchPaths []string
	cache       *ttlcache.Cache[string, *pkgDoc]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	dirs    map[string]string // watched dir -> import path
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewDocCache creates a cache. A ttl of zero uses one hour.
func NewDocCache(goroot string, searchPaths []string, ttl time.Duration) *DocCache {
	if ttl <= 0 {
		ttl = defaultDocTTL
	}
	c := ttlcache.New[string, *pkgDoc](
		ttlcache.WithTTL[string, *pkgDoc](ttl),
		ttlcache.WithDisableTouchOnHit[string, *pkgDoc](),
	)
	go c.Start()

	dc := &DocCache{
		goroot:      goroot,
		searchPaths: searchPaths,
		cache:       c,
		dirs:        make(map[string]string),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("search path watcher unavailable", "error", err)
		close(dc.doneCh)
		return dc
	}
	dc.watcher = w
	go dc.watch()
	return dc
}

// Close stops the expiration loop and the watcher.
func (dc *DocCache) Close() {
	dc.once.Do(func() {
		dc.cache.Stop()
		close(dc.stopCh)
		<-dc.doneCh
		if dc.watcher != nil {
			dc.watcher.Close()
		}
	})
}

// Evict drops the cached documentation of path.
func (dc *DocCache) Evict(path string) {
	dc.cache.Delete(path)
}

// Cached reports whether path is currently cached.
func (dc *DocCache) Cached(path string) bool {
	return dc.cache.Has(path)
}

// Package returns the documentation of the package at import path.
func (dc *DocCache) Package(path string) (*pkgDoc, error) {
	if item := dc.cache.Get(path); item != nil {
		return item.Value(), nil
	}

	dir, fromSearchPath, ok := dc.locate(path)
	if !ok {
		return nil, fmt.Errorf("package %s not found", path)
	}
	pd, err := loadDir(dc.goroot, dir, path)
	if err != nil {
		return nil, err
	}
	dc.cache.Set(path, pd, ttlcache.DefaultTTL)
	if fromSearchPath {
		dc.watchDir(dir, path)
	}
	return pd, nil
}

// Members returns the exported top-level names of the package at path.
func (dc *DocCache) Members(path string) []string {
	pd, err := dc.Package(path)
	if err != nil {
		return nil
	}
	var out []string
	for _, c := range pd.pkg.Consts {
		out = append(out, c.Names...)
	}
	for _, v := range pd.pkg.Vars {
		out = append(out, v.Names...)
	}
	for _, f := range pd.pkg.Funcs {
		out = append(out, f.Name)
	}
	for _, t := range pd.pkg.Types {
		out = append(out, t.Name)
		for _, f := range t.Funcs {
			out = append(out, f.Name)
		}
		for _, c := range t.Consts {
			out = append(out, c.Names...)
		}
		for _, v := range t.Vars {
			out = append(out, v.Names...)
		}
	}
	sort.Strings(out)
	return out
}

// Lookup returns the declaration and doc comment of name in the package
// at path. An empty name returns the package documentation.
func (dc *DocCache) Lookup(path, name string) (string, bool) {
	pd, err := dc.Package(path)
	if err != nil {
		return "", false
	}
	if name == "" {
		return fmt.Sprintf("package %s // import %q\n\n%s", pd.pkg.Name, path, pd.pkg.Doc), true
	}

	show := func(decl ast.Node, text string) (string, bool) {
		return strings.TrimRight(pd.render(decl)+"\n\n"+text, "\n") + "\n", true
	}
	for _, f := range pd.pkg.Funcs {
		if f.Name == name {
			return show(f.Decl, f.Doc)
		}
	}
	for _, t := range pd.pkg.Types {
		if t.Name == name {
			return show(t.Decl, t.Doc)
		}
		for _, f := range t.Funcs {
			if f.Name == name {
				return show(f.Decl, f.Doc)
			}
		}
		if v := valueNamed(name, t.Consts, t.Vars); v != nil {
			return show(v.Decl, v.Doc)
		}
	}
	if v := valueNamed(name, pd.pkg.Consts, pd.pkg.Vars); v != nil {
		return show(v.Decl, v.Doc)
	}
	return "", false
}

// Method returns the declaration and doc comment of typ.method.
func (dc *DocCache) Method(path, typ, method string) (string, bool) {
	pd, err := dc.Package(path)
	if err != nil {
		return "", false
	}
	for _, t := range pd.pkg.Types {
		if t.Name != typ {
			continue
		}
		for _, m := range t.Methods {
			if m.Name == method {
				return strings.TrimRight(pd.render(m.Decl)+"\n\n"+m.Doc, "\n") + "\n", true
			}
		}
	}
	return "", false
}

func (dc *DocCache) locate(path string) (dir string, fromSearchPath, ok bool) {
	if dc.goroot != "" {
		d := filepath.Join(dc.goroot, "src", filepath.FromSlash(path))
		if isDir(d) {
			return d, false, true
		}
	}
	for _, root := range dc.searchPaths {
		for _, d := range []string{
			filepath.Join(root, "src", filepath.FromSlash(path)),
			filepath.Join(root, filepath.FromSlash(path)),
		} {
			if isDir(d) {
				return d, true, true
			}
		}
	}
	return "", false, false
}

func (dc *DocCache) watchDir(dir, path string) {
	if dc.watcher == nil {
		return
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if _, ok := dc.dirs[dir]; ok {
		return
	}
	if err := dc.watcher.Add(dir); err != nil {
		slog.Debug("cannot watch package dir", "dir", dir, "error", err)
		return
	}
	dc.dirs[dir] = path
}

func (dc *DocCache) watch() {
	defer close(dc.doneCh)
	for {
		select {
		case <-dc.stopCh:
			return
		case event, ok := <-dc.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".go") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			dc.mu.Lock()
			path, ok := dc.dirs[filepath.Dir(event.Name)]
			dc.mu.Unlock()
			if ok {
				slog.Debug("package changed, evicting docs", "package", path, "file", event.Name)
				dc.Evict(path)
			}
		case err, ok := <-dc.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("search path watcher error", "error", err)
		}
	}
}

func loadDir(goroot, dir, path string) (*pkgDoc, error) {
	ctxt := build.Default
	if goroot != "" {
		ctxt.GOROOT = goroot
	}
	bp, err := ctxt.ImportDir(dir, build.ImportComment)
	if err != nil {
		var noGo *build.NoGoError
		if !errors.As(err, &noGo) {
			return nil, fmt.Errorf("import %s: %w", path, err)
		}
	}

	fset := token.NewFileSet()
	var files []*ast.File
	for _, name := range append(bp.GoFiles, bp.CgoFiles...) {
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("package %s has no Go files", path)
	}

	var mode doc.Mode
	if path == "builtin" {
		mode = doc.AllDecls
	}
	pkg, err := doc.NewFromFiles(fset, files, path, mode)
	if err != nil {
		return nil, fmt.Errorf("read docs for %s: %w", path, err)
	}
	return &pkgDoc{fset: fset, pkg: pkg, dir: dir}, nil
}

func (pd *pkgDoc) render(node ast.Node) string {
	if fd, ok := node.(*ast.FuncDecl); ok {
		cp := *fd
		cp.Body = nil
		cp.Doc = nil
		node = &cp
	}
	if gd, ok := node.(*ast.GenDecl); ok {
		cp := *gd
		cp.Doc = nil
		node = &cp
	}
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, pd.fset, node); err != nil {
		return ""
	}
	return buf.String()
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func valueNamed(name string, groups ...[]*doc.Value) *doc.Value {
	for _, group := range groups {
		for _, v := range group {
			for _, n := range v.Names {
				if n == name {
					return v
				}
			}
		}
	}
	return nil
}
