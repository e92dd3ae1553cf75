package scope

import (
	"bytes"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"strconv"
	"strings"
)

// SymbolKind classifies a recorded name.
type SymbolKind string

const (
	KindVar    SymbolKind = "var"
	KindConst  SymbolKind = "const"
	KindFunc   SymbolKind = "func"
	KindType   SymbolKind = "type"
	KindImport SymbolKind = "import"
)

// Symbol is a name bound by an executed cell.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	Signature string
	Doc       string
}

// Symbols returns recorded names in the order they were first declared.
func (s *Scope) Symbols() []Symbol {
	return append([]Symbol(nil), s.symbols...)
}

// Lookup returns the symbol recorded for name.
func (s *Scope) Lookup(name string) (Symbol, bool) {
	i, ok := s.index[name]
	if !ok {
		return Symbol{}, false
	}
	return s.symbols[i], true
}

// Record adds the names declared by code, a cell that already executed
// successfully. Code that does not parse is ignored.
func (s *Scope) Record(code string) {
	for _, sym := range declared(code) {
		if sym.Kind == KindImport {
			if path, err := strconv.Unquote(strings.TrimPrefix(sym.Signature, "import "+sym.Name+" ")); err == nil {
				s.imports[sym.Name] = path
			}
		}
		s.record(sym)
	}
}

func (s *Scope) record(sym Symbol) {
	if sym.Name == "_" || sym.Name == "" {
		return
	}
	if i, ok := s.index[sym.Name]; ok {
		s.symbols[i] = sym
		return
	}
	s.index[sym.Name] = len(s.symbols)
	s.symbols = append(s.symbols, sym)
}

// SplitImports separates a leading import block from the rest of a cell.
// ok is false when code has no leading imports or does not parse as such.
func SplitImports(code string) (imports, rest string, ok bool) {
	const header = "package p\n"
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", header+code, parser.ImportsOnly)
	if err != nil || len(f.Imports) == 0 {
		return "", code, false
	}
	last := f.Decls[len(f.Decls)-1]
	end := fset.Position(last.End()).Offset - len(header)
	if end < 0 || end > len(code) {
		return "", code, false
	}
	return code[:end], code[end:], true
}

func declared(code string) []Symbol {
	if out, ok := fileDecls(code); ok {
		return out
	}

	var out []Symbol
	if imports, rest, ok := SplitImports(code); ok {
		syms, _ := fileDecls(imports)
		out = append(out, syms...)
		code = rest
	}
	for _, c := range SplitCell(code) {
		if c.Decl {
			syms, _ := fileDecls(c.Src)
			out = append(out, syms...)
		} else {
			out = append(out, stmtDecls(c.Src)...)
		}
	}
	return out
}

func fileDecls(code string) ([]Symbol, bool) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "", "package p\n"+code, parser.ParseComments)
	if err != nil {
		return nil, false
	}
	var out []Symbol
	for _, decl := range f.Decls {
		out = append(out, fromDecl(fset, decl)...)
	}
	return out, true
}

func stmtDecls(code string) []Symbol {
	fset := token.NewFileSet()
	src := "package p\nfunc _() {\n" + code + "\n}"
	f, err := parser.ParseFile(fset, "", src, parser.ParseComments)
	if err != nil {
		return nil
	}
	var out []Symbol
	body := f.Decls[len(f.Decls)-1].(*ast.FuncDecl).Body
	for _, stmt := range body.List {
		switch st := stmt.(type) {
		case *ast.AssignStmt:
			if st.Tok != token.DEFINE {
				continue
			}
			for i, lhs := range st.Lhs {
				id, ok := lhs.(*ast.Ident)
				if !ok {
					continue
				}
				sig := id.Name + " := "
				if len(st.Rhs) == len(st.Lhs) {
					sig += render(fset, st.Rhs[i])
				} else {
					sig += render(fset, st.Rhs[0])
				}
				out = append(out, Symbol{Name: id.Name, Kind: KindVar, Signature: shorten(sig)})
			}
		case *ast.DeclStmt:
			out = append(out, fromDecl(fset, st.Decl)...)
		}
	}
	return out
}

func fromDecl(fset *token.FileSet, decl ast.Decl) []Symbol {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		if d.Recv != nil {
			return nil
		}
		sig := "func " + d.Name.Name + strings.TrimPrefix(render(fset, d.Type), "func")
		return []Symbol{{Name: d.Name.Name, Kind: KindFunc, Signature: sig, Doc: d.Doc.Text()}}

	case *ast.GenDecl:
		var out []Symbol
		for _, spec := range d.Specs {
			switch sp := spec.(type) {
			case *ast.ImportSpec:
				path, err := strconv.Unquote(sp.Path.Value)
				if err != nil {
					continue
				}
				name := packageName(path)
				if sp.Name != nil {
					name = sp.Name.Name
				}
				out = append(out, Symbol{
					Name:      name,
					Kind:      KindImport,
					Signature: "import " + name + " " + strconv.Quote(path),
				})
			case *ast.ValueSpec:
				kind := KindVar
				if d.Tok == token.CONST {
					kind = KindConst
				}
				doc := sp.Doc.Text()
				if doc == "" {
					doc = d.Doc.Text()
				}
				for _, id := range sp.Names {
					sig := string(kind) + " " + id.Name
					if sp.Type != nil {
						sig += " " + render(fset, sp.Type)
					}
					out = append(out, Symbol{Name: id.Name, Kind: kind, Signature: sig, Doc: doc})
				}
			case *ast.TypeSpec:
				doc := sp.Doc.Text()
				if doc == "" {
					doc = d.Doc.Text()
				}
				sig := "type " + sp.Name.Name + " " + render(fset, sp.Type)
				out = append(out, Symbol{Name: sp.Name.Name, Kind: KindType, Signature: shorten(sig), Doc: doc})
			}
		}
		return out
	}
	return nil
}

func render(fset *token.FileSet, node ast.Node) string {
	var buf bytes.Buffer
	if err := printer.Fprint(&buf, fset, node); err != nil {
		return ""
	}
	return buf.String()
}

func shorten(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
