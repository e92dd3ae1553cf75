package scope

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newScope(t *testing.T, opts Options) *Scope {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestEvalPersistsBindings(t *testing.T) {
	s := newScope(t, Options{})
	ctx := context.Background()

	if _, err := s.Eval(ctx, "x := 40"); err != nil {
		t.Fatal(err)
	}
	v, err := s.Eval(ctx, "x + 2")
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Interface(); got != 42 {
		t.Errorf("x + 2 = %v, want 42", got)
	}
}

func TestCaptureRoutesOutput(t *testing.T) {
	var fallback bytes.Buffer
	s := newScope(t, Options{Stdout: &fallback, Preload: []string{"fmt"}})
	ctx := context.Background()

	var captured bytes.Buffer
	release, err := s.Capture(&captured, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Eval(ctx, `fmt.Println("inside")`); err != nil {
		t.Fatal(err)
	}
	release()
	if _, err := s.Eval(ctx, `fmt.Println("outside")`); err != nil {
		t.Fatal(err)
	}

	if captured.String() != "inside\n" {
		t.Errorf("captured = %q", captured.String())
	}
	if fallback.String() != "outside\n" {
		t.Errorf("fallback = %q", fallback.String())
	}
}

func TestCaptureBusy(t *testing.T) {
	s := newScope(t, Options{})
	release, err := s.Capture(&bytes.Buffer{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Capture(&bytes.Buffer{}, nil); !errors.Is(err, ErrCaptureBusy) {
		t.Errorf("expected ErrCaptureBusy, got %v", err)
	}
	release()
	release()
	if _, err := s.Capture(&bytes.Buffer{}, nil); err != nil {
		t.Errorf("capture after release: %v", err)
	}
}

func TestHostExports(t *testing.T) {
	s := newScope(t, Options{Exports: map[string]any{
		"Answer": func() int { return 42 },
	}})
	v, err := s.Eval(context.Background(), "host.Answer()")
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Interface(); got != 42 {
		t.Errorf("host.Answer() = %v", got)
	}
	if diff := cmp.Diff([]string{"Answer"}, s.Members(HostPackage)); diff != "" {
		t.Errorf("host members (-want +got):\n%s", diff)
	}
	if !s.Imported("host", HostPackage) {
		t.Error("host package not imported")
	}
}

func TestRecordOrder(t *testing.T) {
	s := newScope(t, Options{})
	s.Record("b := 2")
	s.Record("// Add adds.\nfunc Add(x, y int) int { return x + y }")
	s.Record("import str \"strings\"\nvar a, c = 1, 3")
	s.Record("b := 5")
	s.Record("type Point struct{ X, Y int }")
	s.Record("not valid go (")

	var names []string
	for _, sym := range s.Symbols() {
		names = append(names, sym.Name)
	}
	want := []string{"b", "Add", "str", "a", "c", "Point"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("symbol order (-want +got):\n%s", diff)
	}

	add, ok := s.Lookup("Add")
	if !ok {
		t.Fatal("Add not recorded")
	}
	if add.Signature != "func Add(x, y int) int" || add.Doc != "Add adds.\n" {
		t.Errorf("Add = %+v", add)
	}
	if b, _ := s.Lookup("b"); b.Signature != "b := 5" {
		t.Errorf("b signature = %q", b.Signature)
	}
	if s.Imports()["str"] != "strings" {
		t.Errorf("imports = %v", s.Imports())
	}
}

func TestSplitImports(t *testing.T) {
	tests := []struct {
		code    string
		imports string
		rest    string
		ok      bool
	}{
		{"import \"fmt\"\nfmt.Println(1)", "import \"fmt\"", "\nfmt.Println(1)", true},
		{"import (\n\t\"os\"\n)\nx := 1", "import (\n\t\"os\"\n)", "\nx := 1", true},
		{"x := 1", "", "x := 1", false},
	}
	for _, tt := range tests {
		imports, rest, ok := SplitImports(tt.code)
		if imports != tt.imports || rest != tt.rest || ok != tt.ok {
			t.Errorf("SplitImports(%q) = %q, %q, %v", tt.code, imports, rest, ok)
		}
	}
}

func TestValueOnlyForRecordedNames(t *testing.T) {
	s := newScope(t, Options{})
	ctx := context.Background()
	if _, err := s.Eval(ctx, `msg := "hi"`); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Value(ctx, "msg"); ok {
		t.Error("unrecorded name should not be evaluated")
	}
	s.Record(`msg := "hi"`)
	v, ok := s.Value(ctx, "msg")
	if !ok || v.Interface() != "hi" {
		t.Errorf("Value(msg) = %v, %v", v, ok)
	}
}

func TestPackageName(t *testing.T) {
	for path, want := range map[string]string{
		"fmt":          "fmt",
		"net/http":     "http",
		"math/rand/v2": "rand",
		"kernlet/host": "host",
	} {
		if got := packageName(path); got != want {
			t.Errorf("packageName(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestPackagesAndMembers(t *testing.T) {
	s := newScope(t, Options{})
	pkgs := s.Packages()
	found := false
	for _, p := range pkgs {
		if p == "strings" {
			found = true
		}
	}
	if !found {
		t.Error("strings missing from Packages()")
	}
	members := s.Members("strings")
	if len(members) == 0 {
		t.Fatal("no members for strings")
	}
	for _, m := range members {
		if m[0] == '_' {
			t.Errorf("private export %q listed", m)
		}
	}
}

func TestSplitCell(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []Chunk
	}{
		{"statements", "x := 1\nx++", []Chunk{{Src: "x := 1\nx++"}}},
		{"declarations", "var x = 1\nconst y = 2", []Chunk{{Src: "var x = 1\nconst y = 2", Decl: true}}},
		{"var then statement", "var x = 1\nx++", []Chunk{
			{Src: "var x = 1\n", Decl: true},
			{Src: "x++", Line: 1},
		}},
		{"func then call", "func sq(n int) int {\n\treturn n * n\n}\nfmt.Println(sq(3))", []Chunk{
			{Src: "func sq(n int) int {\n\treturn n * n\n}\n", Decl: true},
			{Src: "fmt.Println(sq(3))", Line: 3},
		}},
		{"statement then doc commented type", "a := 1\n// T holds A.\ntype T struct{ A int }\nt := T{A: a}", []Chunk{
			{Src: "a := 1\n"},
			{Src: "// T holds A.\ntype T struct{ A int }\n", Line: 1, Decl: true},
			{Src: "t := T{A: a}", Line: 3},
		}},
		{"method", "type N int\nfunc (n N) Double() N { return n * 2 }\nN(4).Double()", []Chunk{
			{Src: "type N int\nfunc (n N) Double() N { return n * 2 }\n", Decl: true},
			{Src: "N(4).Double()", Line: 2},
		}},
		{"function literal", "f := 1\nfunc() { f++ }()", []Chunk{{Src: "f := 1\nfunc() { f++ }()"}}},
		{"literal with result", "func(a int) int { return a }(1)", []Chunk{{Src: "func(a int) int { return a }(1)"}}},
		{"empty", "  \n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, SplitCell(tt.code)); diff != "" {
				t.Errorf("SplitCell(%q) (-want +got):\n%s", tt.code, diff)
			}
		})
	}
}

func TestRecordMixedCell(t *testing.T) {
	s := newScope(t, Options{})
	s.Record("x := 2\n// Sq squares.\nfunc Sq(n int) int { return n * n }\ny := Sq(x)")

	var names []string
	for _, sym := range s.Symbols() {
		names = append(names, sym.Name)
	}
	if diff := cmp.Diff([]string{"x", "Sq", "y"}, names); diff != "" {
		t.Errorf("symbols (-want +got):\n%s", diff)
	}
	if sq, _ := s.Lookup("Sq"); sq.Doc != "Sq squares.\n" {
		t.Errorf("Sq doc = %q", sq.Doc)
	}
}
