package router

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Request
	}{
		{"execute", "x := 1", Execute{Code: "x := 1"}},
		{"execute empty", "", Execute{Code: ""}},
		{"execute magic", "%who", Execute{Code: "%who"}},
		{"execute short percent", "%!", Execute{Code: "%!"}},
		{"complete", "%!cfmt.Pri", Complete{Code: "fmt.Pri", Cursor: 7}},
		{"complete empty", "%!c", Complete{Code: "", Cursor: 0}},
		{"introspect", "%!i1:5%fmt.Println", Introspect{Code: "fmt.Println", Line: 1, Column: 5}},
		{"introspect code with percent", "%!i2:0%x := 5 % 3\ny", Introspect{Code: "x := 5 % 3\ny", Line: 2, Column: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.raw)
			if err != nil {
				t.Fatalf("Classify(%q): %v", tt.raw, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Classify(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestClassifyMalformedIntrospect(t *testing.T) {
	for _, raw := range []string{"%!i1:2", "%!i12%x", "%!ia:2%x", "%!i1:b%x"} {
		_, err := Classify(raw)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("Classify(%q): expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestFormatRoundTrip(t *testing.T) {
	requests := []Request{
		Execute{Code: "fmt.Println(1)"},
		Complete{Code: "pri", Cursor: 3},
		Introspect{Code: "strings.Split", Line: 1, Column: 9},
	}
	for _, req := range requests {
		got, err := Classify(Format(req))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(req, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestFormatCompleteTruncatesAtCursor(t *testing.T) {
	got := Format(Complete{Code: "fmt.Println(x)", Cursor: 7})
	if got != "%!cfmt.Pri" {
		t.Errorf("got %q", got)
	}
}

func TestKindString(t *testing.T) {
	if KindIntrospect.String() != "introspect" || Kind(9).String() != "unknown" {
		t.Error("unexpected Kind names")
	}
}
