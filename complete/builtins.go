package complete

// builtins are the predeclared identifiers, documented in GOROOT/src/builtin.
var builtins = []string{
	"any", "append", "bool", "byte", "cap", "clear", "close", "comparable",
	"complex", "complex128", "complex64", "copy", "delete", "error", "false",
	"float32", "float64", "imag", "int", "int16", "int32", "int64", "int8",
	"iota", "len", "make", "max", "min", "new", "nil", "panic", "print",
	"println", "real", "recover", "rune", "string", "true", "uint", "uint16",
	"uint32", "uint64", "uint8", "uintptr",
}

var keywords = []string{
	"break", "case", "chan", "const", "continue", "default", "defer", "else",
	"fallthrough", "for", "func", "go", "goto", "if", "import", "interface",
	"map", "package", "range", "return", "select", "struct", "switch", "type",
	"var",
}

var builtinSet = func() map[string]bool {
	m := make(map[string]bool, len(builtins))
	for _, b := range builtins {
		m[b] = true
	}
	return m
}()

func isBuiltin(name string) bool {
	return builtinSet[name]
}
