package history

import (
	"bytes"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// keepVars are environment variables whose values are not secret.
var keepVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true, "PATH": true,
	"SHELL": true, "LANG": true, "TERM": true, "TMPDIR": true, "GOPATH": true,
	"GOROOT": true, "XDG_CONFIG_HOME": true, "XDG_RUNTIME_DIR": true,
	"LC_ALL": true, "LC_CTYPE": true, "HOSTNAME": true, "LOGNAME": true,
}

var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true, "-": true, "$": true,
	"_": true, "0": true, "1": true, "2": true, "3": true, "4": true, "5": true,
	"6": true, "7": true, "8": true, "9": true,
}

// RedactCell hides variable references and assignment values in shell
// magic cells. Other cells are returned unchanged.
func RedactCell(code string) string {
	trimmed := strings.TrimLeft(code, " \t\r\n")
	switch {
	case strings.HasPrefix(trimmed, "%%sh"):
		header, script, ok := strings.Cut(trimmed, "\n")
		if !ok {
			return trimmed
		}
		return header + "\n" + RedactScript(script)
	case strings.HasPrefix(trimmed, "%sh ") || strings.HasPrefix(trimmed, "%sh\t"):
		return "%sh " + RedactScript(strings.TrimSpace(trimmed[3:]))
	}
	return code
}

// RedactScript replaces sensitive parameter expansions and assignment values
// in a shell script.
func RedactScript(script string) string {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(script), "")
	if err != nil {
		return regexRedact(script)
	}

	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !keepVars[n.Param.Value] && !specialParams[n.Param.Value] {
				n.Param.Value = "REDACTED"
			}
		case *syntax.Assign:
			if n.Name != nil && !keepVars[n.Name.Value] && n.Value != nil {
				n.Value.Parts = []syntax.WordPart{&syntax.Lit{Value: "***"}}
			}
		}
		return true
	})

	var buf bytes.Buffer
	if err := syntax.NewPrinter(syntax.Indent(0)).Print(&buf, prog); err != nil {
		return regexRedact(script)
	}
	return strings.TrimRight(buf.String(), "\n")
}

var (
	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

// regexRedact handles scripts the parser rejects.
func regexRedact(script string) string {
	script = reBraceVar.ReplaceAllStringFunc(script, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if keepVars[name] {
			return m
		}
		return "${REDACTED}"
	})
	script = reSimpleVar.ReplaceAllStringFunc(script, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" || keepVars[name] {
			return m
		}
		return "$REDACTED"
	})
	return reAssign.ReplaceAllStringFunc(script, func(m string) string {
		name := reAssign.FindStringSubmatch(m)[1]
		if keepVars[name] {
			return m
		}
		return name + "=***"
	})
}
