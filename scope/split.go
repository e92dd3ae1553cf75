package scope

import (
	"go/scanner"
	"go/token"
	"strings"
)

// Chunk is a run of top-level declarations or of statements taken from a
// cell. The interpreter compiles declarations as a file and statements as a
// function body, so a cell mixing both is evaluated chunk by chunk.
type Chunk struct {
	Src string
	// Line is the number of cell lines before Src.
	Line int
	Decl bool
}

type lexeme struct {
	off int
	tok token.Token
}

// SplitCell splits code into alternating declaration and statement chunks.
// Code the scanner rejects comes back as a single statement chunk so the
// interpreter reports the error.
func SplitCell(code string) []Chunk {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(code))
	var s scanner.Scanner
	s.Init(file, []byte(code), nil, 0)

	var toks []lexeme
	for {
		pos, tok, _ := s.Scan()
		if tok == token.EOF {
			break
		}
		toks = append(toks, lexeme{off: file.Offset(pos), tok: tok})
	}
	if s.ErrorCount > 0 || len(toks) == 0 {
		return []Chunk{{Src: code}}
	}

	var chunks []Chunk
	depth := 0
	atStart := true
	for i, lx := range toks {
		if depth == 0 && atStart && lx.tok != token.SEMICOLON {
			atStart = false
			decl := isDecl(toks, i)
			if len(chunks) == 0 || chunks[len(chunks)-1].Decl != decl {
				off := 0
				if len(chunks) > 0 {
					off = chunkStart(code, lx.off)
				}
				chunks = append(chunks, Chunk{Line: off, Decl: decl})
			}
		}
		switch lx.tok {
		case token.LPAREN, token.LBRACK, token.LBRACE:
			depth++
		case token.RPAREN, token.RBRACK, token.RBRACE:
			depth--
		case token.SEMICOLON:
			if depth == 0 {
				atStart = true
			}
		}
	}

	// Line holds the start offset until the sources are cut.
	for i := range chunks {
		start := chunks[i].Line
		end := len(code)
		if i+1 < len(chunks) {
			end = chunks[i+1].Line
		}
		chunks[i].Src = code[start:end]
		chunks[i].Line = strings.Count(code[:start], "\n")
	}
	return chunks
}

// isDecl reports whether the statement starting at toks[i] is a top-level
// declaration. A func keyword starts one unless it begins a function literal.
func isDecl(toks []lexeme, i int) bool {
	switch toks[i].tok {
	case token.CONST, token.TYPE, token.VAR, token.IMPORT:
		return true
	case token.FUNC:
		if i+1 >= len(toks) {
			return false
		}
		if toks[i+1].tok == token.IDENT {
			return true
		}
		if toks[i+1].tok != token.LPAREN {
			return false
		}
		// A method is "func (recv) Name(".
		depth := 0
		for j := i + 1; j < len(toks); j++ {
			switch toks[j].tok {
			case token.LPAREN:
				depth++
			case token.RPAREN:
				depth--
				if depth == 0 {
					return j+2 < len(toks) && toks[j+1].tok == token.IDENT && toks[j+2].tok == token.LPAREN
				}
			}
		}
	}
	return false
}

// chunkStart moves off back to the start of its line, and over any comment
// lines directly above it, so doc comments stay with their declaration.
func chunkStart(code string, off int) int {
	ls := strings.LastIndexByte(code[:off], '\n') + 1
	if strings.TrimSpace(code[ls:off]) != "" {
		return off
	}
	off = ls
	for off > 0 {
		prev := strings.LastIndexByte(code[:off-1], '\n') + 1
		if !strings.HasPrefix(strings.TrimSpace(code[prev:off-1]), "//") {
			break
		}
		off = prev
	}
	return off
}
