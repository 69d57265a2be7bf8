package smtt

import (
	"strings"

	"github.com/jward/surn/internal/diag"
)

// parseTemplate splits string literal text into segments:
//
//	$$        a literal "$"
//	$name     shorthand for ${name}; dotted paths allowed
//	${expr}   an interpolated expression
//
// A "$" followed by anything else is literal text.
func parseTemplate(lit string, pos Pos) (Template, error) {
	var (
		tmpl Template
		text strings.Builder
	)
	flush := func() {
		if text.Len() > 0 {
			tmpl = append(tmpl, Segment{Text: text.String()})
			text.Reset()
		}
	}

	for i := 0; i < len(lit); {
		c := lit[i]
		if c != '$' || i+1 == len(lit) {
			text.WriteByte(c)
			i++
			continue
		}
		switch n := lit[i+1]; {
		case n == '$':
			text.WriteByte('$')
			i += 2
		case n == '{':
			end := matchBrace(lit, i+1)
			if end < 0 {
				return nil, diag.Errorf(diag.ErrSyntax, pos, "unterminated interpolation in %q", lit)
			}
			e, err := parseExpr(lit[i+2:end], pos)
			if err != nil {
				return nil, err
			}
			flush()
			tmpl = append(tmpl, Segment{Expr: e})
			i = end + 1
		case isNameStart(n):
			j := i + 1
			for j < len(lit) {
				if isNameChar(lit[j]) {
					j++
					continue
				}
				if lit[j] == '.' && j+1 < len(lit) && isNameStart(lit[j+1]) {
					j++
					continue
				}
				break
			}
			flush()
			tmpl = append(tmpl, Segment{Expr: PathExpr{Path: ParsePath(lit[i+1 : j])}})
			i = j
		default:
			text.WriteByte('$')
			i++
		}
	}
	flush()
	return tmpl, nil
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

// matchBrace returns the index of the brace closing the one at open,
// skipping quoted strings, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		case '"':
			for i++; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' {
					i++
				}
			}
		}
	}
	return -1
}

// parseExpr parses the text of a ${...} interpolation.
func parseExpr(src string, pos Pos) (Expr, error) {
	s := &scanner{src: src, file: pos.File, line: pos.Line, col: pos.Col}
	toks, err := s.all()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	p.tok = toks[0]
	if p.tok.tok == _EOF {
		return nil, p.errorf(pos, "empty interpolation")
	}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.tok.tok != _EOF {
		return nil, p.unexpected("end of interpolation")
	}
	return e, nil
}
