package smtt

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jward/surn/internal/diag"
)

// Token is the type of a lexical token.
type Token uint

const (
	_EOF       Token = iota
	_Ident           // name, dotted path, or version number
	_String          // "..." with escapes decoded; ${...} kept verbatim
	_Raw             // `...`
	_Directive       // @name
	_Lbrace          // {
	_Rbrace          // }
	_Assign          // =
	_Eql             // ==
	_Pipe            // |
	_Plug            // @>
	_Unplug          // <@
	_Coalesce        // ??
	_Not             // !
)

var tokenNames = [...]string{
	_EOF:       "EOF",
	_Ident:     "identifier",
	_String:    "string",
	_Raw:       "raw string",
	_Directive: "directive",
	_Lbrace:    "{",
	_Rbrace:    "}",
	_Assign:    "=",
	_Eql:       "==",
	_Pipe:      "|",
	_Plug:      "@>",
	_Unplug:    "<@",
	_Coalesce:  "??",
	_Not:       "!",
}

func (t Token) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", t)
}

type token struct {
	tok Token
	lit string
	pos diag.Pos
}

func (t token) describe() string {
	switch t.tok {
	case _Ident, _Directive:
		return fmt.Sprintf("%s %q", t.tok, t.lit)
	case _String, _Raw:
		return t.tok.String()
	}
	return fmt.Sprintf("%q", t.tok.String())
}

// scanner splits mapping source into tokens. It stops at the first lexical
// error.
type scanner struct {
	src  string
	file string
	off  int
	line int
	col  int
	toks []token
}

func scan(file, src string) ([]token, error) {
	s := &scanner{src: src, file: file, line: 1, col: 1}
	return s.all()
}

func (s *scanner) all() ([]token, error) {
	for {
		t, err := s.next()
		if err != nil {
			return nil, err
		}
		s.toks = append(s.toks, t)
		if t.tok == _EOF {
			return s.toks, nil
		}
	}
}

func (s *scanner) pos() diag.Pos {
	return diag.Pos{File: s.file, Line: s.line, Col: s.col}
}

func (s *scanner) peek() rune {
	if s.off >= len(s.src) {
		return -1
	}
	r, _ := utf8.DecodeRuneInString(s.src[s.off:])
	return r
}

func (s *scanner) peekAt(n int) rune {
	off := s.off
	var r rune = -1
	for range n + 1 {
		if off >= len(s.src) {
			return -1
		}
		var w int
		r, w = utf8.DecodeRuneInString(s.src[off:])
		off += w
	}
	return r
}

func (s *scanner) advance() rune {
	r, w := utf8.DecodeRuneInString(s.src[s.off:])
	s.off += w
	if r == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return r
}

func (s *scanner) errorf(pos diag.Pos, format string, args ...any) error {
	return diag.Errorf(diag.ErrSyntax, pos, format, args...)
}

func (s *scanner) skipSpaceAndComments() {
	for {
		r := s.peek()
		switch {
		case r == '#' || (r == '/' && s.peekAt(1) == '/'):
			for r := s.peek(); r != -1 && r != '\n'; r = s.peek() {
				s.advance()
			}
		case r != -1 && unicode.IsSpace(r):
			s.advance()
		default:
			return
		}
	}
}

func (s *scanner) next() (token, error) {
	s.skipSpaceAndComments()
	pos := s.pos()
	r := s.peek()
	switch {
	case r == -1:
		return token{tok: _EOF, pos: pos}, nil
	case isIdentChar(r):
		return token{tok: _Ident, lit: s.ident(), pos: pos}, nil
	case r == '"':
		lit, err := s.str()
		return token{tok: _String, lit: lit, pos: pos}, err
	case r == '`':
		lit, err := s.raw()
		return token{tok: _Raw, lit: lit, pos: pos}, err
	}

	s.advance()
	switch r {
	case '{':
		return token{tok: _Lbrace, pos: pos}, nil
	case '}':
		return token{tok: _Rbrace, pos: pos}, nil
	case '|':
		return token{tok: _Pipe, pos: pos}, nil
	case '!':
		return token{tok: _Not, pos: pos}, nil
	case '=':
		if s.peek() == '=' {
			s.advance()
			return token{tok: _Eql, pos: pos}, nil
		}
		return token{tok: _Assign, pos: pos}, nil
	case '?':
		if s.peek() == '?' {
			s.advance()
			return token{tok: _Coalesce, pos: pos}, nil
		}
	case '<':
		if s.peek() == '@' {
			s.advance()
			return token{tok: _Unplug, pos: pos}, nil
		}
	case '@':
		if s.peek() == '>' {
			s.advance()
			return token{tok: _Plug, pos: pos}, nil
		}
		if isIdentChar(s.peek()) {
			return token{tok: _Directive, lit: s.ident(), pos: pos}, nil
		}
	}
	return token{}, s.errorf(pos, "unexpected character %q", r)
}

func isIdentChar(r rune) bool {
	return r == '_' || r == '-' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (s *scanner) ident() string {
	start := s.off
	for isIdentChar(s.peek()) {
		s.advance()
	}
	return s.src[start:s.off]
}

// str scans a double-quoted string. Escapes are decoded outside of ${...}
// interpolations, whose text is copied verbatim up to the matching brace so
// that they may themselves contain quoted strings.
func (s *scanner) str() (string, error) {
	start := s.pos()
	s.advance() // opening quote
	var b strings.Builder
	for {
		r := s.peek()
		switch r {
		case -1, '\n':
			return "", s.errorf(start, "unterminated string")
		case '"':
			s.advance()
			return b.String(), nil
		case '\\':
			s.advance()
			esc := s.peek()
			if esc == -1 {
				return "", s.errorf(start, "unterminated string")
			}
			s.advance()
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '"':
				b.WriteRune(esc)
			default:
				return "", s.errorf(start, "unknown escape \\%c", esc)
			}
		case '$':
			s.advance()
			b.WriteByte('$')
			if s.peek() == '{' {
				if err := s.interpolation(&b, start); err != nil {
					return "", err
				}
			}
		default:
			b.WriteRune(s.advance())
		}
	}
}

// interpolation copies a balanced {...} group, skipping over quoted strings.
func (s *scanner) interpolation(b *strings.Builder, start diag.Pos) error {
	depth := 0
	for {
		r := s.peek()
		switch r {
		case -1, '\n':
			return s.errorf(start, "unterminated interpolation")
		case '{':
			depth++
		case '}':
			depth--
		case '"':
			b.WriteRune(s.advance())
			for {
				q := s.peek()
				if q == -1 || q == '\n' {
					return s.errorf(start, "unterminated string in interpolation")
				}
				b.WriteRune(s.advance())
				if q == '\\' && s.peek() != -1 {
					b.WriteRune(s.advance())
					continue
				}
				if q == '"' {
					break
				}
			}
			continue
		}
		b.WriteRune(s.advance())
		if depth == 0 {
			return nil
		}
	}
}

func (s *scanner) raw() (string, error) {
	start := s.pos()
	s.advance()
	begin := s.off
	for {
		switch s.peek() {
		case -1:
			return "", s.errorf(start, "unterminated raw string")
		case '`':
			lit := s.src[begin:s.off]
			s.advance()
			return lit, nil
		}
		s.advance()
	}
}
