// Package smtt parses mapping definitions: the declarative per-language
// files that bind labels and AST kinds to output templates.
package smtt

import (
	"fmt"
	"os"
	"strings"

	"github.com/jward/surn/internal/diag"
)

// DefaultBinder names the current node in a rule declared without "as".
const DefaultBinder = "x"

type mode int

const (
	modePlug mode = iota
	modeUnplug
)

type parser struct {
	toks []token
	i    int
	tok  token
}

// ParseFile reads and parses the mapping definition at path.
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("smtt: read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse parses a mapping definition. name is used in error positions.
// Errors wrap diag.ErrSyntax and carry file:line:col.
func Parse(name string, src []byte) (*File, error) {
	toks, err := scan(name, string(src))
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	p.tok = toks[0]
	f := &File{
		Path:      name,
		Threading: true,
		Types:     "dynamic",
		Erasure:   "elide",
		TypeMap:   make(map[string]string),
	}
	for p.tok.tok != _EOF {
		if err := p.topLevel(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (p *parser) next() {
	if p.i < len(p.toks)-1 {
		p.i++
	}
	p.tok = p.toks[p.i]
}

func (p *parser) errorf(pos Pos, format string, args ...any) error {
	return diag.Errorf(diag.ErrSyntax, pos, format, args...)
}

func (p *parser) unexpected(want string) error {
	return p.errorf(p.tok.pos, "expected %s, found %s", want, p.tok.describe())
}

// want consumes a token of type tok and returns its literal.
func (p *parser) want(tok Token) (string, error) {
	if p.tok.tok != tok {
		return "", p.unexpected(tok.String())
	}
	lit := p.tok.lit
	p.next()
	return lit, nil
}

// keyword consumes the identifier kw if present.
func (p *parser) keyword(kw string) bool {
	if p.tok.tok == _Ident && p.tok.lit == kw {
		p.next()
		return true
	}
	return false
}

func (p *parser) oneOf(what string, allowed ...string) (string, error) {
	pos := p.tok.pos
	lit, err := p.want(_Ident)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if lit == a {
			return lit, nil
		}
	}
	return "", p.errorf(pos, "%s must be one of %s, found %q", what, strings.Join(allowed, ", "), lit)
}

func (p *parser) topLevel(f *File) error {
	switch p.tok.tok {
	case _Directive:
		return p.directive(f)
	case _Plug, _Unplug:
		return p.rule(f)
	case _Ident:
		switch p.tok.lit {
		case "label":
			return p.label(f)
		case "impl":
			return p.override(f)
		}
	}
	return p.unexpected("directive, label, rule or impl")
}

func (p *parser) directive(f *File) error {
	d := p.tok
	p.next()
	var err error
	switch d.lit {
	case "name":
		f.Name, err = p.want(_Ident)
	case "description":
		f.Description, err = p.want(_String)
	case "author":
		f.Author, err = p.want(_String)
	case "version":
		f.Version, err = p.want(_Ident)
	case "file_type":
		// File types run to the end of the directive's line.
		if p.tok.tok != _Ident || p.tok.pos.Line != d.pos.Line {
			return p.unexpected("file type")
		}
		for p.tok.tok == _Ident && p.tok.pos.Line == d.pos.Line {
			f.FileTypes = append(f.FileTypes, strings.TrimPrefix(p.tok.lit, "."))
			p.next()
		}
	case "threading":
		var v string
		v, err = p.oneOf("@threading", "true", "false")
		f.Threading = v == "true"
	case "types":
		f.Types, err = p.oneOf("@types", "static", "dynamic")
	case "erasure":
		f.Erasure, err = p.oneOf("@erasure", "elide", "comment")
	case "typemap":
		var name, target string
		if name, err = p.want(_Ident); err != nil {
			return err
		}
		if _, err = p.want(_Assign); err != nil {
			return err
		}
		if target, err = p.want(_String); err != nil {
			return err
		}
		f.TypeMap[name] = target
	case "macro":
		var name string
		name, err = p.want(_Ident)
		f.Macros = append(f.Macros, name)
	default:
		return p.errorf(d.pos, "unknown directive @%s", d.lit)
	}
	return err
}

func (p *parser) label(f *File) error {
	pos := p.tok.pos
	p.next()
	name, err := p.want(_Ident)
	if err != nil {
		return err
	}
	if _, err := p.want(_Assign); err != nil {
		return err
	}
	decl := &LabelDecl{Pos: pos, Name: name}
	for {
		tok, err := p.want(_String)
		if err != nil {
			return err
		}
		decl.Tokens = append(decl.Tokens, tok)
		if p.tok.tok != _Pipe {
			break
		}
		p.next()
	}
	f.Labels = append(f.Labels, decl)
	return nil
}

func (p *parser) override(f *File) error {
	o := &Override{Pos: p.tok.pos}
	p.next()
	if p.tok.tok == _Unplug {
		o.Unplug = true
		p.next()
	}
	var err error
	if o.From, err = p.want(_Ident); err != nil {
		return err
	}
	if !p.keyword("to") {
		return p.unexpected(`"to!"`)
	}
	if _, err := p.want(_Not); err != nil {
		return err
	}
	if o.To, err = p.want(_Ident); err != nil {
		return err
	}
	f.Overrides = append(f.Overrides, o)
	return nil
}

func (p *parser) rule(f *File) error {
	unplug := p.tok.tok == _Unplug
	r := &RuleDecl{Pos: p.tok.pos, Binder: DefaultBinder}
	p.next()
	var err error
	if r.Key, err = p.want(_Ident); err != nil {
		return err
	}
	if p.keyword("as") {
		if r.Binder, err = p.want(_Ident); err != nil {
			return err
		}
	}
	m := modePlug
	if unplug {
		m = modeUnplug
	}
	if r.Body, err = p.block(m); err != nil {
		return err
	}
	if unplug {
		f.Unplugs = append(f.Unplugs, r)
	} else {
		f.Plugs = append(f.Plugs, r)
	}
	return nil
}

// block parses "{ stmt* }". The result is never nil, so an empty block is
// distinguishable from an absent one.
func (p *parser) block(m mode) ([]Stmt, error) {
	if _, err := p.want(_Lbrace); err != nil {
		return nil, err
	}
	body := []Stmt{}
	for p.tok.tok != _Rbrace {
		if p.tok.tok == _EOF {
			return nil, p.unexpected(`"}"`)
		}
		s, err := p.stmt(m)
		if err != nil {
			return nil, err
		}
		body = append(body, s)
	}
	p.next()
	return body, nil
}

func (p *parser) stmt(m mode) (Stmt, error) {
	pos := p.tok.pos
	sp := stmtPos{P: pos}
	switch p.tok.tok {
	case _String, _Raw:
		if m == modeUnplug {
			return nil, p.errorf(pos, "unplug rules cannot emit text")
		}
		lit := p.tok.lit
		raw := p.tok.tok == _Raw
		p.next()
		if p.tok.tok == _Unplug && !raw {
			p.next()
			path, err := p.path()
			if err != nil {
				return nil, err
			}
			return &Join{stmtPos: sp, Sep: lit, Path: path}, nil
		}
		tmpl, err := parseTemplate(lit, pos)
		if err != nil {
			return nil, err
		}
		return &Emit{stmtPos: sp, Template: tmpl}, nil

	case _Plug:
		if m == modeUnplug {
			return nil, p.errorf(pos, "unplug rules cannot contain nested plugs")
		}
		p.next()
		s := &PlugStmt{stmtPos: sp}
		var err error
		if s.Path, err = p.path(); err != nil {
			return nil, err
		}
		if p.keyword("as") {
			if s.Binder, err = p.want(_Ident); err != nil {
				return nil, err
			}
		}
		if p.tok.tok == _Lbrace {
			if s.Body, err = p.block(m); err != nil {
				return nil, err
			}
		}
		return s, nil

	case _Ident:
		switch p.tok.lit {
		case "if":
			return p.ifStmt(m)
		case "rewrite":
			if m == modeUnplug {
				return nil, p.errorf(pos, "rewrite is only valid in plug rules")
			}
			p.next()
			name, err := p.want(_Ident)
			if err != nil {
				return nil, err
			}
			return &Rewrite{stmtPos: sp, Name: name}, nil
		case "node":
			if m == modePlug {
				return nil, p.errorf(pos, "node is only valid in unplug rules")
			}
			p.next()
			kind, err := p.want(_Ident)
			if err != nil {
				return nil, err
			}
			return &NodeKind{stmtPos: sp, Kind: kind}, nil
		case "set":
			if m == modePlug {
				return nil, p.errorf(pos, "set is only valid in unplug rules")
			}
			p.next()
			prop, err := p.want(_Ident)
			if err != nil {
				return nil, err
			}
			if _, err := p.want(_Assign); err != nil {
				return nil, err
			}
			e, err := p.expr()
			if err != nil {
				return nil, err
			}
			return &Set{stmtPos: sp, Prop: prop, Expr: e}, nil
		}
	}
	return nil, p.unexpected("statement")
}

func (p *parser) ifStmt(m mode) (Stmt, error) {
	s := &If{stmtPos: stmtPos{P: p.tok.pos}}
	p.next()
	var err error
	if s.Cond, err = p.cond(); err != nil {
		return nil, err
	}
	if s.Then, err = p.block(m); err != nil {
		return nil, err
	}
	if !p.keyword("else") {
		return s, nil
	}
	if p.tok.tok == _Ident && p.tok.lit == "if" {
		elif, err := p.ifStmt(m)
		if err != nil {
			return nil, err
		}
		s.Else = []Stmt{elif}
		return s, nil
	}
	if s.Else, err = p.block(m); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) path() (Path, error) {
	pos := p.tok.pos
	lit, err := p.want(_Ident)
	if err != nil {
		return Path{}, err
	}
	path := ParsePath(lit)
	if path.Root == "" || strings.HasSuffix(lit, ".") || strings.Contains(lit, "..") {
		return Path{}, p.errorf(pos, "malformed path %q", lit)
	}
	return path, nil
}

func (p *parser) cond() (Cond, error) {
	pos := p.tok.pos
	switch {
	case p.tok.tok == _Not:
		p.next()
		c, err := p.cond()
		if err != nil {
			return nil, err
		}
		return NotCond{Cond: c}, nil
	case p.keyword("label"):
		if _, err := p.want(_Eql); err != nil {
			return nil, err
		}
		// The token may be quoted or bare: label == "const", label == const.
		if p.tok.tok == _Ident {
			tok := p.tok.lit
			p.next()
			return LabelCond{Token: tok}, nil
		}
		tok, err := p.want(_String)
		if err != nil {
			return nil, err
		}
		return LabelCond{Token: tok}, nil
	case p.keyword("opt"):
		name, err := p.want(_String)
		if err != nil {
			return nil, err
		}
		c := OptCond{Name: name}
		if p.tok.tok == _Eql {
			p.next()
			v, err := p.want(_String)
			if err != nil {
				return nil, err
			}
			c.Value = &v
		}
		return c, nil
	case p.keyword("has"):
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		return HasCond{Path: path}, nil
	}

	path, err := p.path()
	if err != nil {
		return nil, err
	}
	if n := len(path.Fields); n > 0 {
		if last := path.Fields[n-1]; last == "is_class" || last == "is_plain_object" {
			c := CapCond{Path: Path{Root: path.Root}, Cap: last}
			if n > 1 {
				c.Path.Fields = path.Fields[:n-1]
			}
			return c, nil
		}
	}
	return nil, p.errorf(pos, "expected condition, found %q", path)
}

func (p *parser) expr() (Expr, error) {
	switch {
	case p.tok.tok == _String:
		pos := p.tok.pos
		lit := p.tok.lit
		p.next()
		if p.tok.tok == _Unplug {
			p.next()
			path, err := p.path()
			if err != nil {
				return nil, err
			}
			return JoinExpr{Sep: lit, Path: path}, nil
		}
		tmpl, err := parseTemplate(lit, pos)
		if err != nil {
			return nil, err
		}
		return StringExpr{Template: tmpl}, nil
	case p.keyword("opt"):
		name, err := p.want(_String)
		if err != nil {
			return nil, err
		}
		return OptExpr{Name: name}, nil
	case p.keyword("type"):
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		return TypeExpr{Path: path}, nil
	}

	path, err := p.path()
	if err != nil {
		return nil, err
	}
	e := PathExpr{Path: path}
	if p.tok.tok == _Coalesce {
		p.next()
		def, err := p.want(_String)
		if err != nil {
			return nil, err
		}
		e.Default = &def
	}
	return e, nil
}
