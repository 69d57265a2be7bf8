package smtt

import (
	"fmt"
	"slices"
	"strings"
)

// Canonical source rendering. Rendering a parsed rule and parsing it back
// yields the same rule; rule tables hash this form.

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}

func (t Template) String() string {
	var b strings.Builder
	for _, s := range t {
		if s.Expr == nil {
			b.WriteString(strings.ReplaceAll(s.Text, "$", "$$"))
			continue
		}
		b.WriteString("${")
		b.WriteString(s.Expr.String())
		b.WriteString("}")
	}
	return b.String()
}

// quoteTemplate quotes t, leaving interpolations verbatim.
func quoteTemplate(t Template) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, s := range t {
		if s.Expr == nil {
			q := quote(strings.ReplaceAll(s.Text, "$", "$$"))
			b.WriteString(q[1 : len(q)-1])
			continue
		}
		b.WriteString("${" + s.Expr.String() + "}")
	}
	b.WriteByte('"')
	return b.String()
}

// FormatBody renders a rule body.
func FormatBody(body []Stmt) string {
	if len(body) == 0 {
		return "{}"
	}
	parts := make([]string, len(body))
	for i, s := range body {
		parts[i] = s.String()
	}
	return "{ " + strings.Join(parts, " ") + " }"
}

// Format renders a rule declaration.
func (r *RuleDecl) Format(unplug bool) string {
	op := "@>"
	if unplug {
		op = "<@"
	}
	return fmt.Sprintf("%s %s as %s %s", op, r.Key, r.Binder, FormatBody(r.Body))
}

func (s *Emit) String() string { return quoteTemplate(s.Template) }

func (s *PlugStmt) String() string {
	out := "@> " + s.Path.String()
	if s.Binder != "" {
		out += " as " + s.Binder
	}
	if s.Body != nil {
		out += " " + FormatBody(s.Body)
	}
	return out
}

func (s *Join) String() string    { return quote(s.Sep) + " <@ " + s.Path.String() }
func (s *Rewrite) String() string { return "rewrite " + s.Name }
func (s *NodeKind) String() string {
	return "node " + s.Kind
}
func (s *Set) String() string { return "set " + s.Prop + " = " + s.Expr.String() }

func (s *If) String() string {
	out := "if " + s.Cond.String() + " " + FormatBody(s.Then)
	if s.Else != nil {
		out += " else " + FormatBody(s.Else)
	}
	return out
}

func (e PathExpr) String() string {
	if e.Default != nil {
		return e.Path.String() + " ?? " + quote(*e.Default)
	}
	return e.Path.String()
}

func (e JoinExpr) String() string   { return quote(e.Sep) + " <@ " + e.Path.String() }
func (e OptExpr) String() string    { return "opt " + quote(e.Name) }
func (e TypeExpr) String() string   { return "type " + e.Path.String() }
func (e StringExpr) String() string { return quoteTemplate(e.Template) }

func (c LabelCond) String() string { return "label == " + quote(c.Token) }

func (c OptCond) String() string {
	if c.Value != nil {
		return "opt " + quote(c.Name) + " == " + quote(*c.Value)
	}
	return "opt " + quote(c.Name)
}

func (c CapCond) String() string { return c.Path.String() + "." + c.Cap }
func (c HasCond) String() string { return "has " + c.Path.String() }
func (c NotCond) String() string { return "!" + c.Cond.String() }

// CloneBody deep-copies a rule body. Edits to the copy never reach the
// original and vice versa.
func CloneBody(body []Stmt) []Stmt {
	if body == nil {
		return nil
	}
	out := make([]Stmt, len(body))
	for i, s := range body {
		out[i] = cloneStmt(s)
	}
	return out
}

func cloneStmt(s Stmt) Stmt {
	switch s := s.(type) {
	case *Emit:
		return &Emit{stmtPos: s.stmtPos, Template: cloneTemplate(s.Template)}
	case *PlugStmt:
		return &PlugStmt{stmtPos: s.stmtPos, Path: clonePath(s.Path), Binder: s.Binder, Body: CloneBody(s.Body)}
	case *Join:
		return &Join{stmtPos: s.stmtPos, Sep: s.Sep, Path: clonePath(s.Path)}
	case *If:
		return &If{stmtPos: s.stmtPos, Cond: cloneCond(s.Cond), Then: CloneBody(s.Then), Else: CloneBody(s.Else)}
	case *Rewrite:
		c := *s
		return &c
	case *NodeKind:
		c := *s
		return &c
	case *Set:
		return &Set{stmtPos: s.stmtPos, Prop: s.Prop, Expr: cloneExpr(s.Expr)}
	}
	panic(fmt.Sprintf("smtt: unknown statement %T", s))
}

func clonePath(p Path) Path {
	return Path{Root: p.Root, Fields: slices.Clone(p.Fields)}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneTemplate(t Template) Template {
	if t == nil {
		return nil
	}
	out := make(Template, len(t))
	for i, s := range t {
		out[i] = Segment{Text: s.Text}
		if s.Expr != nil {
			out[i].Expr = cloneExpr(s.Expr)
		}
	}
	return out
}

func cloneExpr(e Expr) Expr {
	switch e := e.(type) {
	case PathExpr:
		return PathExpr{Path: clonePath(e.Path), Default: cloneString(e.Default)}
	case JoinExpr:
		return JoinExpr{Sep: e.Sep, Path: clonePath(e.Path)}
	case TypeExpr:
		return TypeExpr{Path: clonePath(e.Path)}
	case StringExpr:
		return StringExpr{Template: cloneTemplate(e.Template)}
	}
	return e
}

func cloneCond(c Cond) Cond {
	switch c := c.(type) {
	case OptCond:
		return OptCond{Name: c.Name, Value: cloneString(c.Value)}
	case CapCond:
		return CapCond{Path: clonePath(c.Path), Cap: c.Cap}
	case HasCond:
		return HasCond{Path: clonePath(c.Path)}
	case NotCond:
		return NotCond{Cond: cloneCond(c.Cond)}
	}
	return c
}
