package smtt

import (
	"strings"

	"github.com/jward/surn/internal/diag"
)

// Pos is a location in a mapping definition.
type Pos = diag.Pos

// File is a parsed mapping definition.
type File struct {
	Path        string
	Name        string
	Description string
	Author      string
	Version     string
	FileTypes   []string
	Threading   bool
	Types       string // "static" or "dynamic"
	Erasure     string // "elide" or "comment"
	TypeMap     map[string]string
	Macros      []string

	Labels    []*LabelDecl
	Plugs     []*RuleDecl
	Unplugs   []*RuleDecl
	Overrides []*Override
}

// LabelDecl binds a label to one or more surface tokens.
type LabelDecl struct {
	Pos    Pos
	Name   string
	Tokens []string
}

// RuleDecl is a plug or unplug rule for one dispatch key.
type RuleDecl struct {
	Pos    Pos
	Key    string
	Binder string
	Body   []Stmt
}

// Override copies the rule of From into To ("impl From to! To").
type Override struct {
	Pos    Pos
	From   string
	To     string
	Unplug bool
}

// Path is a binder-rooted property path such as x.value.ty.
type Path struct {
	Root   string
	Fields []string
}

// ParsePath splits a dotted path.
func ParsePath(s string) Path {
	root, rest, ok := strings.Cut(s, ".")
	if !ok {
		return Path{Root: root}
	}
	return Path{Root: root, Fields: strings.Split(rest, ".")}
}

func (p Path) String() string {
	if len(p.Fields) == 0 {
		return p.Root
	}
	return p.Root + "." + strings.Join(p.Fields, ".")
}

// Stmt is a rule body statement.
type Stmt interface {
	Position() Pos
	String() string
	stmt()
}

type stmtPos struct{ P Pos }

func (s stmtPos) Position() Pos { return s.P }
func (stmtPos) stmt()           {}

// Emit appends rendered template text to the output.
type Emit struct {
	stmtPos
	Template Template
}

// PlugStmt translates the node at Path with Body, or with the node's own
// rule when Body is nil. A present but empty body erases the node.
type PlugStmt struct {
	stmtPos
	Path   Path
	Binder string
	Body   []Stmt
}

// Join translates every node in the list at Path and joins the results
// with Sep.
type Join struct {
	stmtPos
	Sep  string
	Path Path
}

// If branches on a condition.
type If struct {
	stmtPos
	Cond Cond
	Then []Stmt
	Else []Stmt
}

// Rewrite replaces the current node by the result of a named structural
// synthesizer and translates that instead.
type Rewrite struct {
	stmtPos
	Name string
}

// NodeKind sets the kind of the node an unplug rule produces.
type NodeKind struct {
	stmtPos
	Kind string
}

// Set assigns a property of the node an unplug rule produces.
type Set struct {
	stmtPos
	Prop string
	Expr Expr
}

// Expr is a value expression used in templates and unplug assignments.
type Expr interface {
	String() string
	expr()
}

// PathExpr renders the node or value at Path. Default applies when the
// property is missing.
type PathExpr struct {
	Path    Path
	Default *string
}

// JoinExpr is the expression form of Join.
type JoinExpr struct {
	Sep  string
	Path Path
}

// OptExpr reads a custom option.
type OptExpr struct{ Name string }

// TypeExpr renders the semantic type of the node at Path.
type TypeExpr struct{ Path Path }

// StringExpr is a literal string template.
type StringExpr struct{ Template Template }

func (PathExpr) expr()   {}
func (JoinExpr) expr()   {}
func (OptExpr) expr()    {}
func (TypeExpr) expr()   {}
func (StringExpr) expr() {}

// Cond is an if-statement condition.
type Cond interface {
	String() string
	cond()
}

// LabelCond is true when the current node's token resolves to a label
// bound to Token, or equals Token.
type LabelCond struct{ Token string }

// OptCond is true when the custom option Name is set (to Value, if given).
type OptCond struct {
	Name  string
	Value *string
}

// CapCond tests the capability discriminant of the node at Path.
type CapCond struct {
	Path Path
	Cap  string // "is_class" or "is_plain_object"
}

// HasCond is true when the property at Path exists.
type HasCond struct{ Path Path }

// NotCond negates a condition.
type NotCond struct{ Cond Cond }

func (LabelCond) cond() {}
func (OptCond) cond()   {}
func (CapCond) cond()   {}
func (HasCond) cond()   {}
func (NotCond) cond()   {}

// Template is a sequence of literal text and interpolations.
type Template []Segment

// Segment is one piece of a template: Text when Expr is nil.
type Segment struct {
	Text string
	Expr Expr
}

// IsStatic reports whether t contains no interpolations.
func (t Template) IsStatic() bool {
	for _, s := range t {
		if s.Expr != nil {
			return false
		}
	}
	return true
}
