// Package ast is the in-memory model of unified-source and target programs:
// typed nodes with ordered properties and ordered, exclusively owned children.
package ast

import (
	"fmt"
	"iter"
	"slices"

	"github.com/jward/surn/internal/diag"
)

// Pos is a source location attached to a node.
type Pos = diag.Pos

// Property is one named, ordered attribute of a node. Value holds a string,
// bool, float64, *Node or []*Node. Node-valued properties are owned by the
// node exactly like its children.
type Property struct {
	Name  string
	Value any
}

// Node is a single AST node. The zero value is not usable; build nodes with New.
type Node struct {
	Kind  Kind
	Name  string
	Token string // originating surface token, used for label dispatch
	Pos   Pos

	props    []Property
	children []*Node
	parent   *Node
}

// Option configures a node at construction.
type Option func(*Node)

// WithName sets the node's name.
func WithName(name string) Option {
	return func(n *Node) { n.Name = name }
}

// WithToken sets the surface token the node originated from.
func WithToken(tok string) Option {
	return func(n *Node) { n.Token = tok }
}

// WithPos sets the node's source position.
func WithPos(pos Pos) Option {
	return func(n *Node) { n.Pos = pos }
}

// New creates a detached node of the given kind.
func New(kind Kind, opts ...Option) *Node {
	n := &Node{Kind: kind}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Parent returns the node owning n, or nil for a root.
func (n *Node) Parent() *Node { return n.parent }

// Children yields n's children in source order. The sequence is lazy and
// may be ranged over any number of times.
func (n *Node) Children() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, c := range n.children {
			if !yield(c) {
				return
			}
		}
	}
}

// ChildList returns a copy of n's children.
func (n *Node) ChildList() []*Node { return slices.Clone(n.children) }

// Len returns the number of children.
func (n *Node) Len() int { return len(n.children) }

// Append attaches child as n's last child.
func (n *Node) Append(child *Node) error {
	if err := n.adoptable(child); err != nil {
		return err
	}
	child.parent = n
	n.children = append(n.children, child)
	return nil
}

// Properties returns a copy of n's properties in declaration order.
func (n *Node) Properties() []Property { return slices.Clone(n.props) }

// Has reports whether n declares property name.
func (n *Node) Has(name string) bool {
	return n.index(name) >= 0
}

// Prop returns the value of property name. It fails with
// diag.ErrMissingProperty when n has no such property.
func (n *Node) Prop(name string) (any, error) {
	i := n.index(name)
	if i < 0 {
		return nil, diag.Errorf(diag.ErrMissingProperty, n.Pos, "%s has no property %q", n.Kind, name)
	}
	return n.props[i].Value, nil
}

// PropOr returns property name, or def when absent.
func (n *Node) PropOr(name string, def any) any {
	if v, err := n.Prop(name); err == nil {
		return v
	}
	return def
}

// String returns a string-valued property.
func (n *Node) String(name string) (string, error) {
	v, err := n.Prop(name)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("ast: property %q of %s is %T, not string", name, n.Kind, v)
	}
	return s, nil
}

// Bool returns a bool-valued property; absent properties read as false.
func (n *Node) Bool(name string) bool {
	b, _ := n.PropOr(name, false).(bool)
	return b
}

// NodeProp returns a node-valued property.
func (n *Node) NodeProp(name string) (*Node, error) {
	v, err := n.Prop(name)
	if err != nil {
		return nil, err
	}
	c, ok := v.(*Node)
	if !ok {
		return nil, fmt.Errorf("ast: property %q of %s is %T, not a node", name, n.Kind, v)
	}
	return c, nil
}

// List returns a list-valued property.
func (n *Node) List(name string) ([]*Node, error) {
	v, err := n.Prop(name)
	if err != nil {
		return nil, err
	}
	l, ok := v.([]*Node)
	if !ok {
		return nil, fmt.Errorf("ast: property %q of %s is %T, not a list", name, n.Kind, v)
	}
	return l, nil
}

// Type returns the declared type node (property "ty"), or nil.
func (n *Node) Type() *Node {
	t, _ := n.PropOr("ty", nil).(*Node)
	return t
}

// Set assigns property name, replacing any previous value in place so that
// property order is stable. Node values are adopted; replaced node values
// are detached. Nodes already held by the property being replaced may be
// set again, so a list can be reordered. Lists are copied.
func (n *Node) Set(name string, value any) error {
	var prev any
	i := n.index(name)
	if i >= 0 {
		prev = n.props[i].Value
	}
	adoptable := func(c *Node) error {
		if c != nil && c.parent == n && holds(prev, c) {
			return nil
		}
		return n.adoptable(c)
	}

	switch v := value.(type) {
	case string, bool, float64:
	case int:
		value = float64(v)
	case *Node:
		if err := adoptable(v); err != nil {
			return err
		}
	case []*Node:
		for j, c := range v {
			if err := adoptable(c); err != nil {
				return err
			}
			if slices.Index(v[:j], c) >= 0 {
				return diag.Errorf(diag.ErrOwned, c.Pos, "%s listed twice in %q", c.Kind, name)
			}
		}
		value = slices.Clone(v)
	default:
		return fmt.Errorf("ast: unsupported property type %T for %q", value, name)
	}

	if i >= 0 {
		detach(prev)
		n.props[i].Value = value
	} else {
		n.props = append(n.props, Property{Name: name, Value: value})
	}
	attach(n, value)
	return nil
}

// Replace swaps old, a child or node-valued property of n, for repl.
// old is detached; repl takes over its slot and parent linkage.
func (n *Node) Replace(old, repl *Node) error {
	if old == repl {
		return nil
	}
	if err := n.adoptable(repl); err != nil {
		return err
	}
	if i := slices.Index(n.children, old); i >= 0 {
		n.children[i] = repl
		old.parent, repl.parent = nil, n
		return nil
	}
	for pi := range n.props {
		switch v := n.props[pi].Value.(type) {
		case *Node:
			if v == old {
				n.props[pi].Value = repl
				old.parent, repl.parent = nil, n
				return nil
			}
		case []*Node:
			if i := slices.Index(v, old); i >= 0 {
				v[i] = repl
				old.parent, repl.parent = nil, n
				return nil
			}
		}
	}
	return fmt.Errorf("ast: replace: %s is not owned by %s", old.Kind, n.Kind)
}

// Detach removes n from its parent, if any.
func (n *Node) Detach() {
	p := n.parent
	if p == nil {
		return
	}
	if i := slices.Index(p.children, n); i >= 0 {
		p.children = slices.Delete(p.children, i, i+1)
	}
	for pi := range p.props {
		switch v := p.props[pi].Value.(type) {
		case *Node:
			if v == n {
				p.props = slices.Delete(p.props, pi, pi+1)
				n.parent = nil
				return
			}
		case []*Node:
			if i := slices.Index(v, n); i >= 0 {
				p.props[pi].Value = slices.Delete(slices.Clone(v), i, i+1)
			}
		}
	}
	n.parent = nil
}

// Nodes yields every node directly owned by n: node-valued properties in
// property order, then children.
func (n *Node) Nodes() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, p := range n.props {
			switch v := p.Value.(type) {
			case *Node:
				if !yield(v) {
					return
				}
			case []*Node:
				for _, c := range v {
					if !yield(c) {
						return
					}
				}
			}
		}
		for _, c := range n.children {
			if !yield(c) {
				return
			}
		}
	}
}

// Walk visits n and its descendants depth-first in source order. If visit
// returns false the node's descendants are skipped.
func Walk(n *Node, visit func(*Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for c := range n.Nodes() {
		Walk(c, visit)
	}
}

// Clone returns a deep, detached copy of n.
func (n *Node) Clone() *Node {
	c, _ := n.CloneMap()
	return c
}

// CloneMap deep-copies n and also returns the mapping from every original
// node to its copy.
func (n *Node) CloneMap() (*Node, map[*Node]*Node) {
	m := make(map[*Node]*Node)
	return n.clone(nil, m), m
}

func (n *Node) clone(parent *Node, m map[*Node]*Node) *Node {
	c := &Node{Kind: n.Kind, Name: n.Name, Token: n.Token, Pos: n.Pos, parent: parent}
	m[n] = c
	if len(n.props) > 0 {
		c.props = make([]Property, len(n.props))
		for i, p := range n.props {
			switch v := p.Value.(type) {
			case *Node:
				c.props[i] = Property{Name: p.Name, Value: v.clone(c, m)}
			case []*Node:
				l := make([]*Node, len(v))
				for j, e := range v {
					l[j] = e.clone(c, m)
				}
				c.props[i] = Property{Name: p.Name, Value: l}
			default:
				c.props[i] = p
			}
		}
	}
	for _, ch := range n.children {
		c.children = append(c.children, ch.clone(c, m))
	}
	return c
}

func (n *Node) index(name string) int {
	for i, p := range n.props {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// adoptable checks that attaching child under n keeps the tree a tree.
func (n *Node) adoptable(child *Node) error {
	if child == nil {
		return fmt.Errorf("ast: cannot attach nil node to %s", n.Kind)
	}
	if child.parent != nil {
		return diag.Errorf(diag.ErrOwned, child.Pos, "%s is already owned by %s", child.Kind, child.parent.Kind)
	}
	for a := n; a != nil; a = a.parent {
		if a == child {
			return diag.Errorf(diag.ErrCycle, child.Pos, "attaching %s under %s", child.Kind, n.Kind)
		}
	}
	return nil
}

// holds reports whether property value v is or contains c.
func holds(v any, c *Node) bool {
	switch v := v.(type) {
	case *Node:
		return v == c
	case []*Node:
		return slices.Contains(v, c)
	}
	return false
}

func attach(parent *Node, v any) {
	switch v := v.(type) {
	case *Node:
		v.parent = parent
	case []*Node:
		for _, c := range v {
			c.parent = parent
		}
	}
}

func detach(v any) {
	switch v := v.(type) {
	case *Node:
		v.parent = nil
	case []*Node:
		for _, c := range v {
			c.parent = nil
		}
	}
}
