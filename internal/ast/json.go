package ast

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
)

// wireNode is the serialized form of a Node. Properties are a list so that
// their order survives a round trip.
type wireNode struct {
	Kind     Kind        `json:"kind"`
	Name     string      `json:"name,omitempty"`
	Token    string      `json:"token,omitempty"`
	Pos      *Pos        `json:"pos,omitempty"`
	Props    []wireProp  `json:"props,omitempty"`
	Children []*wireNode `json:"children,omitempty"`
}

type wireProp struct {
	Name   string      `json:"name"`
	String *string     `json:"string,omitempty"`
	Bool   *bool       `json:"bool,omitempty"`
	Number *float64    `json:"number,omitempty"`
	Node   *wireNode   `json:"node,omitempty"`
	List   []*wireNode `json:"list,omitempty"`
	IsList bool        `json:"is_list,omitempty"`
}

// MarshalJSON encodes n and its subtree.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(n))
}

// UnmarshalJSON decodes a subtree into n, which must be a fresh node.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	decoded, err := fromWire(&w)
	if err != nil {
		return err
	}
	*n = *decoded
	// Re-point adopted nodes at n, not at the temporary.
	for c := range n.Nodes() {
		c.parent = n
	}
	return nil
}

// Decode parses a serialized AST.
func Decode(data []byte) (*Node, error) {
	var w wireNode
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("ast: decode: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("ast: decode: trailing data after AST at offset %d", dec.InputOffset())
	}
	return fromWire(&w)
}

// Hash returns a hex SHA-256 digest of n's canonical serialization.
// Structurally identical trees hash identically.
func (n *Node) Hash() string {
	data, _ := json.Marshal(toWire(n))
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// Generic converts n into plain maps and slices, the shape handed to
// script-based extensions.
func (n *Node) Generic() map[string]any {
	props := make(map[string]any, len(n.props))
	for _, p := range n.props {
		switch v := p.Value.(type) {
		case *Node:
			props[p.Name] = v.Generic()
		case []*Node:
			l := make([]any, len(v))
			for i, c := range v {
				l[i] = c.Generic()
			}
			props[p.Name] = l
		default:
			props[p.Name] = v
		}
	}
	children := make([]any, len(n.children))
	for i, c := range n.children {
		children[i] = c.Generic()
	}
	return map[string]any{
		"kind":     string(n.Kind),
		"category": int64(n.Kind.Category()),
		"name":     n.Name,
		"token":    n.Token,
		"line":     int64(n.Pos.Line),
		"col":      int64(n.Pos.Col),
		"props":    props,
		"children": children,
	}
}

func toWire(n *Node) *wireNode {
	w := &wireNode{Kind: n.Kind, Name: n.Name, Token: n.Token}
	if n.Pos.IsValid() || n.Pos.File != "" {
		pos := n.Pos
		w.Pos = &pos
	}
	for _, p := range n.props {
		wp := wireProp{Name: p.Name}
		switch v := p.Value.(type) {
		case string:
			wp.String = &v
		case bool:
			wp.Bool = &v
		case float64:
			wp.Number = &v
		case *Node:
			wp.Node = toWire(v)
		case []*Node:
			wp.IsList = true
			for _, c := range v {
				wp.List = append(wp.List, toWire(c))
			}
		}
		w.Props = append(w.Props, wp)
	}
	for _, c := range n.children {
		w.Children = append(w.Children, toWire(c))
	}
	return w
}

func fromWire(w *wireNode) (*Node, error) {
	if w.Kind == "" {
		return nil, fmt.Errorf("ast: decode: node without kind")
	}
	n := New(w.Kind, WithName(w.Name), WithToken(w.Token))
	if w.Pos != nil {
		n.Pos = *w.Pos
	}
	for _, wp := range w.Props {
		if n.Has(wp.Name) {
			return nil, fmt.Errorf("ast: decode: property %q of %s given twice", wp.Name, w.Kind)
		}
		var value any
		switch {
		case wp.String != nil:
			value = *wp.String
		case wp.Bool != nil:
			value = *wp.Bool
		case wp.Number != nil:
			value = *wp.Number
		case wp.Node != nil:
			c, err := fromWire(wp.Node)
			if err != nil {
				return nil, err
			}
			value = c
		case wp.IsList || wp.List != nil:
			l := make([]*Node, 0, len(wp.List))
			for _, wc := range wp.List {
				c, err := fromWire(wc)
				if err != nil {
					return nil, err
				}
				l = append(l, c)
			}
			value = l
		default:
			return nil, fmt.Errorf("ast: decode: property %q of %s has no value", wp.Name, w.Kind)
		}
		if err := n.Set(wp.Name, value); err != nil {
			return nil, err
		}
	}
	for _, wc := range w.Children {
		c, err := fromWire(wc)
		if err != nil {
			return nil, err
		}
		if err := n.Append(c); err != nil {
			return nil, err
		}
	}
	return n, nil
}
