package ast

// Literal kinds stored in a Literal node's "lit" property.
const (
	LitString = "string"
	LitNumber = "number"
	LitBool   = "bool"
	LitNull   = "null"
)

// Ident returns an Identifier node.
func Ident(name string) *Node {
	return New(KindIdentifier, WithName(name))
}

// Lit returns a Literal node whose name is the raw source text and whose
// "lit" property records the literal kind.
func Lit(raw, lit string) *Node {
	n := New(KindLiteral, WithName(raw))
	n.props = append(n.props, Property{Name: "lit", Value: lit})
	return n
}

// TypeRef returns a type reference node.
func TypeRef(name string) *Node {
	return New(KindTypeRef, WithName(name))
}

// Build creates a node of kind with the given properties set in order.
// It is intended for fixtures and synthesizers whose inputs are known to be
// detached; it returns the first attachment error.
func Build(kind Kind, name string, props ...Property) (*Node, error) {
	n := New(kind, WithName(name))
	for _, p := range props {
		if err := n.Set(p.Name, p.Value); err != nil {
			return nil, err
		}
	}
	return n, nil
}
