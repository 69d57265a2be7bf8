// Package types computes the semantic type of AST nodes and decides how a
// target language can express it.
package types

import (
	"fmt"
	"strings"

	"github.com/jward/surn/internal/ast"
)

// Tag discriminates SemanticType.
type Tag int

const (
	Erased Tag = iota
	Primitive
	Named
	Inferred
)

func (t Tag) String() string {
	switch t {
	case Primitive:
		return "primitive"
	case Named:
		return "named"
	case Inferred:
		return "inferred"
	}
	return "erased"
}

// SemanticType is the type the engine attributes to a node. Name is the
// primitive or class name; From records the initializer kind for Inferred.
type SemanticType struct {
	Tag  Tag
	Name string
	From ast.Kind
}

func (t SemanticType) String() string {
	switch t.Tag {
	case Erased:
		return "erased"
	case Inferred:
		return fmt.Sprintf("inferred(%s from %s)", t.Name, t.From)
	}
	return fmt.Sprintf("%s(%s)", t.Tag, t.Name)
}

var primitives = map[string]string{
	"string":  "string",
	"str":     "string",
	"number":  "number",
	"int":     "int",
	"float":   "float",
	"bool":    "bool",
	"boolean": "bool",
	"void":    "void",
	"any":     "any",
	"null":    "null",
	"char":    "char",
}

// IsPrimitive reports whether name denotes a primitive type.
func IsPrimitive(name string) bool {
	_, ok := primitives[strings.ToLower(name)]
	return ok
}

// TypeOf computes n's semantic type: a declared "ty" wins, then the
// initializer "value", then the node itself when it is a literal.
// Everything else is Erased.
func TypeOf(n *ast.Node) SemanticType {
	if n == nil {
		return SemanticType{}
	}
	if ty := n.Type(); ty != nil && ty.Name != "" {
		return declared(ty.Name)
	}
	if v, err := n.NodeProp("value"); err == nil {
		t := valueType(v)
		if t.Tag == Erased {
			return t
		}
		return SemanticType{Tag: Inferred, Name: t.Name, From: v.Kind}
	}
	return valueType(n)
}

func declared(name string) SemanticType {
	if p, ok := primitives[strings.ToLower(name)]; ok {
		return SemanticType{Tag: Primitive, Name: p}
	}
	return SemanticType{Tag: Named, Name: name}
}

func valueType(v *ast.Node) SemanticType {
	switch v.Kind {
	case ast.KindLiteral:
		lit, _ := v.PropOr("lit", "").(string)
		switch lit {
		case ast.LitString:
			return SemanticType{Tag: Primitive, Name: "string"}
		case ast.LitNumber:
			return SemanticType{Tag: Primitive, Name: "number"}
		case ast.LitBool:
			return SemanticType{Tag: Primitive, Name: "bool"}
		case ast.LitNull:
			return SemanticType{Tag: Primitive, Name: "null"}
		}
	case ast.KindNewExpression:
		if callee, err := v.NodeProp("callee"); err == nil && callee.Name != "" {
			return SemanticType{Tag: Named, Name: callee.Name}
		}
	case ast.KindClass, ast.KindObjectStatement:
		if v.Name != "" {
			return SemanticType{Tag: Named, Name: v.Name}
		}
	case ast.KindObjectExpression:
		return SemanticType{Tag: Named, Name: "object"}
	case ast.KindArrayExpression:
		return SemanticType{Tag: Named, Name: "array"}
	}
	return SemanticType{}
}
