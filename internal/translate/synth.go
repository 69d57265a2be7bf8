package translate

import (
	"errors"
	"fmt"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/types"
)

// Synthesizer builds a replacement for n. The result must be a fresh,
// detached tree; n itself is left untouched.
type Synthesizer func(env *SynthEnv, n *ast.Node) (*ast.Node, error)

// SynthEnv is what a synthesizer may consult.
type SynthEnv struct {
	Target *Target
	custom map[string]string
}

// Opt reads a custom option.
func (e *SynthEnv) Opt(name string) (string, bool) {
	v, ok := e.custom[name]
	return v, ok
}

// Visibility values of the "visibility" property on class members.
const (
	VisibilityPublic    = "public"
	VisibilityPrivate   = "private"
	VisibilityProtected = "protected"
	VisibilityModule    = "module"
)

// BaseClassOption names the custom option holding the base class that
// synthesized classes extend.
const BaseClassOption = "objects.base"

var builtinSynthesizers = map[string]Synthesizer{
	"object_to_class": ObjectToClass,
}

// ObjectToClass turns an ObjectStatement into a Class. Each object property
// becomes a public ClassProperty carrying the property's semantic type and
// a copy of its initializer. The class extends the configured base class,
// if any.
func ObjectToClass(env *SynthEnv, n *ast.Node) (*ast.Node, error) {
	if n.Kind != ast.KindObjectStatement && n.Kind != ast.KindObjectExpression {
		return nil, fmt.Errorf("object_to_class: %s is not an object", n.Kind)
	}
	if n.Name == "" {
		return nil, errors.New("object_to_class: anonymous object")
	}

	members := []*ast.Node{}
	for _, prop := range objectProperties(n) {
		m := ast.New(ast.KindClassProperty, ast.WithName(prop.Name), ast.WithPos(prop.Pos))
		vis := VisibilityPublic
		if v, ok := prop.PropOr("visibility", "").(string); ok && v != "" {
			vis = v
		}
		if err := m.Set("visibility", vis); err != nil {
			return nil, err
		}
		if st := types.TypeOf(prop); st.Tag != types.Erased {
			if err := m.Set("ty", ast.TypeRef(st.Name)); err != nil {
				return nil, err
			}
		}
		if v, err := prop.NodeProp("value"); err == nil {
			if err := m.Set("value", v.Clone()); err != nil {
				return nil, err
			}
		}
		members = append(members, m)
	}

	cls := ast.New(ast.KindClass, ast.WithName(n.Name), ast.WithPos(n.Pos))
	if ext, err := n.NodeProp("extends"); err == nil {
		if err := cls.Set("extends", ext.Clone()); err != nil {
			return nil, err
		}
	} else if base, ok := env.Opt(BaseClassOption); ok && base != "" {
		if err := cls.Set("extends", ast.Ident(base)); err != nil {
			return nil, err
		}
	}
	if err := cls.Set("members", members); err != nil {
		return nil, err
	}
	return cls, nil
}

// objectProperties returns an object's properties: the "properties" list
// when present, otherwise its ObjectProperty children.
func objectProperties(n *ast.Node) []*ast.Node {
	if l, err := n.List("properties"); err == nil {
		return l
	}
	var out []*ast.Node
	for c := range n.Children() {
		if c.Kind == ast.KindObjectProperty {
			out = append(out, c)
		}
	}
	return out
}
