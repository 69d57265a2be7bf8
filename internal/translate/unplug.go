package translate

import (
	"context"
	"errors"
	"strings"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/rules"
	"github.com/jward/surn/internal/smtt"
	"github.com/jward/surn/internal/types"
)

// Unplug maps a target-AST node back to a unified-source node using the
// target's unplug rules. Node-valued assignments are unplugged recursively,
// so the result is a complete unified subtree.
func (t *Translator) Unplug(ctx context.Context, n *ast.Node) (*ast.Node, error) {
	if n == nil {
		return nil, errors.New("translate: nil node")
	}
	p := t.newPass(ctx)
	return p.unplug(n, 0)
}

// building is the node an unplug rule is assembling.
type building struct {
	kind     ast.Kind
	name     string
	token    string
	props    []ast.Property
	children []*ast.Node
}

func (p *pass) unplug(n *ast.Node, depth int) (*ast.Node, error) {
	if err := p.ctx.Err(); err != nil {
		return nil, err
	}
	if depth > p.t.opts.MaxDepth {
		return nil, diag.Errorf(diag.ErrDepthExceeded, n.Pos, "exceeded %d nested unplugs at %s", p.t.opts.MaxDepth, n.Kind)
	}
	rule, key, ok := p.t.resolve(rules.Unplug, n)
	if !ok {
		return nil, unsupported(n, key, nil, "no unplug rule for %s", describe(n))
	}

	f := &frame{binder: rule.Binder, node: n, key: key, depth: depth}
	b := &building{}
	if err := p.unplugBody(b, f, rule.Body); err != nil {
		return nil, err
	}
	if b.kind == "" {
		return nil, unsupported(n, key, nil, "unplug rule %q produced no node", key)
	}

	out := ast.New(b.kind, ast.WithName(b.name), ast.WithToken(b.token), ast.WithPos(n.Pos))
	for _, prop := range b.props {
		if err := out.Set(prop.Name, prop.Value); err != nil {
			return nil, err
		}
	}
	for _, c := range b.children {
		if err := out.Append(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *pass) unplugBody(b *building, f *frame, body []smtt.Stmt) error {
	for _, s := range body {
		switch s := s.(type) {
		case *smtt.NodeKind:
			b.kind = ast.Kind(s.Kind)
		case *smtt.Set:
			v, err := p.unplugExpr(f, s.Expr)
			if err != nil {
				return err
			}
			if err := b.set(s.Prop, v); err != nil {
				return err
			}
		case *smtt.If:
			ok, err := p.cond(f, s.Cond)
			if err != nil {
				return err
			}
			branch := s.Else
			if ok {
				branch = s.Then
			}
			if err := p.unplugBody(b, f, branch); err != nil {
				return err
			}
		default:
			return unsupported(f.node, f.key, nil, "%T is not valid in an unplug rule", s)
		}
	}
	return nil
}

func (b *building) set(name string, v any) error {
	switch name {
	case "name":
		b.name = scalarText(v)
		return nil
	case "token":
		b.token = scalarText(v)
		return nil
	case "children":
		switch v := v.(type) {
		case *ast.Node:
			b.children = append(b.children, v)
		case []*ast.Node:
			b.children = append(b.children, v...)
		}
		return nil
	}
	for i := range b.props {
		if b.props[i].Name == name {
			b.props[i].Value = v
			return nil
		}
	}
	b.props = append(b.props, ast.Property{Name: name, Value: v})
	return nil
}

// scalarText reads a value as plain text; nodes contribute their name.
func scalarText(v any) string {
	if n, ok := v.(*ast.Node); ok {
		return n.Name
	}
	return scalar(v)
}

// unplugExpr evaluates e to a property value. Target nodes are unplugged
// into unified nodes; other values are kept as they are.
func (p *pass) unplugExpr(f *frame, e smtt.Expr) (any, error) {
	switch e := e.(type) {
	case smtt.PathExpr:
		v, err := p.lookup(f, e.Path)
		if err != nil {
			if e.Default != nil && isMissing(err) {
				return *e.Default, nil
			}
			if isMissing(err) {
				return nil, unsupported(f.node, f.key, err, "%s", err.(*diag.Error).Msg)
			}
			return nil, err
		}
		switch v := v.(type) {
		case *ast.Node:
			return p.unplug(v, f.depth+1)
		case []*ast.Node:
			out := make([]*ast.Node, 0, len(v))
			for _, c := range v {
				u, err := p.unplug(c, f.depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, u)
			}
			return out, nil
		}
		return v, nil
	case smtt.JoinExpr:
		v, err := p.lookup(f, e.Path)
		if isMissing(err) {
			return "", nil
		}
		if err != nil {
			return nil, err
		}
		var parts []string
		switch v := v.(type) {
		case []*ast.Node:
			for _, c := range v {
				parts = append(parts, c.Name)
			}
		default:
			parts = append(parts, scalarText(v))
		}
		return strings.Join(parts, e.Sep), nil
	case smtt.OptExpr:
		v, _ := p.t.opt(e.Name)
		return v, nil
	case smtt.TypeExpr:
		v, err := p.lookup(f, e.Path)
		if err != nil {
			if isMissing(err) {
				return "", nil
			}
			return nil, err
		}
		if n, ok := v.(*ast.Node); ok {
			if st := types.TypeOf(n); st.Tag != types.Erased {
				return ast.TypeRef(st.Name), nil
			}
		}
		return "", nil
	case smtt.StringExpr:
		var sb strings.Builder
		for _, seg := range e.Template {
			if seg.Expr == nil {
				sb.WriteString(seg.Text)
				continue
			}
			v, err := p.unplugText(f, seg.Expr)
			if err != nil {
				return nil, err
			}
			sb.WriteString(v)
		}
		return sb.String(), nil
	}
	return nil, errors.New("translate: unknown expression")
}

// unplugText evaluates e inside an unplug string template. Nodes read as
// their text rather than being unplugged.
func (p *pass) unplugText(f *frame, e smtt.Expr) (string, error) {
	if pe, ok := e.(smtt.PathExpr); ok {
		v, err := p.lookup(f, pe.Path)
		if err != nil {
			if pe.Default != nil && isMissing(err) {
				return *pe.Default, nil
			}
			return "", err
		}
		return scalarText(v), nil
	}
	v, err := p.unplugExpr(f, e)
	if err != nil {
		return "", err
	}
	return scalarText(v), nil
}
