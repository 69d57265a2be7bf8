package translate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/smtt"
	"github.com/jward/surn/internal/types"
)

// commentFormat renders an erased type annotation under types.Comment.
const commentFormat = "/* %s */"

// lookup resolves path against f. A path rooted at a binder in scope starts
// from that binder's node; any other root is a field of the current node.
func (p *pass) lookup(f *frame, path smtt.Path) (any, error) {
	return lookupPath(f, path)
}

func lookupPath(f *frame, path smtt.Path) (any, error) {
	var (
		cur    any = f.node
		fields     = path.Fields
	)
	if b, ok := f.find(path.Root); ok {
		cur = b.node
	} else {
		fields = append([]string{path.Root}, path.Fields...)
	}
	for _, name := range fields {
		n, ok := cur.(*ast.Node)
		if !ok {
			return nil, diag.Errorf(diag.ErrMissingProperty, f.node.Pos, "%s: %q is not a node", path, name)
		}
		v, err := field(n, name)
		if err != nil {
			return nil, err
		}
		cur = v
	}
	return cur, nil
}

// field reads a property of n, falling back to the node's built-in
// attributes.
func field(n *ast.Node, name string) (any, error) {
	if n.Has(name) {
		return n.Prop(name)
	}
	// Target trees name unlabeled children by kind.
	for c := range n.Children() {
		if string(c.Kind) == name {
			return c, nil
		}
	}
	switch name {
	case "name":
		return n.Name, nil
	case "token":
		return n.Token, nil
	case "kind":
		return string(n.Kind), nil
	case "children":
		return n.ChildList(), nil
	case "parent":
		if parent := n.Parent(); parent != nil {
			return parent, nil
		}
	}
	return n.Prop(name)
}

// value renders a resolved value as target text.
func (p *pass) value(v any, depth int) (string, error) {
	switch v := v.(type) {
	case *ast.Node:
		return p.render(v, depth+1)
	case []*ast.Node:
		var b strings.Builder
		for _, n := range v {
			out, err := p.render(n, depth+1)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
		}
		return b.String(), nil
	}
	return scalar(v), nil
}

func scalar(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func (p *pass) template(f *frame, t smtt.Template) (string, error) {
	if t.IsStatic() && len(t) == 1 {
		return t[0].Text, nil
	}
	var b strings.Builder
	for _, seg := range t {
		if seg.Expr == nil {
			b.WriteString(seg.Text)
			continue
		}
		out, err := p.expr(f, seg.Expr)
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

func (p *pass) expr(f *frame, e smtt.Expr) (string, error) {
	switch e := e.(type) {
	case smtt.PathExpr:
		v, err := p.lookup(f, e.Path)
		if err != nil {
			if e.Default != nil && isMissing(err) {
				return *e.Default, nil
			}
			if isMissing(err) {
				return "", missing(f, err)
			}
			return "", err
		}
		return p.value(v, f.depth)
	case smtt.JoinExpr:
		return p.join(f, e.Sep, e.Path)
	case smtt.OptExpr:
		v, _ := p.t.opt(e.Name)
		return v, nil
	case smtt.TypeExpr:
		return p.typeExpr(f, e.Path)
	case smtt.StringExpr:
		return p.template(f, e.Template)
	}
	return "", fmt.Errorf("translate: unknown expression %T", e)
}

// typeExpr renders the semantic type of the node at path. A static target
// boxes what it cannot spell and fails when it has no catch-all type; a
// dynamic one erases the annotation.
func (p *pass) typeExpr(f *frame, path smtt.Path) (string, error) {
	var st types.SemanticType
	v, err := p.lookup(f, path)
	switch {
	case err == nil:
		if n, ok := v.(*ast.Node); ok {
			st = types.TypeOf(n)
		}
	case !isMissing(err):
		return "", err
	}

	target := p.t.target
	switch types.Check(target.Types, st) {
	case types.Supported:
		s, _ := types.Render(target.Types, st)
		return s, nil
	case types.Boxed:
		s, _ := types.Render(target.Types, st)
		if target.Erasure == types.Comment && st.Tag != types.Erased {
			s += " " + fmt.Sprintf(commentFormat, st.Name)
		}
		return s, nil
	}
	if target.Types.System == types.Static {
		return "", unsupported(f.node, f.key, nil, "%s: %s has no %s type and no @typemap any", path, st, target.Name)
	}
	if target.Erasure == types.Comment && st.Tag != types.Erased {
		return fmt.Sprintf(commentFormat, st.Name), nil
	}
	return "", nil
}

func isMissing(err error) bool {
	de, ok := err.(*diag.Error)
	return ok && de.Err == diag.ErrMissingProperty
}

func (p *pass) cond(f *frame, c smtt.Cond) (bool, error) {
	switch c := c.(type) {
	case smtt.LabelCond:
		return p.labelMatches(f.node, c.Token), nil
	case smtt.OptCond:
		v, ok := p.t.opt(c.Name)
		if c.Value != nil {
			return ok && v == *c.Value, nil
		}
		return ok && truthy(v), nil
	case smtt.CapCond:
		v, err := p.lookup(f, c.Path)
		if isMissing(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		n, ok := v.(*ast.Node)
		if !ok {
			return false, nil
		}
		switch c.Cap {
		case "is_class":
			return n.Capability() == ast.CapClass, nil
		case "is_plain_object":
			return n.Capability() == ast.CapPlainObject, nil
		}
		return false, nil
	case smtt.HasCond:
		_, err := p.lookup(f, c.Path)
		if isMissing(err) {
			return false, nil
		}
		return err == nil, err
	case smtt.NotCond:
		ok, err := p.cond(f, c.Cond)
		return !ok, err
	}
	return false, fmt.Errorf("translate: unknown condition %T", c)
}

// labelMatches reports whether n's token is tok, is bound to the label
// named tok, or shares a label with tok.
func (p *pass) labelMatches(n *ast.Node, tok string) bool {
	if n.Token == "" {
		return false
	}
	if n.Token == tok {
		return true
	}
	ls := p.t.target.Labels
	l, ok := ls.Resolve(n.Token)
	if !ok {
		return false
	}
	if string(l) == tok {
		return true
	}
	other, ok := ls.Resolve(tok)
	return ok && other == l
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
