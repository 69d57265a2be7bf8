package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/rules"
	"github.com/jward/surn/internal/smtt"
)

// errSkipped marks a construct omitted under the Skip policy. It never
// leaves the package.
var errSkipped = errors.New("construct skipped")

// pass is the state of one Translate call.
type pass struct {
	t        *Translator
	ctx      context.Context
	diags    []diag.Diagnostic
	rewrites map[*ast.Node]*ast.Node
}

// frame binds a rule's binder name to the node it is executing for.
// Frames chain outward so nested bodies can still name enclosing binders.
type frame struct {
	binder string
	node   *ast.Node
	key    string
	depth  int
	parent *frame
}

func (f *frame) find(name string) (*frame, bool) {
	for ; f != nil; f = f.parent {
		if f.binder == name {
			return f, true
		}
	}
	return nil, false
}

// plug translates n with its own rule.
func (p *pass) plug(n *ast.Node, depth int) (string, error) {
	if err := p.ctx.Err(); err != nil {
		return "", err
	}
	if depth > p.t.opts.MaxDepth {
		return "", diag.Errorf(diag.ErrDepthExceeded, n.Pos, "exceeded %d nested translations at %s", p.t.opts.MaxDepth, n.Kind)
	}

	rule, key, ok := p.t.resolve(rules.Plug, n)
	if !ok {
		if n.Kind == ast.KindMacroInvocation {
			return p.macro(n)
		}
		return "", p.fail(unsupported(n, key, nil, "no rule for %s", describe(n)))
	}

	f := &frame{binder: rule.Binder, node: n, key: key, depth: depth}
	var b strings.Builder
	if err := p.exec(&b, f, rule.Body); err != nil {
		return "", p.fail(err)
	}
	return b.String(), nil
}

// macro passes a macro invocation's body through verbatim when it names
// the target's own macro.
func (p *pass) macro(n *ast.Node) (string, error) {
	if !p.t.hasMacro(n.Name) {
		return "", p.fail(unsupported(n, string(n.Kind), nil, "macro %q does not target %s", n.Name, p.t.target.Name))
	}
	body, err := n.String("body")
	if err != nil {
		return "", p.fail(unsupported(n, string(n.Kind), err, "macro %q has no body", n.Name))
	}
	return body, nil
}

// fail applies the failure policy to err. Unsupported constructs become a
// diagnostic and errSkipped under Skip; everything else passes through.
func (p *pass) fail(err error) error {
	if errors.Is(err, errSkipped) || p.t.opts.Policy != Skip || !errors.Is(err, diag.ErrUnsupportedConstruct) {
		return err
	}
	d := diag.FromError(err)
	d.Severity = diag.SeverityWarning
	p.diags = append(p.diags, d)
	p.t.log.Warn("construct skipped", "key", d.Key, "pos", d.Pos.String(), "err", d.Message)
	return errSkipped
}

// render translates n, rendering a skipped construct as nothing.
func (p *pass) render(n *ast.Node, depth int) (string, error) {
	out, err := p.plug(n, depth)
	if errors.Is(err, errSkipped) {
		return "", nil
	}
	return out, err
}

func (p *pass) exec(b *strings.Builder, f *frame, body []smtt.Stmt) error {
	for _, s := range body {
		if err := p.stmt(b, f, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) stmt(b *strings.Builder, f *frame, s smtt.Stmt) error {
	switch s := s.(type) {
	case *smtt.Emit:
		out, err := p.template(f, s.Template)
		if err != nil {
			return err
		}
		b.WriteString(out)

	case *smtt.PlugStmt:
		return p.nested(b, f, s)

	case *smtt.Join:
		out, err := p.join(f, s.Sep, s.Path)
		if err != nil {
			return err
		}
		b.WriteString(out)

	case *smtt.If:
		ok, err := p.cond(f, s.Cond)
		if err != nil {
			return err
		}
		if ok {
			return p.exec(b, f, s.Then)
		}
		return p.exec(b, f, s.Else)

	case *smtt.Rewrite:
		return p.rewrite(b, f, s)

	default:
		return unsupported(f.node, f.key, nil, "%T is not valid in a plug rule", s)
	}
	return nil
}

// nested runs a nested plug. An empty body erases the construct, present
// or not; any other plug of a missing property is unsupported.
func (p *pass) nested(b *strings.Builder, f *frame, s *smtt.PlugStmt) error {
	erase := s.Body != nil && len(s.Body) == 0
	v, err := p.lookup(f, s.Path)
	if err != nil {
		if isMissing(err) {
			if erase {
				return nil
			}
			return missing(f, err)
		}
		return err
	}
	if erase {
		return nil
	}

	binder := s.Binder
	if binder == "" {
		binder = s.Path.Root
		if n := len(s.Path.Fields); n > 0 {
			binder = s.Path.Fields[n-1]
		}
	}
	each := func(n *ast.Node) error {
		if s.Body == nil {
			out, err := p.render(n, f.depth+1)
			b.WriteString(out)
			return err
		}
		inner := &frame{binder: binder, node: n, key: f.key, depth: f.depth + 1, parent: f}
		return p.exec(b, inner, s.Body)
	}

	switch v := v.(type) {
	case *ast.Node:
		return each(v)
	case []*ast.Node:
		for _, n := range v {
			if err := each(n); err != nil {
				return err
			}
		}
		return nil
	}
	if s.Body != nil {
		return unsupported(f.node, f.key, nil, "cannot bind %s to scalar %s", binder, s.Path)
	}
	out, err := p.value(v, f.depth)
	b.WriteString(out)
	return err
}

// join translates every node at path in order and joins the non-skipped
// results with sep.
func (p *pass) join(f *frame, sep string, path smtt.Path) (string, error) {
	v, err := p.lookup(f, path)
	if err != nil {
		if isMissing(err) {
			return "", missing(f, err)
		}
		return "", err
	}
	var nodes []*ast.Node
	switch v := v.(type) {
	case *ast.Node:
		nodes = []*ast.Node{v}
	case []*ast.Node:
		nodes = v
	default:
		return p.value(v, f.depth)
	}

	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out, err := p.plug(n, f.depth+1)
		if errors.Is(err, errSkipped) {
			continue
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, out)
	}
	return strings.Join(parts, sep), nil
}

// rewrite replaces the frame's node with a synthesized one and translates
// that instead.
func (p *pass) rewrite(b *strings.Builder, f *frame, s *smtt.Rewrite) error {
	synth, ok := p.t.synth[s.Name]
	if !ok {
		return unsupported(f.node, f.key, nil, "unknown rewrite %q", s.Name)
	}
	env := &SynthEnv{Target: p.t.target, custom: p.t.opts.Custom}
	repl, err := synth(env, f.node)
	if err != nil {
		var de *diag.Error
		if errors.As(err, &de) {
			return err
		}
		return unsupported(f.node, f.key, err, "rewrite %s: %v", s.Name, err)
	}
	p.rewrites[f.node] = repl
	out, err := p.render(repl, f.depth+1)
	b.WriteString(out)
	return err
}

// missing escalates a MissingProperty lookup error with no declared
// default to an unsupported construct.
func missing(f *frame, err error) *diag.Error {
	return unsupported(f.node, f.key, err, "%s", err.(*diag.Error).Msg)
}

// unsupported builds an UnsupportedConstruct error for n. cause, when it is
// a diag sentinel error, is kept for errors.Is.
func unsupported(n *ast.Node, key string, cause error, format string, args ...any) *diag.Error {
	e := diag.Errorf(diag.ErrUnsupportedConstruct, n.Pos, format, args...).WithKey(key)
	if cause != nil {
		e.Cause = cause
	}
	return e
}

func describe(n *ast.Node) string {
	if n.Token != "" {
		return fmt.Sprintf("%s (token %q)", n.Kind, n.Token)
	}
	return string(n.Kind)
}
