// Package validate checks emitted target text with tree-sitter and converts
// target parses into ast trees for the unplug direction.
package validate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
)

// ErrNoGrammar is returned for target languages without a bundled grammar.
var ErrNoGrammar = errors.New("validate: no grammar")

// CodeInvalidOutput is the diagnostic code of a syntax problem found in
// emitted text.
const CodeInvalidOutput = "invalid-output"

// Issue is one syntax problem in emitted text.
type Issue struct {
	Pos     diag.Pos
	Missing bool
	Text    string
}

func (i Issue) String() string {
	if i.Missing {
		return fmt.Sprintf("%s: missing %s", i.Pos, i.Text)
	}
	return fmt.Sprintf("%s: unexpected %q", i.Pos, i.Text)
}

// Report is the outcome of checking one output.
type Report struct {
	Language string
	Issues   []Issue
}

// OK reports whether the output parsed cleanly.
func (r *Report) OK() bool { return len(r.Issues) == 0 }

// Diagnostics renders the issues as warnings attributed to file.
func (r *Report) Diagnostics(file string) []diag.Diagnostic {
	out := make([]diag.Diagnostic, 0, len(r.Issues))
	for _, i := range r.Issues {
		pos := i.Pos
		pos.File = file
		out = append(out, diag.Diagnostic{
			Severity: diag.SeverityWarning,
			Code:     CodeInvalidOutput,
			Pos:      pos,
			Message:  i.String(),
		})
	}
	return out
}

func parse(ctx context.Context, lang string, src []byte) (*sitter.Tree, error) {
	grammar, ok := GrammarFor(lang)
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoGrammar, lang)
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("validate: parse %s: %w", lang, err)
	}
	return tree, nil
}

// Check parses src as lang and reports every error and missing node.
func Check(ctx context.Context, lang string, src []byte) (*Report, error) {
	tree, err := parse(ctx, lang, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	r := &Report{Language: lang}
	root := tree.RootNode()
	if !root.HasError() {
		return r, nil
	}
	collect(root, src, r)
	return r, nil
}

func collect(n *sitter.Node, src []byte, r *Report) {
	switch {
	case n.IsMissing():
		r.Issues = append(r.Issues, Issue{Pos: pointPos(n.StartPoint()), Missing: true, Text: n.Type()})
		return
	case n.IsError():
		r.Issues = append(r.Issues, Issue{Pos: pointPos(n.StartPoint()), Text: firstLine(n.Content(src))})
		return
	}
	if !n.HasError() {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collect(n.Child(i), src, r)
	}
}

func pointPos(p sitter.Point) diag.Pos {
	return diag.Pos{Line: int(p.Row) + 1, Col: int(p.Column) + 1}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Parse parses src as lang and converts the tree into a target AST: each
// named node becomes a node of the grammar's node type, its first anonymous
// child becomes the token, fielded children become properties and the rest
// become children. Leaves and string literals are named by their text.
func Parse(ctx context.Context, lang string, src []byte) (*ast.Node, error) {
	tree, err := parse(ctx, lang, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	return convert(tree.RootNode(), src)
}

func convert(n *sitter.Node, src []byte) (*ast.Node, error) {
	out := ast.New(ast.Kind(n.Type()), ast.WithPos(pointPos(n.StartPoint())))
	named := 0
	fields := map[string][]*ast.Node{}
	var order []string
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if !c.IsNamed() {
			if out.Token == "" {
				out.Token = c.Type()
			}
			continue
		}
		named++
		cn, err := convert(c, src)
		if err != nil {
			return nil, err
		}
		if f := n.FieldNameForChild(i); f != "" {
			if _, seen := fields[f]; !seen {
				order = append(order, f)
			}
			fields[f] = append(fields[f], cn)
			continue
		}
		if err := out.Append(cn); err != nil {
			return nil, err
		}
	}
	for _, f := range order {
		var v any = fields[f]
		if len(fields[f]) == 1 {
			v = fields[f][0]
		}
		if err := out.Set(f, v); err != nil {
			return nil, err
		}
	}
	if named == 0 || strings.Contains(n.Type(), "string") {
		out.Name = n.Content(src)
	}
	return out, nil
}
