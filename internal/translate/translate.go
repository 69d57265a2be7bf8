// Package translate walks a unified-source AST and renders it in a target
// language by executing the target's plug rules, or maps target-AST nodes
// back to unified nodes by executing its unplug rules.
package translate

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/labels"
	"github.com/jward/surn/internal/rules"
	"github.com/jward/surn/internal/types"
)

// DefaultMaxDepth bounds rule recursion when Options.MaxDepth is zero.
const DefaultMaxDepth = 256

// Policy decides what happens when a construct cannot be translated.
type Policy int

const (
	// Abort fails the whole unit on the first unsupported construct.
	Abort Policy = iota
	// Skip omits the construct and records a diagnostic.
	Skip
)

func (p Policy) String() string {
	if p == Skip {
		return "skip"
	}
	return "abort"
}

// ParsePolicy parses "abort" or "skip".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "abort":
		return Abort, nil
	case "skip":
		return Skip, nil
	}
	return Abort, errors.New("translate: unknown policy " + s)
}

// Precedence decides which dispatch key wins when a node matches both a
// label rule and a kind rule.
type Precedence int

const (
	LabelFirst Precedence = iota
	KindFirst
)

func (p Precedence) String() string {
	if p == KindFirst {
		return "kind"
	}
	return "label"
}

// ParsePrecedence parses "label" or "kind".
func ParsePrecedence(s string) (Precedence, error) {
	switch strings.ToLower(s) {
	case "", "label":
		return LabelFirst, nil
	case "kind":
		return KindFirst, nil
	}
	return LabelFirst, errors.New("translate: unknown precedence " + s)
}

// Target is everything a pass needs to know about one language. It must not
// change while a pass runs; callers hand in snapshots.
type Target struct {
	Name    string
	Rules   *rules.Set
	Labels  *labels.Set
	Types   types.Capabilities
	Erasure types.Erasure
	Macros  []string
}

// Options configures a Translator.
type Options struct {
	Policy       Policy
	Precedence   Precedence
	Custom       map[string]string
	MaxDepth     int
	Logger       *slog.Logger
	Synthesizers map[string]Synthesizer

	// TargetAST requests the rewritten tree alongside the output text.
	TargetAST bool
}

// Result is the outcome of translating one compilation unit.
type Result struct {
	Output      string
	Target      *ast.Node
	Diagnostics []diag.Diagnostic
}

// Translator renders ASTs for one target. It holds no per-pass state and
// may be used from many goroutines.
type Translator struct {
	target *Target
	opts   Options
	synth  map[string]Synthesizer
	log    *slog.Logger
}

// New returns a Translator for target.
func New(target *Target, opts Options) *Translator {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	synth := make(map[string]Synthesizer, len(builtinSynthesizers)+len(opts.Synthesizers))
	for name, s := range builtinSynthesizers {
		synth[name] = s
	}
	for name, s := range opts.Synthesizers {
		synth[name] = s
	}
	return &Translator{
		target: target,
		opts:   opts,
		synth:  synth,
		log:    log.With("target", target.Name),
	}
}

// Target returns the translator's target.
func (t *Translator) Target() *Target { return t.target }

// Translate renders root. Under Abort the first unsupported construct fails
// the call and no output is returned. Under Skip the offending constructs
// are omitted and reported in Result.Diagnostics. Depth overruns and
// cancellation always fail the call.
func (t *Translator) Translate(ctx context.Context, root *ast.Node) (*Result, error) {
	if root == nil {
		return nil, errors.New("translate: nil root")
	}
	p := t.newPass(ctx)
	out, err := p.plug(root, 0)
	if errors.Is(err, errSkipped) {
		out, err = "", nil
	}
	if err != nil {
		return nil, err
	}
	res := &Result{Output: out, Diagnostics: p.diags}
	if t.opts.TargetAST {
		if res.Target, err = p.targetTree(root); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (t *Translator) newPass(ctx context.Context) *pass {
	return &pass{
		t:        t,
		ctx:      ctx,
		rewrites: make(map[*ast.Node]*ast.Node),
	}
}

// opt reads a custom option.
func (t *Translator) opt(name string) (string, bool) {
	v, ok := t.opts.Custom[name]
	return v, ok
}

// dispatchKeys returns the candidate rule keys for n in precedence order.
func (t *Translator) dispatchKeys(n *ast.Node) []string {
	kind := string(n.Kind)
	if n.Token == "" {
		return []string{kind}
	}
	label, ok := t.target.Labels.Resolve(n.Token)
	if !ok {
		return []string{kind}
	}
	if t.opts.Precedence == KindFirst {
		return []string{kind, string(label)}
	}
	return []string{string(label), kind}
}

// resolve finds the rule for n in direction dir.
func (t *Translator) resolve(dir rules.Direction, n *ast.Node) (*rules.Rule, string, bool) {
	keys := t.dispatchKeys(n)
	for _, k := range keys {
		if r, ok := t.target.Rules.Resolve(dir, k); ok {
			return r, k, true
		}
	}
	return nil, keys[0], false
}

func (t *Translator) hasMacro(name string) bool {
	for _, m := range t.target.Macros {
		if m == name {
			return true
		}
	}
	return false
}
