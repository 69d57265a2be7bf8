// Package labels binds named equivalence classes of surface tokens to
// translation rules, per language.
package labels

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/jward/surn/internal/diag"
)

// Label is a named class of interchangeable surface tokens, such as
// AssignMut covering "var" and "let".
type Label string

type table struct {
	byToken map[string]Label
	tokens  map[Label][]string
}

func newTable() *table {
	return &table{byToken: make(map[string]Label), tokens: make(map[Label][]string)}
}

// Registry holds the token bindings of every language. It is safe for
// concurrent use; reads vastly outnumber writes.
type Registry struct {
	mu    sync.RWMutex
	langs map[string]*table
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{langs: make(map[string]*table)}
}

// Define binds tokens to label in lang. Re-binding a token to the same label
// is a no-op; binding it to a different label fails with
// diag.ErrDuplicateLabelBinding and leaves the registry unchanged.
func (r *Registry) Define(label Label, tokens []string, lang string) error {
	if label == "" {
		return fmt.Errorf("labels: define: empty label name")
	}
	if len(tokens) == 0 {
		return fmt.Errorf("labels: define %s: no tokens", label)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.langs[lang]
	if t == nil {
		t = newTable()
		r.langs[lang] = t
	}
	for _, tok := range tokens {
		if tok == "" {
			return fmt.Errorf("labels: define %s: empty token", label)
		}
		if bound, ok := t.byToken[tok]; ok && bound != label {
			return diag.Errorf(diag.ErrDuplicateLabelBinding, diag.Pos{},
				"token %q already bound to %s in %s", tok, bound, lang)
		}
	}
	for _, tok := range tokens {
		if _, ok := t.byToken[tok]; ok {
			continue
		}
		t.byToken[tok] = label
		t.tokens[label] = append(t.tokens[label], tok)
	}
	return nil
}

// Resolve returns the label tok is bound to in lang.
func (r *Registry) Resolve(tok, lang string) (Label, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t := r.langs[lang]; t != nil {
		if l, ok := t.byToken[tok]; ok {
			return l, nil
		}
	}
	return "", diag.Errorf(diag.ErrLabelNotFound, diag.Pos{}, "token %q in %s", tok, lang)
}

// Tokens returns the tokens bound to label in lang, in binding order. The
// first token is the label's canonical surface form.
func (r *Registry) Tokens(label Label, lang string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t := r.langs[lang]; t != nil {
		return slices.Clone(t.tokens[label])
	}
	return nil
}

// Labels returns the labels defined for lang, sorted.
func (r *Registry) Labels(lang string) []Label {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t := r.langs[lang]
	if t == nil {
		return nil
	}
	out := make([]Label, 0, len(t.tokens))
	for l := range t.tokens {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Drop removes every binding of lang.
func (r *Registry) Drop(lang string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.langs, lang)
}

// Snapshot returns an immutable copy of lang's bindings. Translation passes
// work from a snapshot so that reconfiguration never reaches a running pass.
func (r *Registry) Snapshot(lang string) *Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := &Set{byToken: make(map[string]Label), tokens: make(map[Label][]string)}
	if t := r.langs[lang]; t != nil {
		for tok, l := range t.byToken {
			s.byToken[tok] = l
		}
		for l, toks := range t.tokens {
			s.tokens[l] = slices.Clone(toks)
		}
	}
	return s
}

// Set is a read-only view of one language's bindings.
type Set struct {
	byToken map[string]Label
	tokens  map[Label][]string
}

// Resolve returns the label bound to tok.
func (s *Set) Resolve(tok string) (Label, bool) {
	if s == nil {
		return "", false
	}
	l, ok := s.byToken[tok]
	return l, ok
}

// Tokens returns the tokens bound to l.
func (s *Set) Tokens(l Label) []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s.tokens[l])
}

// Has reports whether l is defined.
func (s *Set) Has(l Label) bool {
	if s == nil {
		return false
	}
	_, ok := s.tokens[l]
	return ok
}

// Len returns the number of bound tokens.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byToken)
}

// Labels returns the defined labels, sorted.
func (s *Set) Labels() []Label {
	if s == nil {
		return nil
	}
	out := make([]Label, 0, len(s.tokens))
	for l := range s.tokens {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}
