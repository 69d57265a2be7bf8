// Package rules stores the plug and unplug rules of every language, keyed
// by dispatch key (a label or AST kind name).
package rules

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/smtt"
)

// Direction selects the plug (unified to target) or unplug (target to
// unified) namespace. The two never share keys.
type Direction int

const (
	Plug Direction = iota
	Unplug
)

func (d Direction) String() string {
	if d == Unplug {
		return "unplug"
	}
	return "plug"
}

// Rule is a rule body bound to a dispatch key.
type Rule struct {
	Key      string
	Binder   string
	Body     []smtt.Stmt
	Priority int
	Origin   diag.Pos
}

// FromDecl builds a rule from a parsed declaration.
func FromDecl(d *smtt.RuleDecl) *Rule {
	return &Rule{Key: d.Key, Binder: d.Binder, Body: d.Body, Origin: d.Pos}
}

func (r *Rule) clone(key string) *Rule {
	return &Rule{
		Key:      key,
		Binder:   r.Binder,
		Body:     smtt.CloneBody(r.Body),
		Priority: r.Priority,
		Origin:   r.Origin,
	}
}

type namespace map[string]*Rule

type langRules struct {
	ns [2]namespace
}

func newLangRules() *langRules {
	return &langRules{ns: [2]namespace{make(namespace), make(namespace)}}
}

// Table holds the rules of all languages. It is safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	langs map[string]*langRules
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{langs: make(map[string]*langRules)}
}

type installOptions struct {
	replace bool
}

// InstallOption configures Install.
type InstallOption func(*installOptions)

// Replacing allows an install to supersede an existing rule for the key.
func Replacing() InstallOption {
	return func(o *installOptions) { o.replace = true }
}

// Install binds rule to key in lang's namespace for dir. Installing a key
// twice fails with diag.ErrRuleConflict unless Replacing is given.
func (t *Table) Install(dir Direction, lang, key string, rule *Rule, opts ...InstallOption) error {
	var o installOptions
	for _, opt := range opts {
		opt(&o)
	}
	if key == "" || rule == nil {
		return fmt.Errorf("rules: install: empty key or nil rule")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lr := t.langs[lang]
	if lr == nil {
		lr = newLangRules()
		t.langs[lang] = lr
	}
	ns := lr.ns[dir]
	if prev, ok := ns[key]; ok && !o.replace {
		return diag.Errorf(diag.ErrRuleConflict, rule.Origin,
			"%s rule %q already defined at %s", dir, key, prev.Origin).WithKey(key)
	}
	rule.Key = key
	ns[key] = rule
	return nil
}

// InstallPlug installs a plug rule.
func (t *Table) InstallPlug(lang, key string, rule *Rule, opts ...InstallOption) error {
	return t.Install(Plug, lang, key, rule, opts...)
}

// InstallUnplug installs an unplug rule.
func (t *Table) InstallUnplug(lang, key string, rule *Rule, opts ...InstallOption) error {
	return t.Install(Unplug, lang, key, rule, opts...)
}

// Override makes to's rule a deep copy of from's. The copy outranks
// whatever to held before, and later changes to from do not reach it.
func (t *Table) Override(dir Direction, lang, from, to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	lr := t.langs[lang]
	if lr == nil {
		return diag.Errorf(diag.ErrRuleNotFound, diag.Pos{}, "%s rule %q in %s", dir, from, lang).WithKey(from)
	}
	ns := lr.ns[dir]
	src, ok := ns[from]
	if !ok {
		return diag.Errorf(diag.ErrRuleNotFound, diag.Pos{}, "%s rule %q in %s", dir, from, lang).WithKey(from)
	}
	c := src.clone(to)
	if prev, ok := ns[to]; ok {
		c.Priority = max(c.Priority, prev.Priority)
	}
	c.Priority++
	ns[to] = c
	return nil
}

// Resolve returns the rule bound to key.
func (t *Table) Resolve(dir Direction, lang, key string) (*Rule, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if lr := t.langs[lang]; lr != nil {
		if r, ok := lr.ns[dir][key]; ok {
			return r, nil
		}
	}
	return nil, diag.Errorf(diag.ErrRuleNotFound, diag.Pos{}, "%s rule %q in %s", dir, key, lang).WithKey(key)
}

// ResolvePlug returns the plug rule bound to key.
func (t *Table) ResolvePlug(lang, key string) (*Rule, error) {
	return t.Resolve(Plug, lang, key)
}

// ResolveUnplug returns the unplug rule bound to key.
func (t *Table) ResolveUnplug(lang, key string) (*Rule, error) {
	return t.Resolve(Unplug, lang, key)
}

// Keys returns the keys bound in lang's namespace for dir, sorted.
func (t *Table) Keys(dir Direction, lang string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lr := t.langs[lang]
	if lr == nil {
		return nil
	}
	return sortedKeys(lr.ns[dir])
}

// Drop removes every rule of lang.
func (t *Table) Drop(lang string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.langs, lang)
}

// Snapshot returns an immutable deep copy of lang's rules.
func (t *Table) Snapshot(lang string) *Set {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := &Set{ns: [2]namespace{make(namespace), make(namespace)}}
	if lr := t.langs[lang]; lr != nil {
		for dir := range lr.ns {
			for k, r := range lr.ns[dir] {
				s.ns[dir][k] = r.clone(k)
			}
		}
	}
	return s
}

// Set is a read-only view of one language's rules.
type Set struct {
	ns [2]namespace
}

// Resolve returns the rule bound to key, or false.
func (s *Set) Resolve(dir Direction, key string) (*Rule, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.ns[dir][key]
	return r, ok
}

// Keys returns the keys bound for dir, sorted.
func (s *Set) Keys(dir Direction) []string {
	if s == nil {
		return nil
	}
	return sortedKeys(s.ns[dir])
}

// Len returns the number of rules for dir.
func (s *Set) Len(dir Direction) int {
	if s == nil {
		return 0
	}
	return len(s.ns[dir])
}

// Hash returns a hex digest of the effective rules. Equal rule sets hash
// equally regardless of installation order.
func (s *Set) Hash() string {
	h := sha256.New()
	if s != nil {
		for dir := range s.ns {
			for _, k := range sortedKeys(s.ns[dir]) {
				r := s.ns[dir][k]
				fmt.Fprintf(h, "%d\x00%s\x00%s\x00%s\n", dir, k, r.Binder, smtt.FormatBody(r.Body))
			}
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// String lists the rules in canonical form, one per line.
func (s *Set) String() string {
	var b strings.Builder
	for dir := range s.ns {
		for _, k := range sortedKeys(s.ns[dir]) {
			r := s.ns[dir][k]
			decl := &smtt.RuleDecl{Key: k, Binder: r.Binder, Body: r.Body}
			b.WriteString(decl.Format(Direction(dir) == Unplug))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func sortedKeys(ns namespace) []string {
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
