package registry

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/labels"
	"github.com/jward/surn/internal/rules"
	"github.com/jward/surn/internal/runtime"
	"github.com/jward/surn/internal/smtt"
	"github.com/jward/surn/internal/translate"
	"github.com/jward/surn/internal/types"
)

// Descriptor describes one target language. Mapping-defined languages carry
// Rules and Labels; extension-backed languages carry Extension. A descriptor
// is immutable once registered.
type Descriptor struct {
	Name             string
	Description      string
	Author           string
	Version          runtime.Version
	FileTypes        []string
	ThreadingAllowed bool
	Types            types.Capabilities
	Erasure          types.Erasure
	Macros           []string

	Rules  *rules.Set
	Labels *labels.Set

	Extension runtime.Extension

	// Source is the mapping file or script the language came from.
	Source string
	// RulesHash identifies the effective rule set; extensions hash their
	// source instead.
	RulesHash string
}

// IsExtension reports whether translation is delegated to an extension.
func (d *Descriptor) IsExtension() bool { return d.Extension != nil }

// Target returns the traversal engine's view of a mapping-defined language.
func (d *Descriptor) Target() *translate.Target {
	return &translate.Target{
		Name:    d.Name,
		Rules:   d.Rules,
		Labels:  d.Labels,
		Types:   d.Types,
		Erasure: d.Erasure,
		Macros:  d.Macros,
	}
}

// FromMapping compiles a parsed mapping definition. Label and rule errors
// carry the position of the offending declaration; nothing is registered
// anywhere until the caller passes the result to Register.
func FromMapping(f *smtt.File) (*Descriptor, error) {
	if f.Name == "" {
		return nil, diag.Errorf(diag.ErrSyntax, diag.Pos{File: f.Path, Line: 1, Col: 1}, "missing @name directive")
	}
	file := diag.Pos{File: f.Path}

	lr := labels.NewRegistry()
	for _, l := range f.Labels {
		if err := lr.Define(labels.Label(l.Name), l.Tokens, f.Name); err != nil {
			return nil, at(err, l.Pos)
		}
	}

	tbl := rules.NewTable()
	for _, d := range f.Plugs {
		if err := tbl.InstallPlug(f.Name, d.Key, rules.FromDecl(d)); err != nil {
			return nil, at(err, d.Pos)
		}
	}
	for _, d := range f.Unplugs {
		if err := tbl.InstallUnplug(f.Name, d.Key, rules.FromDecl(d)); err != nil {
			return nil, at(err, d.Pos)
		}
	}
	for _, o := range f.Overrides {
		dir := rules.Plug
		if o.Unplug {
			dir = rules.Unplug
		}
		if err := tbl.Override(dir, f.Name, o.From, o.To); err != nil {
			return nil, at(err, o.Pos)
		}
	}

	sys, err := types.ParseSystem(f.Types)
	if err != nil {
		return nil, diag.Errorf(diag.ErrSyntax, file, "%v", err)
	}
	erasure, err := types.ParseErasure(f.Erasure)
	if err != nil {
		return nil, diag.Errorf(diag.ErrSyntax, file, "%v", err)
	}
	var version runtime.Version
	if f.Version != "" {
		if version, err = runtime.ParseVersion(f.Version); err != nil {
			return nil, diag.Errorf(diag.ErrSyntax, file, "%v", err)
		}
	}

	rs := tbl.Snapshot(f.Name)
	ls := lr.Snapshot(f.Name)
	caps := types.Capabilities{System: sys, TypeMap: f.TypeMap}
	return &Descriptor{
		Name:             f.Name,
		Description:      f.Description,
		Author:           f.Author,
		Version:          version,
		FileTypes:        f.FileTypes,
		ThreadingAllowed: f.Threading,
		Types:            caps,
		Erasure:          erasure,
		Macros:           f.Macros,
		Rules:            rs,
		Labels:           ls,
		Source:           f.Path,
		RulesHash:        mappingHash(rs, ls, caps, erasure, f.Macros),
	}, nil
}

// FromExtension loads ext and describes the language it registers. hash
// identifies the extension's implementation for caching.
func FromExtension(ctx context.Context, ext runtime.Extension, source, hash string) (*Descriptor, error) {
	reg, err := runtime.Load(ctx, ext)
	if err != nil {
		return nil, fmt.Errorf("registry: %s: %w", source, err)
	}
	return &Descriptor{
		Name:             reg.Name,
		Description:      reg.Description,
		Author:           reg.Author,
		Version:          reg.Version,
		FileTypes:        reg.FileTypes,
		ThreadingAllowed: reg.ThreadingAllowed,
		Extension:        ext,
		Source:           source,
		RulesHash:        hash,
	}, nil
}

// mappingHash digests everything besides the AST that shapes a mapping
// language's output.
func mappingHash(rs *rules.Set, ls *labels.Set, caps types.Capabilities, erasure types.Erasure, macros []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "rules %s\n", rs.Hash())
	for _, l := range ls.Labels() {
		fmt.Fprintf(h, "label %s %s\n", l, strings.Join(ls.Tokens(l), "|"))
	}
	fmt.Fprintf(h, "types %s erasure %s\n", caps.System, erasure)
	keys := make([]string, 0, len(caps.TypeMap))
	for k := range caps.TypeMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "typemap %s %s\n", k, caps.TypeMap[k])
	}
	fmt.Fprintf(h, "macros %s\n", strings.Join(macros, ","))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// at attaches pos to positional errors that lack one.
func at(err error, pos diag.Pos) error {
	var de *diag.Error
	if errors.As(err, &de) {
		if !de.Pos.IsValid() {
			de.Pos = pos
		}
		return de
	}
	return diag.Errorf(diag.ErrSyntax, pos, "%v", err)
}
