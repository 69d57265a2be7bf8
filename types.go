package surn

import (
	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/registry"
	"github.com/jward/surn/internal/runtime"
	"github.com/jward/surn/internal/store"
	"github.com/jward/surn/internal/translate"
)

// Public type aliases for internal types used in the Engine API. These are
// Go type aliases (=), identical to the internal types at compile time.

type Node = ast.Node
type Kind = ast.Kind
type Diagnostic = diag.Diagnostic
type Descriptor = registry.Descriptor
type Extension = runtime.Extension
type Native = runtime.Native
type Registration = runtime.Registration
type Synthesizer = translate.Synthesizer
type SynthEnv = translate.SynthEnv
type Policy = translate.Policy
type Precedence = translate.Precedence
type Unit = store.Unit
type LanguageStats = store.LanguageStats

// Failure policies.
const (
	Abort = translate.Abort
	Skip  = translate.Skip
)

// Dispatch precedences.
const (
	LabelFirst = translate.LabelFirst
	KindFirst  = translate.KindFirst
)

// Source is one compilation unit.
type Source struct {
	// Path identifies the unit in diagnostics and in the cache. Units
	// without a path are never cached.
	Path string
	Root *Node
}

// Result is the outcome of one pass.
type Result struct {
	Path     string
	Language string
	PassID   string
	Output   string
	// Target is the rewritten tree, when WithTargetAST is set.
	Target      *Node
	Diagnostics []Diagnostic
	// Cached reports whether Output was served from the cache.
	Cached bool
	Err    error
}

// Failed reports whether the pass failed.
func (r *Result) Failed() bool { return r.Err != nil }

func (r *Result) fail(err error) {
	d := diag.FromError(err)
	if d.Pos.File == "" {
		d.Pos.File = r.Path
	}
	r.Err = err
	r.Diagnostics = append(r.Diagnostics, d)
}

func toStoreDiagnostics(ds []Diagnostic) []store.Diagnostic {
	out := make([]store.Diagnostic, 0, len(ds))
	for _, d := range ds {
		out = append(out, store.Diagnostic{
			Severity: d.Severity.String(),
			Code:     d.Code,
			Key:      d.Key,
			File:     d.Pos.File,
			Line:     d.Pos.Line,
			Col:      d.Pos.Col,
			Message:  d.Message,
		})
	}
	return out
}

func fromStoreDiagnostics(rows []*store.Diagnostic) []Diagnostic {
	out := make([]Diagnostic, 0, len(rows))
	for _, r := range rows {
		sev := diag.SeverityError
		if r.Severity == diag.SeverityWarning.String() {
			sev = diag.SeverityWarning
		}
		out = append(out, Diagnostic{
			Severity: sev,
			Code:     r.Code,
			Key:      r.Key,
			Pos:      diag.Pos{File: r.File, Line: r.Line, Col: r.Col},
			Message:  r.Message,
		})
	}
	return out
}
