// Package diag defines the error taxonomy shared by every stage of the
// translation pipeline, and the positional diagnostics surfaced per
// compilation unit.
package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration-time errors. These block a language's registration and never
// surface mid-translation.
var (
	ErrDuplicateLabelBinding = errors.New("duplicate label binding")
	ErrRuleConflict          = errors.New("rule conflict")
	ErrIncompatibleExtension = errors.New("incompatible extension")
	ErrSyntax                = errors.New("mapping syntax error")
)

// Translation-time errors. These are reported per compilation unit.
var (
	ErrMissingProperty      = errors.New("missing property")
	ErrUnsupportedConstruct = errors.New("unsupported construct")
	ErrDepthExceeded        = errors.New("translation depth exceeded")
	ErrExtensionFailed      = errors.New("extension transform failed")
)

// Lookup and model errors.
var (
	ErrRuleNotFound     = errors.New("rule not found")
	ErrLabelNotFound    = errors.New("label not found")
	ErrLanguageNotFound = errors.New("language not registered")
	ErrCycle            = errors.New("node would become its own ancestor")
	ErrOwned            = errors.New("node already has a parent")
)

// Pos is a location in a source file. Line and Col are 1-based; the zero
// value means "unknown".
type Pos struct {
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

// IsValid reports whether the position carries a line number.
func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	switch {
	case !p.IsValid() && p.File == "":
		return "-"
	case !p.IsValid():
		return p.File
	case p.File == "":
		return fmt.Sprintf("%d:%d", p.Line, p.Col)
	default:
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
	}
}

// Severity grades a diagnostic.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Diagnostic is one structured report entry for a compilation unit.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	Key      string   `json:"key,omitempty"`
	Pos      Pos      `json:"pos"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s[%s]: %s", d.Pos, d.Severity, d.Code, d.Message)
	return b.String()
}

// Error is a positional error carrying one of the package sentinels.
// Cause, when set, is a second sentinel describing the underlying reason
// (e.g. ErrMissingProperty escalated to ErrUnsupportedConstruct).
type Error struct {
	Err   error
	Cause error
	Pos   Pos
	Key   string
	Msg   string
}

// Errorf builds an *Error for sentinel err at pos.
func Errorf(err error, pos Pos, format string, args ...any) *Error {
	return &Error{Err: err, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Pos, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Err, e.Msg)
}

// Unwrap exposes both the sentinel and its cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// WithKey returns e annotated with the dispatch key it concerns.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// Diagnostic converts e into a report entry.
func (e *Error) Diagnostic() Diagnostic {
	return Diagnostic{
		Severity: SeverityError,
		Code:     Code(e),
		Key:      e.Key,
		Pos:      e.Pos,
		Message:  e.Msg,
	}
}

var codes = []struct {
	err  error
	code string
}{
	{ErrUnsupportedConstruct, "unsupported-construct"},
	{ErrMissingProperty, "missing-property"},
	{ErrDuplicateLabelBinding, "duplicate-label-binding"},
	{ErrRuleConflict, "rule-conflict"},
	{ErrIncompatibleExtension, "incompatible-extension"},
	{ErrSyntax, "syntax"},
	{ErrDepthExceeded, "depth-exceeded"},
	{ErrExtensionFailed, "extension-failed"},
	{ErrRuleNotFound, "rule-not-found"},
	{ErrLabelNotFound, "label-not-found"},
	{ErrLanguageNotFound, "language-not-found"},
	{ErrCycle, "cycle"},
	{ErrOwned, "owned"},
}

// Code returns the stable diagnostic code for err, or "internal" when err
// does not wrap any sentinel of this package.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// FromError converts any error into a diagnostic. Positional errors keep
// their location and key.
func FromError(err error) Diagnostic {
	var de *Error
	if errors.As(err, &de) {
		return de.Diagnostic()
	}
	return Diagnostic{Severity: SeverityError, Code: Code(err), Message: err.Error()}
}
