package types

import "fmt"

// System is a target's typing discipline.
type System int

const (
	Dynamic System = iota
	Static
)

// ParseSystem parses "static" or "dynamic".
func ParseSystem(s string) (System, error) {
	switch s {
	case "", "dynamic":
		return Dynamic, nil
	case "static":
		return Static, nil
	}
	return Dynamic, fmt.Errorf("types: unknown type system %q", s)
}

func (s System) String() string {
	if s == Static {
		return "static"
	}
	return "dynamic"
}

// Erasure controls how an unexpressible type annotation is dropped.
type Erasure int

const (
	// Elide drops the annotation silently.
	Elide Erasure = iota
	// Comment keeps it as a target comment.
	Comment
)

// ParseErasure parses "elide" or "comment".
func ParseErasure(s string) (Erasure, error) {
	switch s {
	case "", "elide":
		return Elide, nil
	case "comment":
		return Comment, nil
	}
	return Elide, fmt.Errorf("types: unknown erasure mode %q", s)
}

func (e Erasure) String() string {
	if e == Comment {
		return "comment"
	}
	return "elide"
}

// Capabilities describes what a target's type system can express.
// TypeMap maps semantic type names to target spellings.
type Capabilities struct {
	System  System
	TypeMap map[string]string
}

// Support is the outcome of a capability check.
type Support int

const (
	// Unsupported means the caller must erase the annotation.
	Unsupported Support = iota
	// Supported means the type renders directly.
	Supported
	// Boxed means the type renders through the target's catch-all type.
	Boxed
)

func (s Support) String() string {
	switch s {
	case Supported:
		return "supported"
	case Boxed:
		return "boxed"
	}
	return "unsupported"
}

// Check reports whether target can express t. It never fails: a dynamic
// target supports no annotations, and a static one supports mapped
// primitives and declared class names. Everything else on a static target,
// an erased type included, is boxed through "any" when the target maps it.
func Check(target Capabilities, t SemanticType) Support {
	if target.System == Dynamic {
		return Unsupported
	}
	if t.Tag != Erased {
		if _, ok := target.TypeMap[t.Name]; ok {
			return Supported
		}
		if t.Tag == Named {
			return Supported
		}
	}
	if _, ok := target.TypeMap["any"]; ok {
		return Boxed
	}
	return Unsupported
}

// Render returns the target spelling of t and whether it can be rendered.
func Render(target Capabilities, t SemanticType) (string, bool) {
	switch Check(target, t) {
	case Supported:
		if s, ok := target.TypeMap[t.Name]; ok {
			return s, true
		}
		return t.Name, true
	case Boxed:
		return target.TypeMap["any"], true
	}
	return "", false
}
