package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
)

// APIVersion is the extension interface version this host speaks.
const APIVersion = 1

// Version is a language implementation's semantic version.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseVersion parses "major[.minor[.patch]]".
func ParseVersion(s string) (Version, error) {
	var v Version
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(s), "v"), ".")
	if len(parts) > 3 || parts[0] == "" {
		return v, fmt.Errorf("runtime: invalid version %q", s)
	}
	dst := []*int{&v.Major, &v.Minor, &v.Patch}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("runtime: invalid version %q", s)
		}
		*dst[i] = n
	}
	return v, nil
}

// Registration is what an extension reports about itself.
type Registration struct {
	Name             string
	Description      string
	Author           string
	Version          Version
	APIVersion       int
	FileTypes        []string
	ThreadingAllowed bool
}

// Extension is a language implementation living outside the mapping
// engine. Transform receives the unified AST serialized as JSON and returns
// target source text. Both calls may block.
type Extension interface {
	Register(ctx context.Context) (Registration, error)
	Transform(ctx context.Context, serializedAST []byte) (string, error)
}

// Load asks ext to register and validates what it reports.
func Load(ctx context.Context, ext Extension) (Registration, error) {
	reg, err := ext.Register(ctx)
	if err != nil {
		return Registration{}, fmt.Errorf("runtime: register: %w", err)
	}
	if reg.APIVersion != APIVersion {
		return Registration{}, diag.Errorf(diag.ErrIncompatibleExtension, diag.Pos{},
			"%q speaks api version %d, host speaks %d", reg.Name, reg.APIVersion, APIVersion)
	}
	if reg.Name == "" {
		return Registration{}, diag.Errorf(diag.ErrIncompatibleExtension, diag.Pos{}, "extension registered without a name")
	}
	return reg, nil
}

// Native adapts a Go function into an Extension.
type Native struct {
	Registration Registration
	Func         func(ctx context.Context, root *ast.Node) (string, error)
}

func (n *Native) Register(ctx context.Context) (Registration, error) {
	return n.Registration, nil
}

func (n *Native) Transform(ctx context.Context, serializedAST []byte) (string, error) {
	root, err := ast.Decode(serializedAST)
	if err != nil {
		return "", err
	}
	out, err := n.Func(ctx, root)
	if err != nil {
		return "", diag.Errorf(diag.ErrExtensionFailed, root.Pos, "%s: %v", n.Registration.Name, err)
	}
	return out, nil
}
