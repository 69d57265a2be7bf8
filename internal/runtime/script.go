package runtime

import (
	"context"
	"errors"

	"github.com/risor-io/risor/object"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
)

// ScriptExtension is an Extension implemented by a Risor script defining
// register() and transform(ast).
//
// register() returns a map with the keys name, description, author,
// version ("1.2.3"), api_version, file_types and threading. transform(ast)
// returns the target text, or a map with an "error" key to fail the unit.
// The AST arrives as nested maps with the keys kind, category, name, token,
// line, col, props and children.
type ScriptExtension struct {
	rt   *Runtime
	path string
	src  string
}

// NewScriptExtension loads the script at path through rt.
func NewScriptExtension(rt *Runtime, path string) (*ScriptExtension, error) {
	src, err := rt.LoadScript(path)
	if err != nil {
		return nil, err
	}
	return &ScriptExtension{rt: rt, path: path, src: src}, nil
}

// NewScriptExtensionSource wraps inline script source; name labels it in
// errors and logs.
func NewScriptExtensionSource(rt *Runtime, name, src string) *ScriptExtension {
	return &ScriptExtension{rt: rt, path: name, src: src}
}

// Path returns the script's path or label.
func (e *ScriptExtension) Path() string { return e.path }

// Source returns the script text.
func (e *ScriptExtension) Source() string { return e.src }

func (e *ScriptExtension) Register(ctx context.Context) (Registration, error) {
	obj, err := e.rt.eval(ctx, e.src+"\nregister()\n", e.path, nil)
	if err != nil {
		return Registration{}, err
	}
	m, err := extractMap(obj)
	if err != nil {
		return Registration{}, diag.Errorf(diag.ErrIncompatibleExtension, diag.Pos{File: e.path}, "register(): %v", err)
	}

	reg := Registration{
		Name:             getString(m, "name"),
		Description:      getString(m, "description"),
		Author:           getString(m, "author"),
		APIVersion:       getInt(m, "api_version"),
		FileTypes:        getStrings(m, "file_types"),
		ThreadingAllowed: getBoolDefault(m, "threading", true),
	}
	v, err := ParseVersion(getStringDefault(m, "version", "0.0.0"))
	if err != nil {
		return Registration{}, diag.Errorf(diag.ErrIncompatibleExtension, diag.Pos{File: e.path}, "register(): %v", err)
	}
	reg.Version = v
	return reg, nil
}

func (e *ScriptExtension) Transform(ctx context.Context, serializedAST []byte) (string, error) {
	root, err := ast.Decode(serializedAST)
	if err != nil {
		return "", err
	}
	obj, err := e.rt.eval(ctx, e.src+"\ntransform(ast)\n", e.path, map[string]any{
		"ast": toObject(root.Generic()),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", diag.Errorf(diag.ErrExtensionFailed, root.Pos, "%v", err)
	}
	switch v := obj.(type) {
	case *object.String:
		return v.Value(), nil
	case *object.Map:
		if msg := getString(v.Value(), "error"); msg != "" {
			return "", diag.Errorf(diag.ErrExtensionFailed, root.Pos, "%s", msg)
		}
	}
	return "", diag.Errorf(diag.ErrExtensionFailed, root.Pos, "transform() returned %s, want string", obj.Type())
}
