package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/risor-io/risor/object"
)

// makeOptFn creates the "opt" host function.
//
// opt(name[, default]) → string or default (nil when absent)
func makeOptFn(custom map[string]string) *object.Builtin {
	return object.NewBuiltin("opt", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.NewArgsError("opt", 1, len(args))
		}
		name, err := toString(args[0])
		if err != nil {
			return object.Errorf("opt: name: %v", err)
		}
		if v, ok := custom[name]; ok {
			return object.NewString(v)
		}
		if len(args) == 2 {
			return args[1]
		}
		return object.Nil
	})
}

// makeJoinFn creates the "join" host function.
//
// join(list, sep) → string
func makeJoinFn() *object.Builtin {
	return object.NewBuiltin("join", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("join", 2, len(args))
		}
		list, ok := args[0].(*object.List)
		if !ok {
			return object.Errorf("join: expected list, got %s", args[0].Type())
		}
		sep, err := toString(args[1])
		if err != nil {
			return object.Errorf("join: separator: %v", err)
		}
		parts := make([]string, 0, len(list.Value()))
		for _, item := range list.Value() {
			parts = append(parts, textOf(item))
		}
		return object.NewString(strings.Join(parts, sep))
	})
}

// makeIndentFn creates the "indent" host function.
//
// indent(text, prefix) → text with prefix before every non-empty line
func makeIndentFn() *object.Builtin {
	return object.NewBuiltin("indent", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("indent", 2, len(args))
		}
		text, err := toString(args[0])
		if err != nil {
			return object.Errorf("indent: text: %v", err)
		}
		prefix, err := toString(args[1])
		if err != nil {
			return object.Errorf("indent: prefix: %v", err)
		}
		lines := strings.Split(text, "\n")
		for i, l := range lines {
			if l != "" {
				lines[i] = prefix + l
			}
		}
		return object.NewString(strings.Join(lines, "\n"))
	})
}

// makePropFn creates the "prop" host function.
//
// prop(node, name[, default]) → the node's property, default, or nil
func makePropFn() *object.Builtin {
	return object.NewBuiltin("prop", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.NewArgsError("prop", 2, len(args))
		}
		node, err := extractMap(args[0])
		if err != nil {
			return object.Errorf("prop: node: %v", err)
		}
		name, err := toString(args[1])
		if err != nil {
			return object.Errorf("prop: name: %v", err)
		}
		if props, ok := node["props"].(*object.Map); ok {
			if v, ok := props.Value()[name]; ok {
				return v
			}
		}
		if len(args) == 3 {
			return args[2]
		}
		return object.Nil
	})
}

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}

// toObject converts the plain values produced by ast.Node.Generic into
// Risor objects.
func toObject(v any) object.Object {
	switch v := v.(type) {
	case nil:
		return object.Nil
	case string:
		return object.NewString(v)
	case bool:
		return object.NewBool(v)
	case int:
		return object.NewInt(int64(v))
	case int64:
		return object.NewInt(v)
	case float64:
		return object.NewFloat(v)
	case []any:
		items := make([]object.Object, len(v))
		for i, item := range v {
			items[i] = toObject(item)
		}
		return object.NewList(items)
	case map[string]any:
		m := make(map[string]object.Object, len(v))
		for k, item := range v {
			m[k] = toObject(item)
		}
		return object.NewMap(m)
	}
	return object.NewString(fmt.Sprint(v))
}

// textOf renders a Risor value as plain text; strings are not quoted.
func textOf(obj object.Object) string {
	if s, ok := obj.(*object.String); ok {
		return s.Value()
	}
	return obj.Inspect()
}
