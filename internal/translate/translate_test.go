package translate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/labels"
	"github.com/jward/surn/internal/rules"
	"github.com/jward/surn/internal/smtt"
	"github.com/jward/surn/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsRules = `
@name javascript
@types dynamic
@macro js

label AssignMut = "var" | "let"
label AssignConst = "const"

@> Program as p {
	"\n" <@ p.children
}

@> AssignMut as x {
	"let $name"
	@> x.ty {}
	if has x.value {
		" = ${x.value}"
	}
	";"
}

@> AssignConst as x {
	"const $name = ${x.value};"
}

@> VariableDeclaration as x {
	"var $name;"
}

@> CallExpression as c {
	"${c.callee}(${", " <@ c.args})"
}

@> ExpressionStatement as s {
	"${s.expr};"
}

@> ObjectStatement as o {
	if opt "objects.parse-as-class" {
		rewrite object_to_class
	} else {
		"const $name = {" ", " <@ o.properties "};"
	}
}

@> ObjectProperty as p { "$name: ${p.value}" }

@> Class as c {
	"class $name"
	if has c.extends {
		" extends ${c.extends}"
	}
	" {\n"
	"\n" <@ c.members
	"\n}"
}

@> ClassProperty as m {
	"  ${m.visibility} $name = ${m.value};"
}

@> Identifier { "$name" }
@> Literal { "$name" }

impl Identifier to! Param

@> Return as r {
	"return ${r.value ?? "undefined"};"
}

@> Function as fn {
	"function $name() {}"
	if label == "async" {
		" // async"
	}
}
`

const cRules = `
@name c
@types static
@erasure comment
@typemap string = "const char*"
@typemap number = "double"
@typemap any = "void*"

label AssignMut = "var" | "let"

@> AssignMut as x {
	"${type x} $name = ${x.value};"
}
@> Literal { "$name" }
@> Identifier { "$name" }
`

func compile(t *testing.T, src string) *Target {
	t.Helper()
	f, err := smtt.Parse("test.smtt", []byte(src))
	require.NoError(t, err)

	lr := labels.NewRegistry()
	for _, l := range f.Labels {
		require.NoError(t, lr.Define(labels.Label(l.Name), l.Tokens, f.Name))
	}
	tbl := rules.NewTable()
	for _, d := range f.Plugs {
		require.NoError(t, tbl.InstallPlug(f.Name, d.Key, rules.FromDecl(d)))
	}
	for _, d := range f.Unplugs {
		require.NoError(t, tbl.InstallUnplug(f.Name, d.Key, rules.FromDecl(d)))
	}
	for _, o := range f.Overrides {
		dir := rules.Plug
		if o.Unplug {
			dir = rules.Unplug
		}
		require.NoError(t, tbl.Override(dir, f.Name, o.From, o.To))
	}
	sys, err := types.ParseSystem(f.Types)
	require.NoError(t, err)
	er, err := types.ParseErasure(f.Erasure)
	require.NoError(t, err)
	return &Target{
		Name:    f.Name,
		Rules:   tbl.Snapshot(f.Name),
		Labels:  lr.Snapshot(f.Name),
		Types:   types.Capabilities{System: sys, TypeMap: f.TypeMap},
		Erasure: er,
		Macros:  f.Macros,
	}
}

func build(t *testing.T, kind ast.Kind, name string, props ...ast.Property) *ast.Node {
	t.Helper()
	n, err := ast.Build(kind, name, props...)
	require.NoError(t, err)
	return n
}

func prop(name string, v any) ast.Property { return ast.Property{Name: name, Value: v} }

func helloDecl(t *testing.T) *ast.Node {
	n := build(t, ast.KindVariableDeclaration, "hello",
		prop("ty", ast.TypeRef("string")),
		prop("value", ast.Lit(`"Hello, {?}"`, ast.LitString)),
	)
	n.Token = "var"
	n.Pos = diag.Pos{File: "hello.sn", Line: 1, Col: 1}
	return n
}

func program(t *testing.T, stmts ...*ast.Node) *ast.Node {
	t.Helper()
	root := ast.New(ast.KindProgram)
	for _, s := range stmts {
		require.NoError(t, root.Append(s))
	}
	return root
}

func TestTranslate_HelloScenario(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, jsRules), Options{})
	res, err := tr.Translate(context.Background(), helloDecl(t))
	require.NoError(t, err)
	assert.Equal(t, `let hello = "Hello, {?}";`, res.Output)
	assert.Empty(t, res.Diagnostics)
}

func TestTranslate_TypeErasure(t *testing.T) {
	t.Parallel()
	// The dynamic target drops the annotation entirely.
	js := New(compile(t, jsRules), Options{})
	res, err := js.Translate(context.Background(), helloDecl(t))
	require.NoError(t, err)
	assert.NotContains(t, res.Output, "string")

	// The static target maps it.
	c := New(compile(t, cRules), Options{})
	res, err = c.Translate(context.Background(), helloDecl(t))
	require.NoError(t, err)
	assert.Equal(t, `const char* hello = "Hello, {?}";`, res.Output)

	// Inferred from the initializer when undeclared.
	n := build(t, ast.KindVariableDeclaration, "n", prop("value", ast.Lit("1", ast.LitNumber)))
	n.Token = "let"
	res, err = c.Translate(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "double n = 1;", res.Output)

	// Unmapped types are boxed, keeping the source type as a comment.
	b := build(t, ast.KindVariableDeclaration, "ok", prop("value", ast.Lit("true", ast.LitBool)))
	b.Token = "var"
	res, err = c.Translate(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "void* /* bool */ ok = true;", res.Output)

	// A binding with no type at all is still declared.
	u := build(t, ast.KindVariableDeclaration, "u", prop("value", ast.Ident("y")))
	u.Token = "let"
	res, err = c.Translate(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, "void* u = y;", res.Output)
}

func TestTranslate_StaticTargetWithoutCatchAllType(t *testing.T) {
	t.Parallel()
	src := strings.Replace(cRules, "@typemap any = \"void*\"\n", "", 1)
	require.NotEqual(t, cRules, src)
	c := New(compile(t, src), Options{})

	u := build(t, ast.KindVariableDeclaration, "u", prop("value", ast.Ident("y")))
	u.Token = "let"
	res, err := c.Translate(context.Background(), u)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, diag.ErrUnsupportedConstruct))
	assert.Contains(t, err.Error(), "no @typemap any")

	res, err = New(compile(t, src), Options{Policy: Skip}).Translate(context.Background(), u)
	require.NoError(t, err)
	assert.Empty(t, res.Output)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "AssignMut", res.Diagnostics[0].Key)
}

func TestTranslate_Deterministic(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, jsRules), Options{})
	root := program(t, helloDecl(t), build(t, ast.KindCallExpression, "",
		prop("callee", ast.Ident("log")),
		prop("args", []*ast.Node{ast.Ident("a"), ast.Lit("2", ast.LitNumber)}),
	))

	first, err := tr.Translate(context.Background(), root)
	require.NoError(t, err)

	var wg sync.WaitGroup
	outs := make([]string, 16)
	for i := range outs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := tr.Translate(context.Background(), root)
			if err == nil {
				outs[i] = res.Output
			}
		}()
	}
	wg.Wait()
	for _, out := range outs {
		assert.Equal(t, first.Output, out)
	}
}

func TestTranslate_JoinPreservesOrder(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, jsRules), Options{})
	call := build(t, ast.KindCallExpression, "",
		prop("callee", ast.Ident("f")),
		prop("args", []*ast.Node{ast.Ident("a"), ast.Ident("b"), ast.Ident("c")}),
	)
	res, err := tr.Translate(context.Background(), call)
	require.NoError(t, err)
	assert.Equal(t, "f(a, b, c)", res.Output)

	empty := build(t, ast.KindCallExpression, "", prop("callee", ast.Ident("g")), prop("args", []*ast.Node{}))
	res, err = tr.Translate(context.Background(), empty)
	require.NoError(t, err)
	assert.Equal(t, "g()", res.Output)
}

func TestTranslate_OverrideByValue(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, jsRules), Options{})
	res, err := tr.Translate(context.Background(), ast.New(ast.KindParam, ast.WithName("arg")))
	require.NoError(t, err)
	assert.Equal(t, "arg", res.Output)
}

func objectStatement(t *testing.T) *ast.Node {
	return build(t, ast.KindObjectStatement, "Point",
		prop("properties", []*ast.Node{
			build(t, ast.KindObjectProperty, "x", prop("value", ast.Lit("1", ast.LitNumber))),
			build(t, ast.KindObjectProperty, "y", prop("value", ast.Lit("2", ast.LitNumber))),
		}),
	)
}

func TestTranslate_ObjectToClass(t *testing.T) {
	t.Parallel()
	target := compile(t, jsRules)

	plain := New(target, Options{})
	res, err := plain.Translate(context.Background(), objectStatement(t))
	require.NoError(t, err)
	assert.Equal(t, "const Point = {x: 1, y: 2};", res.Output)

	tr := New(target, Options{
		Custom:    map[string]string{"objects.parse-as-class": "true", BaseClassOption: "Base"},
		TargetAST: true,
	})
	obj := objectStatement(t)
	res, err = tr.Translate(context.Background(), program(t, obj))
	require.NoError(t, err)
	assert.Equal(t, "class Point extends Base {\n  public x = 1;\n  public y = 2;\n}", res.Output)

	// The target tree carries the synthesized class in the object's place.
	require.NotNil(t, res.Target)
	cls := res.Target.ChildList()[0]
	assert.Equal(t, ast.KindClass, cls.Kind)
	assert.Same(t, res.Target, cls.Parent())
	members, err := cls.List("members")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "number", members[0].Type().Name)
	assert.Equal(t, VisibilityPublic, members[0].PropOr("visibility", ""))

	// The source tree is untouched.
	assert.Equal(t, ast.KindObjectStatement, obj.Kind)
}

func TestTranslate_AbortDiscardsOutput(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, jsRules), Options{Policy: Abort})
	bad := ast.New(ast.KindAwaitExpression, ast.WithPos(diag.Pos{File: "a.sn", Line: 2, Col: 3}))
	root := program(t, helloDecl(t), build(t, ast.KindExpressionStatement, "", prop("expr", bad)))

	res, err := tr.Translate(context.Background(), root)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, diag.ErrUnsupportedConstruct))
	d := diag.FromError(err)
	assert.Equal(t, "AwaitExpression", d.Key)
	assert.Equal(t, 2, d.Pos.Line)
}

func TestTranslate_SkipRecordsDiagnostics(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, jsRules), Options{Policy: Skip})
	bad := ast.New(ast.KindAwaitExpression, ast.WithPos(diag.Pos{Line: 2, Col: 3}))
	root := program(t, helloDecl(t), bad, ast.Ident("tail"))

	res, err := tr.Translate(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, "let hello = \"Hello, {?}\";\ntail", res.Output)
	require.Len(t, res.Diagnostics, 1)
	d := res.Diagnostics[0]
	assert.Equal(t, "unsupported-construct", d.Code)
	assert.Equal(t, diag.SeverityWarning, d.Severity)
	assert.Equal(t, "AwaitExpression", d.Key)
	assert.Equal(t, 2, d.Pos.Line)
}

func TestTranslate_MissingProperty(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, jsRules), Options{})

	// A const without initializer has no default to fall back on.
	c := ast.New(ast.KindVariableDeclaration, ast.WithName("k"), ast.WithToken("const"))
	_, err := tr.Translate(context.Background(), c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrUnsupportedConstruct))
	assert.True(t, errors.Is(err, diag.ErrMissingProperty))

	// A declared default applies.
	res, err := tr.Translate(context.Background(), ast.New(ast.KindReturn))
	require.NoError(t, err)
	assert.Equal(t, "return undefined;", res.Output)
}

func TestTranslate_MissingNestedAndJoinPaths(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"nested plug", `"call(" @> c.argz as a { "${a.name}" } ")"`},
		{"join", `"call(" ", " <@ c.argss ")"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := New(compile(t, "@name js\n@> CallExpression as c {\n\t"+tt.body+"\n}\n"), Options{})
			call := ast.New(ast.KindCallExpression, ast.WithName("f"))
			require.NoError(t, call.Set("args", []*ast.Node{ast.Ident("a")}))

			res, err := tr.Translate(context.Background(), call)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, diag.ErrUnsupportedConstruct))
			assert.True(t, errors.Is(err, diag.ErrMissingProperty))
		})
	}
}

func TestTranslate_DispatchPrecedence(t *testing.T) {
	t.Parallel()
	target := compile(t, jsRules)
	n := ast.New(ast.KindVariableDeclaration, ast.WithName("v"), ast.WithToken("let"))

	res, err := New(target, Options{Precedence: LabelFirst}).Translate(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "let v;", res.Output)

	res, err = New(target, Options{Precedence: KindFirst}).Translate(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "var v;", res.Output)

	// Unbound tokens fall back to the kind rule.
	n.Token = "auto"
	res, err = New(target, Options{}).Translate(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, "var v;", res.Output)
}

func TestTranslate_LabelCondition(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, jsRules), Options{})
	fn := ast.New(ast.KindFunction, ast.WithName("f"), ast.WithToken("async"))
	res, err := tr.Translate(context.Background(), fn)
	require.NoError(t, err)
	assert.Equal(t, "function f() {} // async", res.Output)
}

func TestTranslate_DepthLimit(t *testing.T) {
	t.Parallel()
	target := compile(t, `@name loop @> Identifier as i { "${i}" }`)
	_, err := New(target, Options{MaxDepth: 8}).Translate(context.Background(), ast.Ident("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrDepthExceeded))

	// Depth overruns abort even under Skip.
	_, err = New(target, Options{MaxDepth: 8, Policy: Skip}).Translate(context.Background(), ast.Ident("x"))
	assert.True(t, errors.Is(err, diag.ErrDepthExceeded))
}

func TestTranslate_Macro(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, jsRules), Options{})
	m := build(t, ast.KindMacroInvocation, "js", prop("body", "console.log(1)"))
	res, err := tr.Translate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", res.Output)

	other := build(t, ast.KindMacroInvocation, "php", prop("body", "echo 1;"))
	_, err = tr.Translate(context.Background(), other)
	assert.True(t, errors.Is(err, diag.ErrUnsupportedConstruct))
}

func TestTranslate_Canceled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(compile(t, jsRules), Options{}).Translate(ctx, helloDecl(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranslate_CustomSynthesizer(t *testing.T) {
	t.Parallel()
	target := compile(t, `@name t @> Identifier { rewrite shout } @> Literal { "$name!" }`)
	tr := New(target, Options{Synthesizers: map[string]Synthesizer{
		"shout": func(_ *SynthEnv, n *ast.Node) (*ast.Node, error) {
			return ast.Lit(n.Name, ast.LitString), nil
		},
	}})
	res, err := tr.Translate(context.Background(), ast.Ident("hey"))
	require.NoError(t, err)
	assert.Equal(t, "hey!", res.Output)

	_, err = New(compile(t, `@name t @> Identifier { rewrite nope }`), Options{}).Translate(context.Background(), ast.Ident("x"))
	assert.True(t, errors.Is(err, diag.ErrUnsupportedConstruct))
}

const unplugRules = `
@name javascript
label AssignMut = "var" | "let"
label AssignConst = "const"

<@ lexical_declaration as d {
	node VariableDeclaration
	set name = "${d.variable_declarator.name}"
	set value = d.variable_declarator.value
	if label == "const" {
		set token = "const"
	} else {
		set token = "var"
	}
}

<@ number as n {
	node Literal
	set name = "$name"
	set lit = "number"
}
`

func TestUnplug(t *testing.T) {
	t.Parallel()
	tr := New(compile(t, unplugRules), Options{})

	decl := ast.New("lexical_declaration", ast.WithToken("let"), ast.WithPos(diag.Pos{Line: 1, Col: 1}))
	declarator := ast.New("variable_declarator")
	require.NoError(t, declarator.Set("name", ast.New("identifier", ast.WithName("x"))))
	require.NoError(t, declarator.Set("value", ast.New("number", ast.WithName("42"))))
	require.NoError(t, decl.Append(declarator))

	n, err := tr.Unplug(context.Background(), decl)
	require.NoError(t, err)
	assert.Equal(t, ast.KindVariableDeclaration, n.Kind)
	assert.Equal(t, "x", n.Name)
	assert.Equal(t, "var", n.Token)
	assert.Equal(t, 1, n.Pos.Line)
	v, err := n.NodeProp("value")
	require.NoError(t, err)
	assert.Equal(t, ast.KindLiteral, v.Kind)
	assert.Equal(t, "42", v.Name)
	assert.Equal(t, types.SemanticType{Tag: types.Inferred, Name: "number", From: ast.KindLiteral}, types.TypeOf(n))

	// A node with no unplug rule is unsupported.
	_, err = tr.Unplug(context.Background(), ast.New("comment"))
	assert.True(t, errors.Is(err, diag.ErrUnsupportedConstruct))
}
