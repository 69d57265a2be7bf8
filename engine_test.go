package surn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/metrics"
	"github.com/jward/surn/internal/runtime"
	"github.com/jward/surn/internal/store"
)

// newLoadedEngine creates an Engine with the bundled languages registered.
func newLoadedEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.LoadDefaults(context.Background()))
	return e
}

// newCachedEngine is newLoadedEngine with a cache at dbPath.
func newCachedEngine(t *testing.T, dbPath string, opts ...Option) *Engine {
	t.Helper()
	return newLoadedEngine(t, append([]Option{WithCache(dbPath)}, opts...)...)
}

// helloDecl returns `var <name>: string = "Hello, {?}"`.
func helloDecl(t *testing.T, name string) *ast.Node {
	t.Helper()
	decl := ast.New(ast.KindVariableDeclaration, ast.WithName(name), ast.WithToken("var"))
	require.NoError(t, decl.Set("ty", ast.TypeRef("string")))
	require.NoError(t, decl.Set("value", ast.Lit(`"Hello, {?}"`, ast.LitString)))
	return decl
}

func program(t *testing.T, stmts ...*ast.Node) *ast.Node {
	t.Helper()
	root := ast.New(ast.KindProgram)
	for _, s := range stmts {
		require.NoError(t, root.Append(s))
	}
	return root
}

func hello(t *testing.T) *ast.Node {
	return program(t, helloDecl(t, "hello"))
}

// counterValue reads one counter series from reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// --- Construction ---

func TestNew_WithoutCache(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	defer e.Close()

	assert.Nil(t, e.Store())
	assert.Empty(t, e.Languages())
	_, err = e.Query().Stats()
	assert.ErrorIs(t, err, ErrCacheDisabled)
}

func TestNew_WithCacheCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", ".surn", "cache.db")
	e, err := New(WithCache(dbPath))
	require.NoError(t, err)
	defer e.Close()

	require.NotNil(t, e.Store())
	assert.FileExists(t, dbPath)

	// Migration ran.
	stats, err := e.Query().Stats()
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestNew_InvalidCachePath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(WithCache(filepath.Join(file, "cache.db")))
	require.Error(t, err)
}

func TestClose(t *testing.T) {
	e, err := New(WithCache(filepath.Join(t.TempDir(), "cache.db")))
	require.NoError(t, err)
	require.NoError(t, e.Close())

	plain, err := New()
	require.NoError(t, err)
	require.NoError(t, plain.Close())
}

// --- Languages ---

func TestLoadDefaults_RegistersBundledLanguages(t *testing.T) {
	e := newLoadedEngine(t)

	var names []string
	for _, d := range e.Languages() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"c", "javascript", "lua", "php"}, names)

	lua, err := e.Language("lua")
	require.NoError(t, err)
	assert.True(t, lua.IsExtension())
	assert.True(t, lua.ThreadingAllowed)

	c, err := e.Language("c")
	require.NoError(t, err)
	assert.False(t, c.IsExtension())
	assert.False(t, c.ThreadingAllowed)

	php, err := e.Language("php")
	require.NoError(t, err)
	assert.Equal(t, "Suruloon Studios", php.Author)
	assert.Equal(t, "8.0.0", php.Version.String())

	for file, want := range map[string]string{"main.mjs": "javascript", "x.h": "c", "init.lua": "lua", "index.php": "php"} {
		got, ok := e.LanguageForFile(file)
		assert.True(t, ok, file)
		assert.Equal(t, want, got, file)
	}
	_, ok := e.LanguageForFile("README.md")
	assert.False(t, ok)
}

func TestLoadDefaults_CustomFS(t *testing.T) {
	fsys := fstest.MapFS{
		"tiny.smtt":   {Data: []byte("@name tiny\n@> Program { \"tiny\" }\n")},
		"broken.smtt": {Data: []byte("@> Program { \"no name\" }\n")},
	}
	e, err := New(WithMappingsFS(fsys), WithExtensionsFS(nil))
	require.NoError(t, err)
	defer e.Close()

	err = e.LoadDefaults(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "@name")

	// The valid definition is registered regardless.
	require.Len(t, e.Languages(), 1)
	res, err := e.Translate(context.Background(), "tiny", Source{Root: program(t)})
	require.NoError(t, err)
	assert.Equal(t, "tiny", res.Output)
}

func TestLoadMappingSource_ErrorKeepsPreviousDefinition(t *testing.T) {
	col := metrics.NewCollector(nil)
	e := newLoadedEngine(t, WithMetrics(col))
	ctx := context.Background()

	err := e.LoadMappingSource("javascript.smtt", []byte("@name javascript\n@> Program {\n"))
	require.Error(t, err)

	res, err := e.Translate(ctx, "javascript", Source{Root: hello(t)})
	require.NoError(t, err)
	assert.Equal(t, `let hello = "Hello, {?}";`, res.Output)

	assert.Equal(t, 1.0, counterValue(t, col.Registry(), "surn_language_reloads_total",
		map[string]string{"language": "javascript", "status": metrics.StatusOK}))
	assert.Equal(t, 1.0, counterValue(t, col.Registry(), "surn_language_reloads_total",
		map[string]string{"status": metrics.StatusFailed}))
}

func TestLoad_FilesAndDirectories(t *testing.T) {
	e, err := New(WithMappingsFS(nil), WithExtensionsFS(nil))
	require.NoError(t, err)
	defer e.Close()
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.smtt"), []byte("@name one\n@> Program { \"1\" }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	hidden := filepath.Join(dir, ".hidden")
	require.NoError(t, os.Mkdir(hidden, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hidden, "two.smtt"), []byte("@name two\n@> Program { \"2\" }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shout.risor"), []byte(`
func register() {
	return {"name": "shout", "version": "0.1.0", "api_version": 1, "file_types": ["shout"]}
}

func transform(node) {
	return "PROGRAM WITH " + string(len(node["children"])) + " STATEMENT(S)"
}
`), 0o644))

	require.NoError(t, e.Load(ctx, dir))
	var names []string
	for _, d := range e.Languages() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"one", "shout"}, names)

	res, err := e.Translate(ctx, "shout", Source{Root: hello(t)})
	require.NoError(t, err)
	assert.Equal(t, "PROGRAM WITH 1 STATEMENT(S)", res.Output)

	err = e.Load(ctx, filepath.Join(dir, "notes.txt"))
	assert.ErrorContains(t, err, "not a mapping definition or extension script")
	assert.Error(t, e.Load(ctx, filepath.Join(dir, "missing.smtt")))
}

func TestLoadExtension_Native(t *testing.T) {
	e := newLoadedEngine(t)
	ctx := context.Background()

	ext := &Native{
		Registration: Registration{Name: "names", APIVersion: runtime.APIVersion, ThreadingAllowed: true},
		Func: func(ctx context.Context, root *Node) (string, error) {
			var names []string
			for _, c := range root.ChildList() {
				names = append(names, c.Name)
			}
			return strings.Join(names, ","), nil
		},
	}
	require.NoError(t, e.LoadExtension(ctx, ext, "native"))

	desc, err := e.Language("names")
	require.NoError(t, err)
	assert.Equal(t, "native:names@0.0.0", desc.RulesHash)

	res, err := e.Translate(ctx, "names", Source{Root: program(t, helloDecl(t, "a"), helloDecl(t, "b"))})
	require.NoError(t, err)
	assert.Equal(t, "a,b", res.Output)

	bad := &Native{Registration: Registration{Name: "old", APIVersion: 0}}
	err = e.LoadExtension(ctx, bad, "native")
	assert.ErrorIs(t, err, diag.ErrIncompatibleExtension)
}

func TestUnregister(t *testing.T) {
	e := newLoadedEngine(t)

	assert.True(t, e.Unregister("php"))
	assert.False(t, e.Unregister("php"))

	_, err := e.Translate(context.Background(), "php", Source{Root: hello(t)})
	assert.ErrorIs(t, err, diag.ErrLanguageNotFound)
}

// --- Translation ---

func TestTranslate_ResultMetadata(t *testing.T) {
	e := newLoadedEngine(t)

	res, err := e.Translate(context.Background(), "javascript", Source{Path: "hello.sn", Root: hello(t)})
	require.NoError(t, err)
	assert.Equal(t, "hello.sn", res.Path)
	assert.Equal(t, "javascript", res.Language)
	assert.Equal(t, `let hello = "Hello, {?}";`, res.Output)
	assert.False(t, res.Cached)
	assert.False(t, res.Failed())
	assert.Empty(t, res.Diagnostics)
	assert.Nil(t, res.Target)
	_, err = uuid.Parse(res.PassID)
	assert.NoError(t, err)
}

func TestTranslate_UnknownLanguage(t *testing.T) {
	e := newLoadedEngine(t)

	res, err := e.Translate(context.Background(), "cobol", Source{Path: "a.sn", Root: hello(t)})
	require.ErrorIs(t, err, diag.ErrLanguageNotFound)
	require.NotNil(t, res)
	assert.True(t, res.Failed())
	assert.Empty(t, res.Output)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "a.sn", res.Diagnostics[0].Pos.File)
}

func TestTranslate_NilRoot(t *testing.T) {
	e := newLoadedEngine(t)
	res, err := e.Translate(context.Background(), "javascript", Source{})
	require.Error(t, err)
	assert.True(t, res.Failed())
}

func TestTranslate_AbortVersusSkip(t *testing.T) {
	ctx := context.Background()
	unsupported := func() *ast.Node {
		return ast.New(ast.KindNamespace, ast.WithName("ns"), ast.WithPos(diag.Pos{Line: 3, Col: 1}))
	}

	abort := newLoadedEngine(t)
	res, err := abort.Translate(ctx, "javascript", Source{Path: "a.sn", Root: program(t, helloDecl(t, "hello"), unsupported())})
	require.ErrorIs(t, err, diag.ErrUnsupportedConstruct)
	assert.Empty(t, res.Output)
	require.NotEmpty(t, res.Diagnostics)
	d := res.Diagnostics[len(res.Diagnostics)-1]
	assert.Equal(t, diag.SeverityError, d.Severity)
	assert.Equal(t, "Namespace", d.Key)
	assert.Equal(t, diag.Pos{File: "a.sn", Line: 3, Col: 1}, d.Pos)

	skip := newLoadedEngine(t, WithPolicy(Skip))
	res, err = skip.Translate(ctx, "javascript", Source{Path: "a.sn", Root: program(t, helloDecl(t, "hello"), unsupported())})
	require.NoError(t, err)
	assert.Equal(t, `let hello = "Hello, {?}";`, res.Output)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.SeverityWarning, res.Diagnostics[0].Severity)
	assert.Equal(t, "Namespace", res.Diagnostics[0].Key)
}

func TestTranslate_ExtensionFailure(t *testing.T) {
	e := newLoadedEngine(t)
	root := program(t, ast.New(ast.KindNamespace, ast.WithName("ns")))

	res, err := e.Translate(context.Background(), "lua", Source{Root: root})
	require.ErrorIs(t, err, diag.ErrExtensionFailed)
	assert.Contains(t, err.Error(), "Namespace")
	assert.Empty(t, res.Output)
}

func TestTranslate_CustomOptionsObjectToClass(t *testing.T) {
	e := newLoadedEngine(t, WithCustomOptions(map[string]string{
		"objects.parse-as-class": "true",
		"objects.base":           "Base",
	}), WithTargetAST(true))

	obj := ast.New(ast.KindObjectStatement, ast.WithName("Point"))
	x := ast.New(ast.KindObjectProperty, ast.WithName("x"))
	require.NoError(t, x.Set("value", ast.Lit("1", ast.LitNumber)))
	require.NoError(t, obj.Set("properties", []*ast.Node{x}))

	res, err := e.Translate(context.Background(), "javascript", Source{Root: program(t, obj)})
	require.NoError(t, err)
	assert.Equal(t, "class Point extends Base {\n  x = 1;\n}", res.Output)
	require.NotNil(t, res.Target)
	assert.Equal(t, ast.KindClass, res.Target.ChildList()[0].Kind)
}

func TestTranslate_ObjectToClassTypedPropertiesWithoutValues(t *testing.T) {
	e := newLoadedEngine(t, WithCustomOptions(map[string]string{
		"objects.parse-as-class": "true",
		"objects.base":           "Base",
	}))

	point := func(t *testing.T) *ast.Node {
		obj := ast.New(ast.KindObjectStatement, ast.WithName("Point"))
		var props []*ast.Node
		for _, name := range []string{"x", "y"} {
			p := ast.New(ast.KindObjectProperty, ast.WithName(name))
			require.NoError(t, p.Set("ty", ast.TypeRef("number")))
			props = append(props, p)
		}
		require.NoError(t, obj.Set("properties", props))
		return obj
	}

	for lang, want := range map[string]string{
		"javascript": "class Point extends Base {\n  x;\n  y;\n}",
		"php":        "<?php\n\nclass Point extends Base\n{\n    public $x;\n    public $y;\n}",
		"c":          "struct Point {\n    double x;\n    double y;\n};",
	} {
		t.Run(lang, func(t *testing.T) {
			res, err := e.Translate(context.Background(), lang, Source{Root: program(t, point(t))})
			require.NoError(t, err)
			assert.Equal(t, want, res.Output)
			assert.Empty(t, res.Diagnostics)
		})
	}
}

func TestTranslate_CDeclarationsAlwaysCarryAType(t *testing.T) {
	e := newLoadedEngine(t)

	tests := []struct {
		name string
		node func(t *testing.T) *ast.Node
		want string
	}{
		{"int binding", func(t *testing.T) *ast.Node {
			decl := ast.New(ast.KindVariableDeclaration, ast.WithName("x"), ast.WithToken("var"))
			require.NoError(t, decl.Set("ty", ast.TypeRef("int")))
			require.NoError(t, decl.Set("value", ast.Lit("1", ast.LitNumber)))
			return decl
		}, "int x = 1;"},
		{"untyped binding", func(t *testing.T) *ast.Node {
			call := ast.New(ast.KindCallExpression)
			require.NoError(t, call.Set("callee", ast.Ident("f")))
			decl := ast.New(ast.KindVariableDeclaration, ast.WithName("y"), ast.WithToken("let"))
			require.NoError(t, decl.Set("value", call))
			return decl
		}, "void* y = f();"},
		{"null initializer", func(t *testing.T) *ast.Node {
			decl := ast.New(ast.KindVariableDeclaration, ast.WithName("n"), ast.WithToken("var"))
			require.NoError(t, decl.Set("value", ast.Lit("null", ast.LitNull)))
			return decl
		}, "void* /* null */ n = null;"},
		{"untyped param", func(t *testing.T) *ast.Node {
			fn := ast.New(ast.KindFunction, ast.WithName("g"))
			require.NoError(t, fn.Set("params", []*ast.Node{ast.New(ast.KindParam, ast.WithName("a"))}))
			return fn
		}, "void g(void* a)\n{\n}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Translate(context.Background(), "c", Source{Root: program(t, tt.node(t))})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Output)
		})
	}
}

func TestTranslate_EmptyListsAndMissingLists(t *testing.T) {
	e := newLoadedEngine(t)

	tick := func(t *testing.T) *ast.Node {
		call := ast.New(ast.KindCallExpression)
		require.NoError(t, call.Set("callee", ast.Ident("tick")))
		stmt := ast.New(ast.KindExpressionStatement)
		require.NoError(t, stmt.Set("expr", call))
		return stmt
	}

	for lang, want := range map[string]string{
		"javascript": "tick();",
		"php":        "<?php\n\ntick();",
		"c":          "tick();",
	} {
		t.Run(lang, func(t *testing.T) {
			res, err := e.Translate(context.Background(), lang, Source{Root: program(t, tick(t))})
			require.NoError(t, err)
			assert.Equal(t, want, res.Output)
		})
	}
}

func TestTranslate_WithSynthesizer(t *testing.T) {
	e, err := New(
		WithMappingsFS(fstest.MapFS{"tiny.smtt": {Data: []byte(
			"@name tiny\n@> Program as p { \"\\n\" <@ p.children }\n@> Identifier { rewrite shout }\n@> Literal { \"$name\" }\n",
		)}}),
		WithExtensionsFS(nil),
		WithSynthesizer("shout", func(env *SynthEnv, n *Node) (*Node, error) {
			return ast.Lit(strings.ToUpper(n.Name)+"!", ast.LitString), nil
		}),
	)
	require.NoError(t, err)
	defer e.Close()
	require.NoError(t, e.LoadDefaults(context.Background()))

	res, err := e.Translate(context.Background(), "tiny", Source{Root: program(t, ast.Ident("hey"), ast.Ident("you"))})
	require.NoError(t, err)
	assert.Equal(t, "HEY!\nYOU!", res.Output)
}

func TestTranslate_Validation(t *testing.T) {
	ctx := context.Background()
	e := newLoadedEngine(t, WithValidation(true))

	res, err := e.Translate(ctx, "javascript", Source{Path: "ok.sn", Root: hello(t)})
	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)

	broken := "@name javascript\nlabel AssignMut = \"var\"\n@> Program as p { \"\\n\" <@ p.children }\n@> AssignMut { \"let $name = = ;\" }\n"
	require.NoError(t, e.LoadMappingSource("broken.smtt", []byte(broken)))

	res, err = e.Translate(ctx, "javascript", Source{Path: "bad.sn", Root: hello(t)})
	require.NoError(t, err, "syntax problems in the output are warnings")
	assert.Equal(t, "let hello = = ;", res.Output)
	require.NotEmpty(t, res.Diagnostics)
	for _, d := range res.Diagnostics {
		assert.Equal(t, diag.SeverityWarning, d.Severity)
		assert.Equal(t, "bad.sn", d.Pos.File)
	}

	// Valid extension output carries no warnings either.
	res, err = e.Translate(ctx, "lua", Source{Root: hello(t)})
	require.NoError(t, err)
	assert.Empty(t, res.Diagnostics)
}

func TestTranslate_Canceled(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	e := newCachedEngine(t, dbPath)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Translate(ctx, "javascript", Source{Path: "hello.sn", Root: hello(t)})
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)

	// Canceled passes are not recorded.
	units, err := e.Query().Units("javascript")
	require.NoError(t, err)
	assert.Empty(t, units)
}

// --- Cache ---

func TestTranslate_CacheHit(t *testing.T) {
	col := metrics.NewCollector(nil)
	e := newCachedEngine(t, filepath.Join(t.TempDir(), "cache.db"), WithMetrics(col))
	ctx := context.Background()
	src := Source{Path: "hello.sn", Root: hello(t)}

	first, err := e.Translate(ctx, "javascript", src)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := e.Translate(ctx, "javascript", src)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Output, second.Output)
	assert.NotEqual(t, first.PassID, second.PassID)

	report, err := e.Query().Unit("hello.sn", "javascript")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, store.StatusOK, report.Unit.Status)
	assert.Equal(t, first.PassID, report.Unit.PassID)

	reg := col.Registry()
	assert.Equal(t, 1.0, counterValue(t, reg, "surn_cache_hits_total", map[string]string{"language": "javascript"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "surn_cache_misses_total", map[string]string{"language": "javascript"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "surn_passes_total", map[string]string{"language": "javascript", "status": metrics.StatusOK}))
	assert.Equal(t, 1.0, counterValue(t, reg, "surn_passes_total", map[string]string{"language": "javascript", "status": metrics.StatusCached}))
}

func TestTranslate_CacheMissesOnChangedInputs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	e := newCachedEngine(t, dbPath)
	_, err := e.Translate(ctx, "javascript", Source{Path: "hello.sn", Root: hello(t)})
	require.NoError(t, err)

	// A different AST under the same path.
	res, err := e.Translate(ctx, "javascript", Source{Path: "hello.sn", Root: program(t, helloDecl(t, "bye"))})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, `let bye = "Hello, {?}";`, res.Output)

	// Units without a path are never cached.
	res, err = e.Translate(ctx, "javascript", Source{Root: hello(t)})
	require.NoError(t, err)
	res, err = e.Translate(ctx, "javascript", Source{Root: hello(t)})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	require.NoError(t, e.Close())

	// The cache survives the engine; other options miss it.
	same := newCachedEngine(t, dbPath)
	res, err = same.Translate(ctx, "javascript", Source{Path: "hello.sn", Root: program(t, helloDecl(t, "bye"))})
	require.NoError(t, err)
	assert.True(t, res.Cached)

	skip := newCachedEngine(t, dbPath, WithPolicy(Skip))
	res, err = skip.Translate(ctx, "javascript", Source{Path: "hello.sn", Root: program(t, helloDecl(t, "bye"))})
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestTranslate_RulesChangeInvalidatesCache(t *testing.T) {
	e := newCachedEngine(t, filepath.Join(t.TempDir(), "cache.db"))
	ctx := context.Background()
	src := Source{Path: "hello.sn", Root: hello(t)}

	_, err := e.Translate(ctx, "javascript", src)
	require.NoError(t, err)
	_, err = e.Translate(ctx, "php", src)
	require.NoError(t, err)

	legacy := "@name javascript\nlabel AssignMut = \"var\" | \"let\"\n@> Program as p { \"\\n\" <@ p.children }\n@> AssignMut as x { \"var $name = ${x.value};\" }\n@> Literal { \"$name\" }\n"
	require.NoError(t, e.LoadMappingSource("legacy.smtt", []byte(legacy)))

	units, err := e.Query().Units("javascript")
	require.NoError(t, err)
	assert.Empty(t, units, "javascript units are dropped")
	units, err = e.Query().Units("php")
	require.NoError(t, err)
	assert.Len(t, units, 1, "other languages are kept")

	res, err := e.Translate(ctx, "javascript", src)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, `var hello = "Hello, {?}";`, res.Output)
}

func TestTranslate_FailuresAreRecordedNotServed(t *testing.T) {
	e := newCachedEngine(t, filepath.Join(t.TempDir(), "cache.db"))
	ctx := context.Background()
	src := Source{Path: "bad.sn", Root: program(t, ast.New(ast.KindNamespace, ast.WithName("ns")))}

	_, err := e.Translate(ctx, "javascript", src)
	require.Error(t, err)

	failures, err := e.Query().Failures()
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "bad.sn", failures[0].Unit.Path)
	require.NotEmpty(t, failures[0].Diagnostics)
	assert.Equal(t, diag.Code(diag.ErrUnsupportedConstruct), failures[0].Diagnostics[0].Code)

	// A failed unit is translated again rather than served.
	res, err := e.Translate(ctx, "javascript", src)
	require.Error(t, err)
	assert.False(t, res.Cached)

	stats, err := e.Query().Stats()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, LanguageStats{Language: "javascript", Failed: 1, Diagnostics: 1}, stats[0])
}

func TestTranslate_TargetASTBypassesCache(t *testing.T) {
	e := newCachedEngine(t, filepath.Join(t.TempDir(), "cache.db"), WithTargetAST(true))
	ctx := context.Background()

	res, err := e.Translate(ctx, "javascript", Source{Path: "hello.sn", Root: hello(t)})
	require.NoError(t, err)
	require.NotNil(t, res.Target)

	units, err := e.Query().Units("javascript")
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestQuery_InvalidateAndForget(t *testing.T) {
	e := newCachedEngine(t, filepath.Join(t.TempDir(), "cache.db"))
	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		_, err := e.Translate(ctx, "javascript", Source{Path: name + ".sn", Root: program(t, helloDecl(t, name))})
		require.NoError(t, err)
	}
	q := e.Query()

	require.NoError(t, q.Forget("a.sn", "javascript"))
	report, err := q.Unit("a.sn", "javascript")
	require.NoError(t, err)
	assert.Nil(t, report)

	n, err := q.Invalidate("javascript")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	units, err := q.Units("javascript")
	require.NoError(t, err)
	assert.Empty(t, units)
}

// --- Unplug ---

func TestUnplugSource_RoundTrip(t *testing.T) {
	e := newLoadedEngine(t)
	ctx := context.Background()

	root, err := e.UnplugSource(ctx, "javascript", []byte("const answer = 42;\n"))
	require.NoError(t, err)
	assert.Equal(t, ast.KindProgram, root.Kind)
	require.Equal(t, 1, root.Len())
	decl := root.ChildList()[0]
	assert.Equal(t, ast.KindVariableDeclaration, decl.Kind)
	assert.Equal(t, "answer", decl.Name)
	assert.Equal(t, "const", decl.Token)

	res, err := e.Translate(ctx, "javascript", Source{Root: root})
	require.NoError(t, err)
	assert.Equal(t, "const answer = 42;", res.Output)
}

func TestUnplug_ExtensionLanguage(t *testing.T) {
	e := newLoadedEngine(t)
	_, err := e.Unplug(context.Background(), "lua", hello(t))
	assert.ErrorIs(t, err, diag.ErrUnsupportedConstruct)
}

func TestUnplugSource_UnknownLanguage(t *testing.T) {
	e := newLoadedEngine(t)
	_, err := e.UnplugSource(context.Background(), "cobol", []byte("MOVE 1 TO X."))
	assert.Error(t, err)
}

// --- Parallel translation ---

func namedUnits(t *testing.T, n int) []Source {
	t.Helper()
	srcs := make([]Source, n)
	for i := range srcs {
		name := fmt.Sprintf("v%d", i)
		srcs[i] = Source{Path: name + ".sn", Root: program(t, helloDecl(t, name))}
	}
	return srcs
}

func TestTranslateAll_ParallelKeepsInputOrder(t *testing.T) {
	e := newCachedEngine(t, filepath.Join(t.TempDir(), "cache.db"), WithWorkers(4))
	srcs := namedUnits(t, 12)

	results, err := e.TranslateAll(context.Background(), "javascript", srcs)
	require.NoError(t, err)
	require.Len(t, results, len(srcs))
	for i, r := range results {
		assert.Equal(t, srcs[i].Path, r.Path)
		assert.Equal(t, fmt.Sprintf(`let v%d = "Hello, {?}";`, i), r.Output)
	}

	// Every unit was committed by the single writer.
	units, err := e.Query().Units("javascript")
	require.NoError(t, err)
	assert.Len(t, units, len(srcs))

	// And is served from the cache next time.
	results, err = e.TranslateAll(context.Background(), "javascript", srcs)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Cached, r.Path)
	}
}

func TestTranslateAll_SerialMatchesParallel(t *testing.T) {
	ctx := context.Background()
	srcs := namedUnits(t, 5)

	parallel, err := newLoadedEngine(t).TranslateAll(ctx, "php", srcs)
	require.NoError(t, err)
	serial, err := newLoadedEngine(t, WithParallel(false)).TranslateAll(ctx, "php", srcs)
	require.NoError(t, err)

	for i := range srcs {
		assert.Equal(t, parallel[i].Output, serial[i].Output)
	}
}

func TestTranslateAll_ExclusiveLanguage(t *testing.T) {
	e := newLoadedEngine(t, WithWorkers(4))
	srcs := namedUnits(t, 8)

	results, err := e.TranslateAll(context.Background(), "c", srcs)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf(`const char* v%d = "Hello, {?}";`, i), r.Output)
	}
}

func TestTranslateAll_ReportsFailures(t *testing.T) {
	e := newLoadedEngine(t)
	srcs := namedUnits(t, 4)
	srcs[2].Root = program(t, ast.New(ast.KindNamespace, ast.WithName("ns")))

	results, err := e.TranslateAll(context.Background(), "javascript", srcs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 4 unit(s) failed")
	assert.Contains(t, err.Error(), "v2.sn")
	assert.True(t, results[2].Failed())
	assert.Empty(t, results[2].Output)
	assert.Equal(t, `let v3 = "Hello, {?}";`, results[3].Output)
}
