package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/surn/internal/ast"
	"github.com/jward/surn/internal/diag"
	"github.com/jward/surn/internal/rules"
	"github.com/jward/surn/internal/runtime"
	"github.com/jward/surn/internal/smtt"
	"github.com/jward/surn/internal/types"
)

const jsMapping = `
@name javascript
@description "JavaScript (ES2015+)"
@author "surn"
@version 1.0.0
@file_type js mjs
@types dynamic

label AssignMut = "var" | "let"
label Assign = "const"

@> AssignMut as x { "let $name = ${x.value};" }
@> Assign as x { "const $name = ${x.value};" }
@> Literal { "$name" }
`

func compile(t *testing.T, name, src string) *Descriptor {
	t.Helper()
	f, err := smtt.Parse(name, []byte(src))
	require.NoError(t, err)
	d, err := FromMapping(f)
	require.NoError(t, err)
	return d
}

func TestFromMapping(t *testing.T) {
	t.Parallel()

	d := compile(t, "javascript.smtt", jsMapping)
	assert.Equal(t, "javascript", d.Name)
	assert.Equal(t, "JavaScript (ES2015+)", d.Description)
	assert.Equal(t, "surn", d.Author)
	assert.Equal(t, runtime.Version{Major: 1}, d.Version)
	assert.Equal(t, []string{"js", "mjs"}, d.FileTypes)
	assert.True(t, d.ThreadingAllowed)
	assert.Equal(t, types.Dynamic, d.Types.System)
	assert.False(t, d.IsExtension())
	assert.Equal(t, "javascript.smtt", d.Source)
	assert.NotEmpty(t, d.RulesHash)

	assert.Equal(t, 3, d.Rules.Len(rules.Plug))
	l, ok := d.Labels.Resolve("let")
	require.True(t, ok)
	assert.Equal(t, "AssignMut", string(l))

	target := d.Target()
	assert.Equal(t, "javascript", target.Name)
	assert.Same(t, d.Rules, target.Rules)
}

func TestFromMapping_HashTracksLabels(t *testing.T) {
	t.Parallel()

	a := compile(t, "a.smtt", jsMapping)
	b := compile(t, "b.smtt", jsMapping+"\nlabel Extra = \"static\"\n")
	assert.Equal(t, a.Rules.Hash(), b.Rules.Hash())
	assert.NotEqual(t, a.RulesHash, b.RulesHash)

	again := compile(t, "c.smtt", jsMapping)
	assert.Equal(t, a.RulesHash, again.RulesHash)
}

func TestFromMapping_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want error
		line int
	}{
		{
			name: "duplicate label binding",
			src:  "@name x\nlabel A = \"var\"\nlabel B = \"var\"\n",
			want: diag.ErrDuplicateLabelBinding,
			line: 3,
		},
		{
			name: "rule conflict",
			src:  "@name x\n@> Literal { \"a\" }\n@> Literal { \"b\" }\n",
			want: diag.ErrRuleConflict,
			line: 3,
		},
		{
			name: "override of unknown rule",
			src:  "@name x\nimpl Nope to! Literal\n",
			want: diag.ErrRuleNotFound,
			line: 2,
		},
		{
			name: "missing name",
			src:  "@> Literal { \"a\" }\n",
			want: diag.ErrSyntax,
			line: 1,
		},
		{
			name: "bad version",
			src:  "@name x\n@version banana\n",
			want: diag.ErrSyntax,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := smtt.Parse("bad.smtt", []byte(tt.src))
			require.NoError(t, err)
			_, err = FromMapping(f)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var de *diag.Error
			require.True(t, errors.As(err, &de))
			if tt.line > 0 {
				assert.Equal(t, tt.line, de.Pos.Line)
			}
			assert.Equal(t, "bad.smtt", de.Pos.File)
		})
	}
}

func echoExtension(name string, threading bool) *runtime.Native {
	return &runtime.Native{
		Registration: runtime.Registration{
			Name:             name,
			APIVersion:       runtime.APIVersion,
			FileTypes:        []string{name},
			ThreadingAllowed: threading,
		},
		Func: func(ctx context.Context, root *ast.Node) (string, error) {
			return string(root.Kind), nil
		},
	}
}

func TestFromExtension(t *testing.T) {
	t.Parallel()

	d, err := FromExtension(context.Background(), echoExtension("lua", false), "lua.risor", "abc")
	require.NoError(t, err)
	assert.Equal(t, "lua", d.Name)
	assert.True(t, d.IsExtension())
	assert.False(t, d.ThreadingAllowed)
	assert.Equal(t, "abc", d.RulesHash)

	bad := echoExtension("future", true)
	bad.Registration.APIVersion = 9
	_, err = FromExtension(context.Background(), bad, "future.risor", "")
	assert.True(t, errors.Is(err, diag.ErrIncompatibleExtension))
}

func TestRegistry_RegisterLookup(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.Lookup("javascript")
	assert.True(t, errors.Is(err, diag.ErrLanguageNotFound))

	d := compile(t, "javascript.smtt", jsMapping)
	require.NoError(t, r.Register(d))

	got, err := r.Lookup("javascript")
	require.NoError(t, err)
	assert.Same(t, d, got)
	assert.Equal(t, []string{"javascript"}, r.Names())

	assert.Error(t, r.Register(&Descriptor{}))
	assert.Error(t, r.Register(&Descriptor{Name: "empty"}))
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()

	r := New()
	first := compile(t, "javascript.smtt", jsMapping)
	second := compile(t, "javascript.smtt", jsMapping+"\n@> Identifier { \"$name\" }\n")
	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	got, err := r.Lookup("javascript")
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Equal(t, 4, got.Rules.Len(rules.Plug))
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(compile(t, "javascript.smtt", jsMapping)))
	assert.True(t, r.Unregister("javascript"))
	assert.False(t, r.Unregister("javascript"))
	_, err := r.Acquire("javascript")
	assert.True(t, errors.Is(err, diag.ErrLanguageNotFound))
}

func TestRegistry_LanguageForFile(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(compile(t, "javascript.smtt", jsMapping)))
	d, err := FromExtension(context.Background(), echoExtension("lua", true), "lua.risor", "")
	require.NoError(t, err)
	require.NoError(t, r.Register(d))

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"out/app.js", "javascript", true},
		{"APP.MJS", "javascript", true},
		{"init.lua", "lua", true},
		{"main.c", "", false},
		{"README", "", false},
	}
	for _, tt := range tests {
		got, ok := r.LanguageForFile(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestAcquire_SharedLeasesRunConcurrently(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register(compile(t, "javascript.smtt", jsMapping)))

	a, err := r.Acquire("javascript")
	require.NoError(t, err)
	b, err := r.Acquire("javascript")
	require.NoError(t, err)
	assert.False(t, a.Exclusive)
	assert.False(t, b.Exclusive)
	a.Release()
	a.Release()
	b.Release()
}

func TestAcquire_ExclusiveWhenThreadingDisallowed(t *testing.T) {
	t.Parallel()

	r := New()
	d := compile(t, "c.smtt", "@name c\n@threading false\n@> Literal { \"$name\" }\n")
	require.NoError(t, r.Register(d))

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := r.Acquire("c")
			if !assert.NoError(t, err) {
				return
			}
			defer l.Release()
			assert.True(t, l.Exclusive)
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestRegister_WaitsForInFlightPasses(t *testing.T) {
	t.Parallel()

	r := New()
	first := compile(t, "javascript.smtt", jsMapping)
	require.NoError(t, r.Register(first))

	lease, err := r.Acquire("javascript")
	require.NoError(t, err)

	done := make(chan struct{})
	second := compile(t, "javascript.smtt", jsMapping)
	go func() {
		defer close(done)
		assert.NoError(t, r.Register(second))
	}()

	select {
	case <-done:
		t.Fatal("register completed while a pass held a lease")
	case <-time.After(20 * time.Millisecond):
	}
	assert.Same(t, first, lease.Descriptor)
	lease.Release()
	<-done

	got, err := r.Lookup("javascript")
	require.NoError(t, err)
	assert.Same(t, second, got)
}
