package labels

import (
	"errors"
	"sync"
	"testing"

	"github.com/jward/surn/internal/diag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefine_Synonyms(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Define("AssignMut", []string{"var", "let"}, "javascript"))

	for _, tok := range []string{"var", "let"} {
		l, err := r.Resolve(tok, "javascript")
		require.NoError(t, err)
		assert.Equal(t, Label("AssignMut"), l)
	}
	assert.Equal(t, []string{"var", "let"}, r.Tokens("AssignMut", "javascript"))

	// Re-defining the same binding is idempotent.
	require.NoError(t, r.Define("AssignMut", []string{"let"}, "javascript"))
	assert.Equal(t, []string{"var", "let"}, r.Tokens("AssignMut", "javascript"))
}

func TestDefine_DuplicateBinding(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Define("AssignMut", []string{"var", "let"}, "javascript"))

	err := r.Define("AssignConst", []string{"const", "let"}, "javascript")
	require.Error(t, err)
	assert.True(t, errors.Is(err, diag.ErrDuplicateLabelBinding))

	// The failed definition left nothing behind.
	_, err = r.Resolve("const", "javascript")
	assert.True(t, errors.Is(err, diag.ErrLabelNotFound))

	// Other languages are independent.
	require.NoError(t, r.Define("AssignConst", []string{"let"}, "php"))
}

func TestDefine_Invalid(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	assert.Error(t, r.Define("", []string{"x"}, "js"))
	assert.Error(t, r.Define("L", nil, "js"))
	assert.Error(t, r.Define("L", []string{""}, "js"))
}

func TestSnapshot_IsolatedFromLaterEdits(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Define("AssignMut", []string{"var"}, "javascript"))
	s := r.Snapshot("javascript")

	require.NoError(t, r.Define("AssignMut", []string{"let"}, "javascript"))
	r.Drop("javascript")

	l, ok := s.Resolve("var")
	assert.True(t, ok)
	assert.Equal(t, Label("AssignMut"), l)
	_, ok = s.Resolve("let")
	assert.False(t, ok)
	assert.True(t, s.Has("AssignMut"))
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, r.Labels("javascript"))

	var nilSet *Set
	_, ok = nilSet.Resolve("var")
	assert.False(t, ok)
}

func TestRegistry_Concurrent(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Define("AssignMut", []string{"var"}, "javascript"))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = r.Define("AssignConst", []string{"const"}, "javascript")
				return
			}
			_, _ = r.Resolve("var", "javascript")
			_ = r.Snapshot("javascript")
		}()
	}
	wg.Wait()
	assert.Equal(t, []Label{"AssignConst", "AssignMut"}, r.Labels("javascript"))
}
