package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCEL_Literals(t *testing.T) {
	e := newCEL(t)
	assert.Equal(t, "cel", e.Name())

	out, err := e.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)

	out, err = e.Evaluate(context.Background(), `"a" + "b"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", out)
}

func TestCEL_ScopeVariables(t *testing.T) {
	e := newCEL(t)
	data := Scope(
		map[string]any{"threshold": 0.5},
		map[string]any{"score": map[string]any{"value": 0.9}, "login": map[string]any{"ok": true}},
		map[string]any{"name": "nightly"},
	)

	out, err := e.Evaluate(context.Background(), "previousData.score.value > input.threshold", data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), "previousData.login.ok && workflow.name == 'nightly'", data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_MissingVariablesDefaultToEmpty(t *testing.T) {
	e := newCEL(t)
	out, err := e.Evaluate(context.Background(), "size(previousData) == 0", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_CompileErrorIsValidation(t *testing.T) {
	e := newCEL(t)
	err := e.Compile("previousData.(")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestCEL_RuntimeErrorIsNodeFailure(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), "previousData.missing.value", map[string]any{})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeNodeFailed))
}

func TestCEL_ConcurrentEvaluation(t *testing.T) {
	e := newCEL(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "input.x == 'y'", map[string]any{"input": map[string]any{"x": "y"}})
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}()
	}
	wg.Wait()
	assert.Len(t, e.cache, 1)
}
