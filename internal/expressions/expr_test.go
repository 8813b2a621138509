package expressions

import (
	"context"
	"testing"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpr_Evaluate(t *testing.T) {
	e := NewExprEngine()
	assert.Equal(t, "expr", e.Name())

	data := map[string]any{
		"previousData": map[string]any{
			"prices": map[string]any{"values": []any{1.5, 2.5, 4.0}},
		},
	}
	out, err := e.Evaluate(context.Background(), "sum(previousData.prices.values)", data)
	require.NoError(t, err)
	assert.Equal(t, 8.0, out)
}

func TestExpr_UndefinedVariableIsNil(t *testing.T) {
	e := NewExprEngine()
	out, err := e.Evaluate(context.Background(), "missing ?? 'fallback'", nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()
	err := e.Compile("1 +")
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestRegistry_Defaults(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	for _, name := range []string{"cel", "jq", "expr"} {
		e, err := r.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, e.Name())
	}
	_, err = r.Get("lua")
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	out, err := Normalize(map[string]any{"n": 3, "xs": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": float64(3), "xs": []any{"a"}}, out)

	out, err = Normalize("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestScope_FillsEmptyMaps(t *testing.T) {
	s := Scope(nil, map[string]any{"a": 1}, nil)
	assert.Equal(t, map[string]any{}, s[VarInput])
	assert.Equal(t, map[string]any{"a": 1}, s[VarPreviousData])
	assert.Equal(t, map[string]any{}, s[VarWorkflow])
	assert.Len(t, s, 3)
}
