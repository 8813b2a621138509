package expressions

import (
	"context"
	"encoding/json"
	"fmt"
)

// Engine evaluates expressions inside nodes.
// Three implementations: CEL (conditionals), GoJQ and Expr (transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Compiler is implemented by engines that can check an expression ahead of evaluation.
type Compiler interface {
	Compile(expression string) error
}

// Variables visible to every expression. Upstream outputs reach an
// expression only through previousData, which holds direct predecessors.
const (
	VarInput        = "input"
	VarPreviousData = "previousData"
	VarWorkflow     = "workflow"
)

var scopeVars = []string{VarInput, VarPreviousData, VarWorkflow}

// Scope builds the evaluation data for a node. Nil maps become empty maps.
func Scope(input, previousData, workflow map[string]any) map[string]any {
	scope := map[string]any{
		VarInput:        input,
		VarPreviousData: previousData,
		VarWorkflow:     workflow,
	}
	for _, k := range scopeVars {
		if m, _ := scope[k].(map[string]any); m == nil {
			scope[k] = map[string]any{}
		}
	}
	return scope
}

// Registry holds engines by name.
type Registry struct {
	engines map[string]Engine
}

// NewRegistry creates the default engine set: cel, jq and expr.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	r := &Registry{engines: make(map[string]Engine)}
	for _, e := range []Engine{celEngine, NewGoJQEngine(), NewExprEngine()} {
		r.engines[e.Name()] = e
	}
	return r, nil
}

// MustNewRegistry is like NewRegistry but panics if the CEL environment cannot be built.
func MustNewRegistry() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns an engine by name.
func (r *Registry) Get(name string) (Engine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown expression language %q", name)
	}
	return e, nil
}

// Normalize converts arbitrary Go values into plain JSON values
// (map[string]any, []any, float64, string, bool, nil).
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
