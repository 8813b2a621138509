package nodes

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// conditionalNode evaluates a CEL predicate and redirects the run to the
// then or else targets.
type conditionalNode struct {
	base
	expression string
	then       []string
	otherwise  []string
	env        *Env
}

func newConditionalNode(spec schema.NodeSpec, env *Env) (Node, error) {
	n := &conditionalNode{
		base:       base{id: spec.ID, kind: KindConditional},
		expression: str(spec.Config, "expression"),
		then:       schema.StringList(spec.Config["then"]),
		otherwise:  schema.StringList(spec.Config["else"]),
		env:        env,
	}
	if n.expression == "" {
		return nil, configError(spec, "conditional requires an expression")
	}
	if err := compile(env, "cel", n.expression); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *conditionalNode) Branches() bool { return true }

func (n *conditionalNode) Execute(ctx context.Context, rc *RunContext) (*schema.NodeResult, error) {
	v, err := evaluate(ctx, n.env, "cel", n.expression, rc.Scope())
	if err != nil {
		return nil, err
	}
	ok, isBool := v.(bool)
	if !isBool {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "conditional expression returned %T, want bool", v)
	}

	branch, targets := "else", n.otherwise
	if ok {
		branch, targets = "then", n.then
	}
	return &schema.NodeResult{
		Success:          true,
		Output:           map[string]any{"result": ok, "branch": branch},
		NextNodeOverride: targets,
	}, nil
}
