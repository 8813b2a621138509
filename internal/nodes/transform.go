package nodes

import (
	"context"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// transformNode reshapes data with a jq or expr expression. The expression sees
// input, previousData and workflow.
type transformNode struct {
	base
	language   string
	expression string
	env        *Env
}

func newTransformNode(spec schema.NodeSpec, env *Env) (Node, error) {
	n := &transformNode{
		base:       base{id: spec.ID, kind: KindTransform},
		language:   str(spec.Config, "language"),
		expression: str(spec.Config, "expression"),
		env:        env,
	}
	if n.language == "" {
		n.language = "jq"
	}
	if n.language != "jq" && n.language != "expr" {
		return nil, configError(spec, "transform language must be jq or expr, got %q", n.language)
	}
	if n.expression == "" {
		return nil, configError(spec, "transform requires an expression")
	}
	if err := compile(env, n.language, n.expression); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *transformNode) Execute(ctx context.Context, rc *RunContext) (*schema.NodeResult, error) {
	out, err := evaluate(ctx, n.env, n.language, n.expression, rc.Scope())
	if err != nil {
		return nil, err
	}
	return schema.Succeeded(out), nil
}

func engine(env *Env, language string) (expressions.Engine, error) {
	if env == nil || env.Expressions == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no expression engines configured")
	}
	e, err := env.Expressions.Get(language)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	return e, nil
}

func compile(env *Env, language, expression string) error {
	e, err := engine(env, language)
	if err != nil {
		return err
	}
	if c, ok := e.(expressions.Compiler); ok {
		return c.Compile(expression)
	}
	return nil
}

func evaluate(ctx context.Context, env *Env, language, expression string, data map[string]any) (any, error) {
	e, err := engine(env, language)
	if err != nil {
		return nil, err
	}
	return e.Evaluate(ctx, expression, data)
}
