package nodes

import (
	"context"

	"github.com/rendis/autoflow/internal/providers"
	"github.com/rendis/autoflow/pkg/schema"
)

// providerNode asks an AI provider for a response, with fallbacks.
type providerNode struct {
	base
	provider       string
	fallbacks      []string
	model          string
	system         string
	prompt         string
	promptExpr     string
	language       string
	includeContext bool
	options        map[string]any
	env            *Env
}

func newProviderNode(spec schema.NodeSpec, env *Env) (Node, error) {
	cfg := spec.Config
	n := &providerNode{
		base:           base{id: spec.ID, kind: KindProvider},
		provider:       str(cfg, "provider"),
		fallbacks:      schema.StringList(cfg["fallbacks"]),
		model:          str(cfg, "model"),
		system:         str(cfg, "system"),
		prompt:         str(cfg, "prompt"),
		promptExpr:     str(cfg, "prompt_expression"),
		language:       str(cfg, "language"),
		includeContext: boolean(cfg, "include_context", true),
		options:        strMap(cfg, "options"),
		env:            env,
	}
	if n.prompt == "" && n.promptExpr == "" {
		return nil, configError(spec, "provider node requires prompt or prompt_expression")
	}
	if n.language == "" {
		n.language = "jq"
	}
	if n.promptExpr != "" {
		if err := compile(env, n.language, n.promptExpr); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (n *providerNode) Execute(ctx context.Context, rc *RunContext) (*schema.NodeResult, error) {
	if rc.Services.Providers == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no provider manager configured")
	}

	prompt := n.prompt
	if n.promptExpr != "" {
		v, err := evaluate(ctx, n.env, n.language, n.promptExpr, rc.Scope())
		if err != nil {
			return nil, err
		}
		s, ok := v.(string)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNodeFailed, "prompt_expression returned %T, want string", v)
		}
		prompt = s
	}

	req := providers.Request{
		Provider:  n.provider,
		Fallbacks: n.fallbacks,
		Model:     n.model,
		System:    n.system,
		Prompt:    prompt,
		Options:   n.options,
	}
	if n.includeContext {
		req.Context = rc.PreviousData
	}

	resp, err := rc.Services.Providers.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	out := map[string]any{
		"content":  resp.Content,
		"provider": resp.Provider,
	}
	if resp.Model != "" {
		out["model"] = resp.Model
	}
	if resp.Data != nil {
		out["data"] = resp.Data
	}
	return schema.Succeeded(out), nil
}
