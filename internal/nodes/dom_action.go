package nodes

import (
	"context"

	"github.com/rendis/autoflow/internal/automation"
	"github.com/rendis/autoflow/pkg/schema"
)

// domActionNode describes a browser action. The engine resolves its selector,
// waits for the target and performs the action through the driver.
type domActionNode struct {
	base
	req automation.Request
}

func newDOMActionNode(spec schema.NodeSpec, _ *Env) (Node, error) {
	cfg := spec.Config
	action := str(cfg, "action")
	if action == "" {
		return nil, configError(spec, "dom_action requires an action")
	}
	timeout, err := duration(cfg, "timeout")
	if err != nil {
		return nil, configError(spec, "%v", err)
	}

	return &domActionNode{
		base: base{id: spec.ID, kind: KindDOMAction},
		req: automation.Request{
			Target:      str(cfg, "target"),
			Action:      action,
			SelectorKey: str(cfg, "selector_key"),
			Selector:    str(cfg, "selector"),
			Fallbacks:   schema.StringList(cfg["fallbacks"]),
			Value:       cfg["value"],
			Timeout:     timeout,
		},
	}, nil
}

func (n *domActionNode) AutomationRequest() automation.Request {
	return n.req
}

func (n *domActionNode) Execute(_ context.Context, rc *RunContext) (*schema.NodeResult, error) {
	out := map[string]any{
		"action": n.req.Action,
	}
	if n.req.Target != "" {
		out["target"] = n.req.Target
	}
	if n.req.SelectorKey != "" {
		out["selector_key"] = n.req.SelectorKey
	}
	if n.req.Value != nil {
		out["value"] = n.req.Value
	}
	return schema.Succeeded(out), nil
}
