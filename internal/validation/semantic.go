package validation

import (
	"fmt"

	"github.com/rendis/autoflow/pkg/schema"
)

// validateSemantic checks what the JSON Schema cannot: node types resolve,
// edge and branch references point at declared nodes, and output handlers
// carry the fields their sink needs.
func validateSemantic(desc *schema.WorkflowDescription, lookup TypeLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(desc.Nodes))
	for _, n := range desc.Nodes {
		if ids[n.ID] {
			result.AddError("nodes."+n.ID, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = true
	}

	for _, n := range desc.Nodes {
		path := "nodes." + n.ID
		if lookup != nil && n.Type != "" && !lookup.Has(n.Type) {
			result.AddError(path+".type", schema.ErrCodeUnknownNodeType,
				fmt.Sprintf("node type %q not registered", n.Type))
		}
		for j, next := range n.Next {
			if !ids[next] {
				result.AddError(fmt.Sprintf("%s.next[%d]", path, j), schema.ErrCodeGraph,
					fmt.Sprintf("references non-existent node %q", next))
			}
		}
		validateBranches(n, path, ids, result)
	}

	for i, e := range desc.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if e.From == "" || e.To == "" {
			result.AddWarning(path, schema.ErrCodeGraph, "edge with an empty endpoint is ignored")
			continue
		}
		if !ids[e.From] {
			result.AddError(path+".from", schema.ErrCodeGraph,
				fmt.Sprintf("references non-existent node %q", e.From))
		}
		if !ids[e.To] {
			result.AddError(path+".to", schema.ErrCodeGraph,
				fmt.Sprintf("references non-existent node %q", e.To))
		}
	}

	for i, h := range desc.OutputHandlers {
		path := fmt.Sprintf("output_handlers[%d]", i)
		switch h.Type {
		case schema.OutputFile:
			if h.Path == "" {
				result.AddError(path+".path", schema.ErrCodeValidation, "file output requires a path")
			}
		case schema.OutputRedis:
			if h.Key == "" {
				result.AddError(path+".key", schema.ErrCodeValidation, "redis output requires a key")
			}
		}
	}

	eh := desc.ErrorHandling
	if _, err := eh.RetryDelayDuration(); err != nil {
		result.AddError("error_handling.retry_delay", schema.ErrCodeValidation, err.Error())
	}
	for i, c := range eh.Compensation {
		if lookup != nil && !lookup.Has(c.Type) {
			result.AddError(fmt.Sprintf("error_handling.compensation[%d].type", i),
				schema.ErrCodeUnknownNodeType, fmt.Sprintf("node type %q not registered", c.Type))
		}
	}
	if eh.Strategy() == schema.StrategyCompensate && len(eh.Compensation) == 0 {
		result.AddWarning("error_handling.compensation", schema.ErrCodeValidation,
			"compensate strategy has no compensation actions")
	}
	if eh.Strategy() != schema.StrategyCompensate && len(eh.Compensation) > 0 {
		result.AddWarning("error_handling.compensation", schema.ErrCodeValidation,
			fmt.Sprintf("compensation actions are ignored under %s", eh.Strategy()))
	}

	return result
}

// validateBranches checks the then/else targets of a conditional node.
func validateBranches(n schema.NodeSpec, path string, ids map[string]bool, result *schema.ValidationResult) {
	if n.Type != "conditional" {
		return
	}
	for _, field := range []string{"then", "else"} {
		for j, target := range schema.StringList(n.Config[field]) {
			if !ids[target] {
				result.AddError(fmt.Sprintf("%s.%s[%d]", path, field, j), schema.ErrCodeGraph,
					fmt.Sprintf("references non-existent node %q", target))
			}
		}
	}
}
