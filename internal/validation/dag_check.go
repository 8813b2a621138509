package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/autoflow/pkg/schema"
)

// validateDAG runs Kahn's algorithm over the declared edges and `next`
// shorthands, and flags nodes that no edge touches.
func validateDAG(desc *schema.WorkflowDescription) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(desc.Nodes))
	for _, n := range desc.Nodes {
		ids[n.ID] = true
	}

	// preds[id] = dependencies of id, succs[id] = dependents of id.
	preds := make(map[string]map[string]bool, len(ids))
	succs := make(map[string][]string, len(ids))
	addEdge := func(from, to string) {
		if !ids[from] || !ids[to] {
			return // invalid refs already caught by semantic
		}
		if preds[to] == nil {
			preds[to] = make(map[string]bool)
		}
		if preds[to][from] {
			return
		}
		preds[to][from] = true
		succs[from] = append(succs[from], to)
	}
	for _, e := range desc.Edges {
		addEdge(e.From, e.To)
	}
	for _, n := range desc.Nodes {
		for _, next := range n.Next {
			addEdge(n.ID, next)
		}
	}

	inDegree := make(map[string]int, len(ids))
	queue := make([]string, 0, len(ids))
	for id := range ids {
		inDegree[id] = len(preds[id])
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range succs[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(ids) {
		var stuck []string
		for id, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		result.AddError("edges", schema.ErrCodeCycleDetected,
			fmt.Sprintf("workflow contains a dependency cycle through %v", stuck))
		return result
	}

	if len(ids) > 1 {
		for _, n := range desc.Nodes {
			if len(preds[n.ID]) == 0 && len(succs[n.ID]) == 0 {
				result.AddWarning("nodes."+n.ID, schema.ErrCodeGraph,
					fmt.Sprintf("node %q has no edges and runs in declaration order", n.ID))
			}
		}
	}

	return result
}
