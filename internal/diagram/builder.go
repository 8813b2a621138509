package diagram

import (
	"fmt"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/nodes"
	"github.com/rendis/autoflow/pkg/schema"
)

// Build constructs a DiagramModel from a workflow description and an optional
// stored run. It uses engine.BuildGraph for topology, so an invalid workflow
// fails here with the same error the engine would report.
func Build(desc *schema.WorkflowDescription, run *schema.RunRecord) (*DiagramModel, error) {
	if desc == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: workflow description is nil")
	}
	g, err := engine.BuildGraph(desc.Nodes, desc.Edges)
	if err != nil {
		return nil, err
	}

	lastErr := make(map[string]string)
	if run != nil {
		for _, e := range run.Errors {
			if e.NodeID != "" {
				lastErr[e.NodeID] = e.Message
			}
		}
	}

	model := &DiagramModel{Title: titleFromDesc(desc)}
	model.Nodes = append(model.Nodes, &Node{ID: StartID, Label: "Start", Kind: NodeKindStart})
	for _, id := range g.Order {
		spec, _ := g.Node(id)
		node := &Node{ID: id, Label: nodeLabel(spec), Kind: typeToKind(spec.Type)}
		if run != nil {
			overlayStatus(node, run, lastErr)
		}
		model.Nodes = append(model.Nodes, node)
	}
	model.Nodes = append(model.Nodes, &Node{ID: EndID, Label: "End", Kind: NodeKindEnd})

	model.Edges = buildEdges(g)
	model.Levels = buildLevels(g)
	return model, nil
}

// typeToKind maps a node type to a NodeKind. Registered custom types share one kind.
func typeToKind(t string) NodeKind {
	switch t {
	case nodes.KindDOMAction:
		return NodeKindAction
	case nodes.KindProvider:
		return NodeKindProvider
	case nodes.KindTransform:
		return NodeKindTransform
	case nodes.KindConditional:
		return NodeKindConditional
	case nodes.KindExport:
		return NodeKindExport
	default:
		return NodeKindCustom
	}
}

// nodeLabel shows the id, and the type below it.
func nodeLabel(spec schema.NodeSpec) string {
	if spec.Type == "" {
		return spec.ID
	}
	return fmt.Sprintf("%s\n(%s)", spec.ID, spec.Type)
}

func overlayStatus(node *Node, run *schema.RunRecord, lastErr map[string]string) {
	status, ok := run.NodeStatuses[node.ID]
	if !ok {
		status = schema.NodeStatusPending
	}
	node.Status = &StatusOverlay{
		Status:     string(status),
		RetryCount: run.RetryCounts[node.ID],
	}
	if status == schema.NodeStatusFailed {
		node.Status.Error = lastErr[node.ID]
	}
}

// buildEdges lists start → roots, the graph edges, conditional branch edges
// and leaves → end.
func buildEdges(g *engine.Graph) []Edge {
	var edges []Edge
	for _, id := range g.Order {
		if len(g.Predecessors(id)) == 0 {
			edges = append(edges, Edge{From: StartID, To: id})
		}
	}
	for _, e := range g.Edges {
		edges = append(edges, Edge{From: e.From, To: e.To})
	}
	for _, id := range g.Order {
		spec, _ := g.Node(id)
		if spec.Type != nodes.KindConditional {
			continue
		}
		for _, branch := range []string{"then", "else"} {
			for _, target := range schema.StringList(spec.Config[branch]) {
				if _, ok := g.Node(target); ok {
					edges = append(edges, Edge{From: id, To: target, Label: branch, Branch: true})
				}
			}
		}
	}
	for _, id := range g.Order {
		if len(g.Successors(id)) == 0 {
			edges = append(edges, Edge{From: id, To: EndID})
		}
	}
	return edges
}

// buildLevels wraps graph levels with virtual start/end levels.
func buildLevels(g *engine.Graph) [][]string {
	inner := g.Levels()
	levels := make([][]string, 0, len(inner)+2)
	levels = append(levels, []string{StartID})
	levels = append(levels, inner...)
	levels = append(levels, []string{EndID})
	return levels
}

func titleFromDesc(desc *schema.WorkflowDescription) string {
	if desc.Name != "" {
		return desc.Name
	}
	if name, ok := desc.Metadata["name"].(string); ok && name != "" {
		return name
	}
	return "Workflow"
}
