// Package diagram renders workflow graphs with an optional run status overlay.
package diagram

// NodeKind classifies a diagram node by its workflow node type.
type NodeKind string

const (
	NodeKindAction      NodeKind = "action"
	NodeKindProvider    NodeKind = "provider"
	NodeKindTransform   NodeKind = "transform"
	NodeKindConditional NodeKind = "conditional"
	NodeKindExport      NodeKind = "export"
	NodeKindCustom      NodeKind = "custom"
	NodeKindStart       NodeKind = "start"
	NodeKindEnd         NodeKind = "end"
)

// Virtual node ids.
const (
	StartID = "__start__"
	EndID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the outcome of a stored run for a node.
type StatusOverlay struct {
	Status     string // from schema.NodeStatus
	RetryCount int
	Error      string
}

// Edge is a dependency between two nodes. Branch edges come from conditional
// then/else targets and are drawn dashed.
type Edge struct {
	From   string
	To     string
	Label  string
	Branch bool
}
