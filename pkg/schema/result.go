package schema

// NodeResult is the explicit outcome of one node execution.
type NodeResult struct {
	Success          bool       `json:"success"`
	Output           any        `json:"output,omitempty"`
	NextNodeOverride []string   `json:"next_node_override,omitempty"`
	Error            *FlowError `json:"error,omitempty"`
}

// Succeeded builds a successful result carrying output.
func Succeeded(output any) *NodeResult {
	return &NodeResult{Success: true, Output: output}
}

// Failed builds a failed result.
func Failed(err *FlowError) *NodeResult {
	return &NodeResult{Success: false, Error: err}
}
