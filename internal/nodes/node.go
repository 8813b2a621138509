// Package nodes defines the node contract and the registry that turns node
// specs into executable instances.
package nodes

import (
	"context"
	"log/slog"

	"github.com/rendis/autoflow/internal/automation"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/output"
	"github.com/rendis/autoflow/internal/providers"
	"github.com/rendis/autoflow/pkg/schema"
)

// InputPreviousData is the reserved input field carrying routed predecessor outputs.
const InputPreviousData = "previousData"

// Node is one executable workflow node.
type Node interface {
	ID() string
	Kind() string
	Execute(ctx context.Context, rc *RunContext) (*schema.NodeResult, error)
}

// Rollbacker is implemented by nodes that can undo their side effects.
type Rollbacker interface {
	Rollback(ctx context.Context, rc *RunContext) error
}

// AutomationNode is a node whose work is a DOM action performed by the engine
// through the automation driver after Execute succeeds.
type AutomationNode interface {
	Node
	AutomationRequest() automation.Request
}

// Brancher is implemented by nodes whose NextNodeOverride redirects the cursor.
type Brancher interface {
	Branches() bool
}

// ProviderCaller generates AI responses. *providers.Manager satisfies it.
type ProviderCaller interface {
	Generate(ctx context.Context, req providers.Request) (*providers.Response, error)
}

// Exporter delivers payloads to output handlers. *output.Dispatcher satisfies it.
type Exporter interface {
	Export(ctx context.Context, p output.Payload, handlers []schema.OutputHandler) ([]output.Delivery, error)
}

// Services are the collaborators nodes may call.
type Services struct {
	Providers ProviderCaller
	Exporter  Exporter
}

// RunContext is everything a node sees for one execution attempt.
type RunContext struct {
	ExecutionID string
	Workflow    *schema.WorkflowDescription
	Spec        schema.NodeSpec
	// Input is the node config plus the routed bundle under InputPreviousData.
	Input        map[string]any
	PreviousData map[string]any
	// State holds the outputs of every node that has succeeded so far.
	// It is not part of the expression scope.
	State map[string]any
	// Output is the node's own last output. Set for Rollback.
	Output   any
	Attempt  int
	Services Services
	Logger   *slog.Logger
}

// WorkflowName returns the workflow name or "".
func (rc *RunContext) WorkflowName() string {
	if rc.Workflow == nil {
		return ""
	}
	return rc.Workflow.Name
}

// Scope returns the expression scope for this node.
func (rc *RunContext) Scope() map[string]any {
	return expressions.Scope(rc.Spec.Config, rc.PreviousData, map[string]any{
		"name":         rc.WorkflowName(),
		"execution_id": rc.ExecutionID,
		"node_id":      rc.Spec.ID,
		"attempt":      rc.Attempt,
	})
}

// NewInput merges config with the routed bundle.
func NewInput(config, previousData map[string]any) map[string]any {
	input := make(map[string]any, len(config)+1)
	for k, v := range config {
		input[k] = v
	}
	if previousData == nil {
		previousData = map[string]any{}
	}
	input[InputPreviousData] = previousData
	return input
}

// base carries the id and kind shared by built-in nodes.
type base struct {
	id   string
	kind string
}

func (b base) ID() string   { return b.id }
func (b base) Kind() string { return b.kind }
