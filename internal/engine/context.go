package engine

import (
	"log/slog"
	"time"

	"github.com/rendis/autoflow/internal/automation"
	"github.com/rendis/autoflow/internal/nodes"
	"github.com/rendis/autoflow/pkg/schema"
)

// compensation is a resolved compensation action.
type compensation struct {
	spec schema.NodeSpec
	node nodes.Node
}

// executionContext is the state of one run. It is created at run start, owned
// by the run loop alone, and discarded when the run ends.
type executionContext struct {
	id        string
	desc      *schema.WorkflowDescription
	graph     *Graph
	instances map[string]nodes.Node

	compensations []compensation
	policy        RecoveryPolicy

	cursor  int
	current string

	// state holds the last successful output per node.
	state map[string]any
	// inputs holds the routed previousData bundle per node.
	inputs map[string]map[string]any
	// retryCounts counts retries performed per node; never reset.
	retryCounts map[string]int
	// consecutive counts failures since the node last succeeded.
	consecutive map[string]int
	completed   []string
	statuses    map[string]schema.NodeStatus
	degraded    bool

	// Per-node scratch for automation nodes.
	action       automation.ActionRequest
	actionResult *automation.ActionResult
	output       any

	ledger    *Ledger
	machine   *Machine
	router    *Router
	events    *emitter
	services  nodes.Services
	logger    *slog.Logger
	err       *schema.FlowError
	persisted bool
	startedAt time.Time
}

func (ec *executionContext) workflowName() string {
	if ec.desc == nil {
		return ""
	}
	return ec.desc.Name
}

func (ec *executionContext) isAutomation(id string) bool {
	_, ok := ec.instances[id].(nodes.AutomationNode)
	return ok
}

func (ec *executionContext) nodeType(id string) string {
	if n, ok := ec.instances[id]; ok {
		return n.Kind()
	}
	if ec.graph != nil {
		if spec, ok := ec.graph.Node(id); ok {
			return spec.Type
		}
	}
	return ""
}

// runContext builds what node id sees for its current attempt.
func (ec *executionContext) runContext(id string) *nodes.RunContext {
	spec, _ := ec.graph.Node(id)
	return ec.newRunContext(spec, ec.inputs[id])
}

func (ec *executionContext) newRunContext(spec schema.NodeSpec, prev map[string]any) *nodes.RunContext {
	if prev == nil {
		prev = map[string]any{}
	}
	state := make(map[string]any, len(ec.state))
	for k, v := range ec.state {
		state[k] = v
	}
	return &nodes.RunContext{
		ExecutionID:  ec.id,
		Workflow:     ec.desc,
		Spec:         spec,
		Input:        nodes.NewInput(spec.Config, prev),
		PreviousData: prev,
		State:        state,
		Attempt:      ec.consecutive[spec.ID] + 1,
		Services:     ec.services,
		Logger:       ec.logger.With("node_id", spec.ID),
	}
}

// fail records the terminal error and moves to Error.
func (ec *executionContext) fail(fe *schema.FlowError) error {
	ec.err = fe
	return ec.machine.Transition(schema.StateError, ec.current)
}

// finalOutput is the output of the last node that succeeded.
func (ec *executionContext) finalOutput() any {
	for i := len(ec.completed) - 1; i >= 0; i-- {
		if out, ok := ec.state[ec.completed[i]]; ok {
			return out
		}
	}
	return nil
}

// snapshot returns the part of output a node declared in `outputs`, or the
// whole output when nothing was declared or output is not an object.
func snapshot(spec schema.NodeSpec, output any) any {
	if len(spec.Outputs) == 0 {
		return output
	}
	m, ok := output.(map[string]any)
	if !ok {
		return output
	}
	out := make(map[string]any, len(spec.Outputs))
	for _, key := range spec.Outputs {
		if v, ok := m[key]; ok {
			out[key] = v
		}
	}
	return out
}

func (ec *executionContext) record(final schema.ExecutionState, end time.Time, transitions []schema.Transition) *schema.RunRecord {
	retries := make(map[string]int, len(ec.retryCounts))
	for k, v := range ec.retryCounts {
		retries[k] = v
	}
	statuses := make(map[string]schema.NodeStatus, len(ec.statuses))
	for k, v := range ec.statuses {
		statuses[k] = v
	}
	return &schema.RunRecord{
		ExecutionID:  ec.id,
		WorkflowName: ec.workflowName(),
		StartTime:    ec.startedAt.UTC(),
		EndTime:      end.UTC(),
		FinalState:   final,
		Success:      final == schema.StateComplete,
		Artifacts:    ec.ledger.Artifacts(),
		FinalOutput:  ec.finalOutput(),
		Errors:       ec.ledger.Errors(),
		Transitions:  transitions,
		RetryCounts:  retries,
		NodeStatuses: statuses,
	}
}
