package engine

import (
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// TransitionHook is called after a state transition is applied.
type TransitionHook func(t schema.Transition)

// ValidTransitions defines the allowed execution state transitions.
var ValidTransitions = map[schema.ExecutionState][]schema.ExecutionState{
	schema.StateIdle:              {schema.StateLoadWorkflow},
	schema.StateLoadWorkflow:      {schema.StateResolveNode, schema.StateError},
	schema.StateResolveNode:       {schema.StateResolveSelectors, schema.StatePersistArtifacts},
	schema.StateResolveSelectors:  {schema.StateExecuteNode, schema.StateNextNode, schema.StateError},
	schema.StateExecuteNode:       {schema.StateWaitForDependency, schema.StateNextNode, schema.StateResolveNode, schema.StateRetry, schema.StateError},
	schema.StateWaitForDependency: {schema.StatePerformAction, schema.StateNextNode, schema.StateRetry, schema.StateError},
	schema.StatePerformAction:     {schema.StateCaptureOutput, schema.StateNextNode, schema.StateRetry, schema.StateError},
	schema.StateCaptureOutput:     {schema.StateNextNode},
	schema.StateNextNode:          {schema.StateResolveNode, schema.StatePersistArtifacts},
	schema.StatePersistArtifacts:  {schema.StateComplete, schema.StateRetry, schema.StateError},
	schema.StateRetry:             {schema.StateResolveNode, schema.StateError},
	schema.StateComplete:          {},
	schema.StateError:             {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to schema.ExecutionState) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// Machine tracks the current execution state of one run. Applied transitions
// reach the run through hooks. It is owned by a single run and is not safe
// for concurrent use.
type Machine struct {
	state schema.ExecutionState
	hooks []TransitionHook
	now   func() time.Time
}

// NewMachine creates a machine in the Idle state.
func NewMachine(now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{state: schema.StateIdle, now: now}
}

// State returns the current state.
func (m *Machine) State() schema.ExecutionState {
	return m.state
}

// OnTransition registers a hook called after every applied transition.
func (m *Machine) OnTransition(hook TransitionHook) {
	m.hooks = append(m.hooks, hook)
}

// Transition validates and applies a move to the given state.
// nodeID is the node current at the time of the move, if any.
func (m *Machine) Transition(to schema.ExecutionState, nodeID string) error {
	from := m.state
	if !CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithNode(nodeID).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	t := schema.Transition{From: from, To: to, NodeID: nodeID, At: m.now().UTC()}
	m.state = to

	for _, hook := range m.hooks {
		hook(t)
	}
	return nil
}

// abort forces the Error state when a transition could not be applied, so the
// run still terminates. The forced move is recorded like any other.
func (m *Machine) abort(nodeID string) {
	if m.state.Terminal() {
		return
	}
	t := schema.Transition{From: m.state, To: schema.StateError, NodeID: nodeID, At: m.now().UTC()}
	m.state = schema.StateError
	for _, hook := range m.hooks {
		hook(t)
	}
}
