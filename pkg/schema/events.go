package schema

// Event types emitted by the engine during a run.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"

	EventStepStarted   = "step_started"
	EventStepSucceeded = "step_succeeded"
	EventStepFailed    = "step_failed"
	EventStepRetrying  = "step_retrying"
	EventStepSkipped   = "step_skipped"

	EventDataHandoff = "data_handoff"
	EventDataRouting = "data_routing"

	EventOutputExported = "output_exported"
	EventOutputDisplay  = "output_display"

	EventNodeRolledBack       = "node_rolled_back"
	EventCompensationExecuted = "compensation_executed"
)

// ExecutionState is a state of the execution state machine.
type ExecutionState string

const (
	StateIdle              ExecutionState = "idle"
	StateLoadWorkflow      ExecutionState = "load_workflow"
	StateResolveNode       ExecutionState = "resolve_node"
	StateResolveSelectors  ExecutionState = "resolve_selectors"
	StateExecuteNode       ExecutionState = "execute_node"
	StateWaitForDependency ExecutionState = "wait_for_dependency"
	StatePerformAction     ExecutionState = "perform_action"
	StateCaptureOutput     ExecutionState = "capture_output"
	StateNextNode          ExecutionState = "next_node"
	StatePersistArtifacts  ExecutionState = "persist_artifacts"
	StateComplete          ExecutionState = "complete"
	StateError             ExecutionState = "error"
	StateRetry             ExecutionState = "retry"
)

// Terminal reports whether no further transitions leave the state.
func (s ExecutionState) Terminal() bool {
	return s == StateComplete || s == StateError
}

// NodeStatus is the per-node outcome reported in results and diagrams.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusRetrying  NodeStatus = "retrying"
)

// FailureStrategy is the workflow-level reaction to an unrecoverable node failure.
type FailureStrategy string

const (
	StrategyFailFast        FailureStrategy = "fail_fast"
	StrategyContinueOnError FailureStrategy = "continue_on_error"
	StrategyRollback        FailureStrategy = "rollback"
	StrategyCompensate      FailureStrategy = "compensate"
)

// Valid reports whether s is a known strategy. The empty value selects fail_fast.
func (s FailureStrategy) Valid() bool {
	switch s {
	case "", StrategyFailFast, StrategyContinueOnError, StrategyRollback, StrategyCompensate:
		return true
	}
	return false
}

// ErrorClass groups node failures for the retry policy.
type ErrorClass string

const (
	ErrorClassSelector ErrorClass = "selector_error"
	ErrorClassGeneral  ErrorClass = "general_error"
)
