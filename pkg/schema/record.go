package schema

import "time"

// Artifact is a captured snapshot of one node's output.
type Artifact struct {
	NodeID     string    `json:"node_id"`
	NodeType   string    `json:"node_type"`
	Output     any       `json:"output,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// ErrorRecord is one failure observed during a run. Retrying is true when the
// engine scheduled another attempt after it.
type ErrorRecord struct {
	NodeID    string     `json:"node_id,omitempty"`
	Code      string     `json:"code"`
	Message   string     `json:"message"`
	Class     ErrorClass `json:"class,omitempty"`
	Attempt   int        `json:"attempt"`
	Retrying  bool       `json:"retrying"`
	Timestamp time.Time  `json:"timestamp"`
}

// Transition is one state machine step.
type Transition struct {
	From   ExecutionState `json:"from"`
	To     ExecutionState `json:"to"`
	NodeID string         `json:"node_id,omitempty"`
	At     time.Time      `json:"at"`
}

// RunRecord is the durable record of a finished run.
type RunRecord struct {
	ExecutionID  string                `json:"execution_id"`
	WorkflowName string                `json:"workflow_name"`
	StartTime    time.Time             `json:"start_time"`
	EndTime      time.Time             `json:"end_time"`
	FinalState   ExecutionState        `json:"final_state"`
	Success      bool                  `json:"success"`
	Artifacts    []Artifact            `json:"artifacts"`
	FinalOutput  any                   `json:"final_output,omitempty"`
	Errors       []ErrorRecord         `json:"errors,omitempty"`
	Transitions  []Transition          `json:"transitions,omitempty"`
	RetryCounts  map[string]int        `json:"retry_counts,omitempty"`
	NodeStatuses map[string]NodeStatus `json:"node_statuses,omitempty"`
}

// RunSummary is the listing view of a RunRecord.
type RunSummary struct {
	ExecutionID  string         `json:"execution_id"`
	WorkflowName string         `json:"workflow_name"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	FinalState   ExecutionState `json:"final_state"`
	Success      bool           `json:"success"`
}

// Summary returns the listing view of r.
func (r *RunRecord) Summary() RunSummary {
	return RunSummary{
		ExecutionID:  r.ExecutionID,
		WorkflowName: r.WorkflowName,
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		FinalState:   r.FinalState,
		Success:      r.Success,
	}
}
