package engine

import (
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// Ledger accumulates the captured artifacts, failures and state transitions of
// one run. Append-only.
type Ledger struct {
	artifacts   []schema.Artifact
	errors      []schema.ErrorRecord
	transitions []schema.Transition
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// RecordArtifact appends a snapshot of a node output.
func (l *Ledger) RecordArtifact(nodeID, nodeType string, output any, at time.Time) {
	l.artifacts = append(l.artifacts, schema.Artifact{
		NodeID:     nodeID,
		NodeType:   nodeType,
		Output:     output,
		CapturedAt: at.UTC(),
	})
}

// RecordError appends a failure record.
func (l *Ledger) RecordError(rec schema.ErrorRecord) {
	rec.Timestamp = rec.Timestamp.UTC()
	l.errors = append(l.errors, rec)
}

// RecordTransition appends a state transition. Usable as a TransitionHook.
func (l *Ledger) RecordTransition(t schema.Transition) {
	l.transitions = append(l.transitions, t)
}

func (l *Ledger) Artifacts() []schema.Artifact {
	return append([]schema.Artifact(nil), l.artifacts...)
}

func (l *Ledger) Errors() []schema.ErrorRecord {
	return append([]schema.ErrorRecord(nil), l.errors...)
}

func (l *Ledger) Transitions() []schema.Transition {
	return append([]schema.Transition(nil), l.transitions...)
}

