package store

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// Store defines the persistence layer for finished runs.
// All implementations must be safe for concurrent use.
type Store interface {
	// SaveRun writes rec, replacing any record with the same execution id.
	SaveRun(ctx context.Context, rec *schema.RunRecord) error
	// GetRun returns the record of one run, or a NOT_FOUND error.
	GetRun(ctx context.Context, executionID string) (*schema.RunRecord, error)
	// ListRuns returns run summaries, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]schema.RunSummary, error)

	Close() error
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	WorkflowName string
	Success      *bool
	Limit        int
}

func (f RunFilter) matches(s schema.RunSummary) bool {
	if f.WorkflowName != "" && s.WorkflowName != f.WorkflowName {
		return false
	}
	if f.Success != nil && s.Success != *f.Success {
		return false
	}
	return true
}

func storeNotFound(executionID string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", executionID).
		WithDetails(map[string]any{"execution_id": executionID})
}

func persistenceError(op string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodePersistence, "%s: %v", op, err).WithCause(err)
}
