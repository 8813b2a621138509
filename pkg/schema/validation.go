package schema

import (
	"fmt"
	"strings"
)

type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a workflow description. Path is a
// dotted location such as "nodes.fetch.type" or "edges[2].to"; NodeID is set
// when the path points inside a node.
type ValidationIssue struct {
	Path     string             `json:"path"`
	NodeID   string             `json:"node_id,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidationResult collects the issues of one validation pass. Warnings never
// make a workflow invalid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, newIssue(SeverityError, path, code, message))
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, newIssue(SeverityWarning, path, code, message))
}

// Merge appends other's issues. A nil other is a no-op.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns nil for a valid result. Otherwise the FlowError carries the
// code shared by every error, or VALIDATION_ERROR when they disagree, so a
// lone cycle still surfaces as CYCLE_DETECTED.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	code := first.Code
	for _, is := range r.Errors[1:] {
		if is.Code != code {
			code = ErrCodeValidation
			break
		}
	}

	var fe *FlowError
	if len(r.Errors) == 1 {
		fe = NewError(code, first.String()).WithNode(first.NodeID)
	} else {
		fe = NewErrorf(code, "validation failed with %d errors; first %s", len(r.Errors), first)
	}
	return fe.WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}

func newIssue(sev ValidationSeverity, path, code, message string) ValidationIssue {
	return ValidationIssue{
		Path:     path,
		NodeID:   nodeFromPath(path),
		Code:     code,
		Message:  message,
		Severity: sev,
	}
}

// nodeFromPath extracts the node id from "nodes.<id>" paths.
func nodeFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "nodes.")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, ".")
	return id
}
