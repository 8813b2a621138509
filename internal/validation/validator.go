package validation

import "github.com/rendis/autoflow/pkg/schema"

// Validator checks workflow descriptions for correctness before execution.
type Validator interface {
	ValidateDescription(desc *schema.WorkflowDescription) error
}

// TypeLookup reports whether a node type can be resolved.
// Satisfied by *nodes.Registry.
type TypeLookup interface {
	Has(typeName string) bool
}
