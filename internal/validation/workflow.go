package validation

import "github.com/rendis/autoflow/pkg/schema"

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (node types, references, output handlers)
// 3. DAG (cycles, isolated nodes)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	types      TypeLookup
}

// NewWorkflowValidator creates a WorkflowValidator.
// lookup may be nil to skip node type checks.
func NewWorkflowValidator(lookup TypeLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{jsonSchema: jsv, types: lookup}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and DAG stages are skipped.
func (wv *WorkflowValidator) Validate(desc *schema.WorkflowDescription) *schema.ValidationResult {
	if desc == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow description is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, desc)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(desc, wv.types))

	// The graph may be meaningless with broken references.
	if result.Valid() {
		result.Merge(validateDAG(desc))
	}
	return result
}

// ValidateDescription satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDescription(desc *schema.WorkflowDescription) error {
	return wv.Validate(desc).ToError()
}

// validateStructural converts the JSON Schema verdict into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, desc *schema.WorkflowDescription) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDescription(desc)
	if err == nil {
		return result
	}

	fe := schema.AsFlowError(err, schema.ErrCodeValidation)
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.AddError("/", schema.ErrCodeValidation, msg)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
