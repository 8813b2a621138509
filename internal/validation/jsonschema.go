package validation

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/autoflow/internal/xjson"
	"github.com/rendis/autoflow/pkg/schema"
)

const workflowSchemaURL = "https://autoflow.dev/schemas/workflow.json"

// workflowSchemaJSON is the JSON Schema for workflow descriptions.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://autoflow.dev/schemas/workflow.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "name": { "type": "string" },
    "nodes": {
      "type": "object",
      "minProperties": 1,
      "propertyNames": { "minLength": 1 },
      "additionalProperties": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "output_handlers": {
      "type": "array",
      "items": { "$ref": "#/$defs/output_handler" }
    },
    "error_handling": { "$ref": "#/$defs/error_handling" },
    "metadata": { "type": "object" }
  },
  "additionalProperties": false,
  "$defs": {
    "string_or_list": {
      "oneOf": [
        { "type": "string" },
        { "type": "array", "items": { "type": "string" } }
      ]
    },
    "node": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "minLength": 1 },
        "next": { "$ref": "#/$defs/string_or_list" },
        "outputs": { "type": "array", "items": { "type": "string" } }
      }
    },
    "edge": {
      "type": "object",
      "properties": {
        "from": { "type": "string" },
        "to": { "type": "string" }
      },
      "additionalProperties": false
    },
    "output_handler": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "enum": ["file", "clipboard", "screen", "redis"] },
        "path": { "type": "string" },
        "format": { "type": "string", "enum": ["json", "text", "markdown"] },
        "append": { "type": "boolean" },
        "title": { "type": "string" },
        "addr": { "type": "string" },
        "key": { "type": "string" },
        "command": { "type": "array", "items": { "type": "string" } }
      },
      "additionalProperties": false
    },
    "error_handling": {
      "type": "object",
      "properties": {
        "failure_strategy": {
          "type": "string",
          "enum": ["fail_fast", "continue_on_error", "rollback", "compensate"]
        },
        "max_retries": { "type": "integer", "minimum": 0 },
        "retry_delay": {
          "type": "string",
          "pattern": "^[0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h)$"
        },
        "compensation": {
          "type": "array",
          "items": { "$ref": "#/$defs/compensation" }
        }
      },
      "additionalProperties": false
    },
    "compensation": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "name": { "type": "string" },
        "type": { "type": "string", "minLength": 1 },
        "config": { "type": "object" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator checks the structure of a workflow description against
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the workflow schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &JSONSchemaValidator{workflowSchema: wfSchema}, nil
}

// ValidateDescription validates desc against the workflow JSON Schema.
func (v *JSONSchemaValidator) ValidateDescription(desc *schema.WorkflowDescription) error {
	if desc == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow description is nil")
	}
	doc, err := toJSONValue(desc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow description").WithCause(err)
	}
	return v.ValidateDocument(doc)
}

// ValidateDocument validates an already decoded JSON value, as produced by
// jsonschema.UnmarshalJSON.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if err := v.workflowSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON so that numbers become
// json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := xjson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError listing
// every leaf violation.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
