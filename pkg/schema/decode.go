package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeJSON parses a JSON workflow description.
func DecodeJSON(data []byte) (*WorkflowDescription, error) {
	var desc WorkflowDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, NewError(ErrCodeValidation, "invalid workflow JSON").WithCause(err)
	}
	return &desc, nil
}

// DecodeYAML parses a YAML workflow description.
func DecodeYAML(data []byte) (*WorkflowDescription, error) {
	var desc WorkflowDescription
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, NewError(ErrCodeValidation, "invalid workflow YAML").WithCause(err)
	}
	return &desc, nil
}

// Decode sniffs the document: a leading '{' means JSON, anything else YAML.
func Decode(data []byte) (*WorkflowDescription, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, NewError(ErrCodeValidation, "empty workflow description")
	}
	if trimmed[0] == '{' {
		return DecodeJSON(trimmed)
	}
	return DecodeYAML(trimmed)
}

// LoadFile reads a description from disk, choosing the decoder by extension.
func LoadFile(path string) (*WorkflowDescription, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, NewErrorf(ErrCodeNotFound, "read workflow %s", path).WithCause(err)
	}

	var desc *WorkflowDescription
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		desc, err = DecodeJSON(data)
	case ".yaml", ".yml":
		desc, err = DecodeYAML(data)
	default:
		desc, err = Decode(data)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if desc.Name == "" {
		desc.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return desc, data, nil
}

// ToDocument converts the description into the generic JSON value form
// used by schema validation.
func ToDocument(desc *WorkflowDescription) (any, error) {
	data, err := json.Marshal(desc)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
