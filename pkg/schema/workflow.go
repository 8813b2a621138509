package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Reserved node object fields. Everything else is type-specific config.
const (
	fieldType    = "type"
	fieldNext    = "next"
	fieldOutputs = "outputs"
	fieldID      = "id"
)

// WorkflowDescription is the user-submitted workflow document.
type WorkflowDescription struct {
	Name           string          `json:"name,omitempty" yaml:"name,omitempty"`
	Nodes          NodeMap         `json:"nodes" yaml:"nodes"`
	Edges          []Edge          `json:"edges,omitempty" yaml:"edges,omitempty"`
	OutputHandlers []OutputHandler `json:"output_handlers,omitempty" yaml:"output_handlers,omitempty"`
	ErrorHandling  ErrorHandling   `json:"error_handling,omitempty" yaml:"error_handling,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NodeSpec is one declared node. ID is the key it was declared under.
type NodeSpec struct {
	ID      string
	Type    string
	Config  map[string]any
	Next    []string
	Outputs []string
	Raw     map[string]any
}

// NodeMap is the declaration-ordered set of nodes of a workflow.
// Declaration order breaks ties in the topological sort, so it must survive decoding.
type NodeMap []NodeSpec

// Get returns the node declared under id.
func (m NodeMap) Get(id string) (NodeSpec, bool) {
	for _, n := range m {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// IDs returns node ids in declaration order.
func (m NodeMap) IDs() []string {
	ids := make([]string, len(m))
	for i, n := range m {
		ids[i] = n.ID
	}
	return ids
}

// UnmarshalJSON decodes a JSON object keeping key order.
func (m *NodeMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*m = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("nodes must be an object keyed by node id")
	}

	var out NodeMap
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		id, _ := keyTok.(string)
		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("node %q: %w", id, err)
		}
		out = append(out, NewNodeSpec(id, raw))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// MarshalJSON encodes the nodes as an object in declaration order.
func (m NodeMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(n.object())
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML mapping keeping key order.
func (m *NodeMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: nodes must be a mapping keyed by node id", value.Line)
	}
	out := make(NodeMap, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		id := value.Content[i].Value
		var raw map[string]any
		if err := value.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("node %q: %w", id, err)
		}
		out = append(out, NewNodeSpec(id, raw))
	}
	*m = out
	return nil
}

// NewNodeSpec splits a raw node object into reserved fields and config.
func NewNodeSpec(id string, raw map[string]any) NodeSpec {
	spec := NodeSpec{ID: id, Raw: raw, Config: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case fieldType:
			spec.Type, _ = v.(string)
		case fieldNext:
			spec.Next = stringList(v)
		case fieldOutputs:
			spec.Outputs = stringList(v)
		case fieldID:
		default:
			spec.Config[k] = v
		}
	}
	return spec
}

func (n NodeSpec) object() map[string]any {
	if n.Raw != nil {
		return n.Raw
	}
	obj := make(map[string]any, len(n.Config)+3)
	for k, v := range n.Config {
		obj[k] = v
	}
	obj[fieldType] = n.Type
	if len(n.Next) > 0 {
		obj[fieldNext] = n.Next
	}
	if len(n.Outputs) > 0 {
		obj[fieldOutputs] = n.Outputs
	}
	return obj
}

// stringList accepts a single string or a list of strings.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// StringList is the exported form of the string-or-list coercion used for node fields.
func StringList(v any) []string {
	return stringList(v)
}

// Edge is a directed dependency. Input accepts from/to or source/target.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

type edgeInput struct {
	From   string `json:"from" yaml:"from"`
	To     string `json:"to" yaml:"to"`
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

func (in edgeInput) edge() Edge {
	e := Edge{From: in.From, To: in.To}
	if e.From == "" {
		e.From = in.Source
	}
	if e.To == "" {
		e.To = in.Target
	}
	return e
}

func (e *Edge) UnmarshalJSON(data []byte) error {
	var in edgeInput
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = in.edge()
	return nil
}

func (e *Edge) UnmarshalYAML(value *yaml.Node) error {
	var in edgeInput
	if err := value.Decode(&in); err != nil {
		return err
	}
	*e = in.edge()
	return nil
}

// Output handler types understood by the dispatcher.
const (
	OutputFile      = "file"
	OutputClipboard = "clipboard"
	OutputScreen    = "screen"
	OutputRedis     = "redis"
)

// OutputHandler configures one output sink.
type OutputHandler struct {
	Type    string   `json:"type" yaml:"type"`
	Path    string   `json:"path,omitempty" yaml:"path,omitempty"`
	Format  string   `json:"format,omitempty" yaml:"format,omitempty"`
	Append  bool     `json:"append,omitempty" yaml:"append,omitempty"`
	Title   string   `json:"title,omitempty" yaml:"title,omitempty"`
	Addr    string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	Key     string   `json:"key,omitempty" yaml:"key,omitempty"`
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`
}

// ErrorHandling is the workflow-level failure policy.
type ErrorHandling struct {
	FailureStrategy FailureStrategy      `json:"failure_strategy,omitempty" yaml:"failure_strategy,omitempty"`
	MaxRetries      *int                 `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelay      string               `json:"retry_delay,omitempty" yaml:"retry_delay,omitempty"`
	Compensation    []CompensationAction `json:"compensation,omitempty" yaml:"compensation,omitempty"`
}

// Strategy returns the configured strategy, fail_fast when unset.
func (h ErrorHandling) Strategy() FailureStrategy {
	if h.FailureStrategy == "" {
		return StrategyFailFast
	}
	return h.FailureStrategy
}

// RetryDelayDuration parses RetryDelay. Zero when unset.
func (h ErrorHandling) RetryDelayDuration() (time.Duration, error) {
	if h.RetryDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(h.RetryDelay)
	if err != nil {
		return 0, NewErrorf(ErrCodeValidation, "invalid retry_delay %q", h.RetryDelay).WithCause(err)
	}
	return d, nil
}

// CompensationAction is a node-shaped action run when the compensate strategy fires.
type CompensationAction struct {
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Spec returns the action as a NodeSpec so it can be resolved through the node registry.
func (c CompensationAction) Spec(index int) NodeSpec {
	id := c.Name
	if id == "" {
		id = fmt.Sprintf("compensation_%d", index)
	}
	cfg := make(map[string]any, len(c.Config))
	for k, v := range c.Config {
		cfg[k] = v
	}
	return NodeSpec{ID: id, Type: c.Type, Config: cfg}
}
