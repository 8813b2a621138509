package nodes

import (
	"sort"
	"sync"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// Built-in node kinds. The set is closed; extensions go through Register.
const (
	KindDOMAction   = "dom_action"
	KindProvider    = "provider"
	KindTransform   = "transform"
	KindConditional = "conditional"
	KindExport      = "export"
)

// Env is what factories may use while building nodes.
type Env struct {
	Expressions *expressions.Registry
}

// Factory builds a node from its spec. Config problems are reported here, at
// load time, rather than during execution.
type Factory func(spec schema.NodeSpec, env *Env) (Node, error)

var builtins = map[string]Factory{
	KindDOMAction:   newDOMActionNode,
	KindProvider:    newProviderNode,
	KindTransform:   newTransformNode,
	KindConditional: newConditionalNode,
	KindExport:      newExportNode,
}

// Registry resolves node types: built-in kinds first, then custom factories.
type Registry struct {
	mu     sync.RWMutex
	custom map[string]Factory
	env    *Env
}

// NewRegistry creates a registry whose factories share exprs.
func NewRegistry(exprs *expressions.Registry) *Registry {
	return &Registry{
		custom: make(map[string]Factory),
		env:    &Env{Expressions: exprs},
	}
}

// Register adds a custom node type. Built-in kinds cannot be replaced.
func (r *Registry) Register(typeName string, f Factory) error {
	if typeName == "" {
		return schema.NewError(schema.ErrCodeValidation, "node type name is empty")
	}
	if f == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node type %q has nil factory", typeName)
	}
	if _, ok := builtins[typeName]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q is built in", typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.custom[typeName]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q already registered", typeName)
	}
	r.custom[typeName] = f
	return nil
}

// Resolve instantiates the node for spec.
func (r *Registry) Resolve(spec schema.NodeSpec) (Node, error) {
	f, ok := builtins[spec.Type]
	if !ok {
		r.mu.RLock()
		f, ok = r.custom[spec.Type]
		r.mu.RUnlock()
	}
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "unknown node type %q", spec.Type).
			WithNode(spec.ID)
	}

	n, err := f(spec, r.env)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeValidation).WithNode(spec.ID)
	}
	return n, nil
}

// Has reports whether typeName resolves.
func (r *Registry) Has(typeName string) bool {
	if _, ok := builtins[typeName]; ok {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.custom[typeName]
	return ok
}

// Types returns every resolvable type name, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(builtins)+len(r.custom))
	for t := range builtins {
		types = append(types, t)
	}
	for t := range r.custom {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// BuiltinKinds returns the closed set of built-in kinds, sorted.
func BuiltinKinds() []string {
	kinds := make([]string, 0, len(builtins))
	for k := range builtins {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
