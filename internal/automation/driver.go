// Package automation defines the browser automation collaborator used by
// automation nodes.
package automation

import (
	"context"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// Driver performs DOM automation against a target (a tab, page or session id).
type Driver interface {
	// ResolveSelector maps a logical selector key to a concrete selector.
	ResolveSelector(key string) (string, bool)
	PerformAction(ctx context.Context, req ActionRequest) (*ActionResult, error)
	WaitForReady(ctx context.Context, target string, timeout time.Duration) error
}

// Request is what an automation node asks the engine to perform.
type Request struct {
	Target      string        `json:"target,omitempty"`
	Action      string        `json:"action"`
	SelectorKey string        `json:"selector_key,omitempty"`
	Selector    string        `json:"selector,omitempty"`
	Fallbacks   []string      `json:"fallbacks,omitempty"`
	Value       any           `json:"value,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Keys returns the selector key followed by its fallbacks, in resolution order.
func (r Request) Keys() []string {
	keys := make([]string, 0, len(r.Fallbacks)+1)
	if r.SelectorKey != "" {
		keys = append(keys, r.SelectorKey)
	}
	return append(keys, r.Fallbacks...)
}

// ActionRequest is one resolved DOM action.
type ActionRequest struct {
	Target   string        `json:"target,omitempty"`
	Action   string        `json:"action"`
	Selector string        `json:"selector"`
	Value    any           `json:"value,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// ActionResult is the outcome of a DOM action.
type ActionResult struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Resolve returns the first selector that resolves: a literal selector wins,
// then the key, then each fallback key in order.
func Resolve(d Driver, req Request) (selector, key string, ok bool) {
	if req.Selector != "" {
		return req.Selector, "", true
	}
	for _, k := range req.Keys() {
		if sel, found := d.ResolveSelector(k); found && sel != "" {
			return sel, k, true
		}
	}
	return "", "", false
}

// SelectorTable is a static key to selector map.
type SelectorTable map[string]string

func (t SelectorTable) ResolveSelector(key string) (string, bool) {
	sel, ok := t[key]
	return sel, ok
}

// Unsupported is the driver used when no browser is attached. It resolves
// selectors from its table but fails every action.
type Unsupported struct {
	Selectors SelectorTable
}

func (u Unsupported) ResolveSelector(key string) (string, bool) {
	return u.Selectors.ResolveSelector(key)
}

func (Unsupported) PerformAction(context.Context, ActionRequest) (*ActionResult, error) {
	return nil, schema.NewError(schema.ErrCodeValidation, "no automation driver configured")
}

func (Unsupported) WaitForReady(context.Context, string, time.Duration) error {
	return schema.NewError(schema.ErrCodeValidation, "no automation driver configured")
}
