// Package providers routes generation requests to AI provider backends with
// per-provider retry, circuit breaking and ordered fallback.
package providers

import "context"

// Request is a provider-agnostic generation request.
type Request struct {
	Provider  string         `json:"provider"`
	Fallbacks []string       `json:"fallbacks,omitempty"`
	Model     string         `json:"model,omitempty"`
	System    string         `json:"system,omitempty"`
	Prompt    string         `json:"prompt"`
	Context   map[string]any `json:"context,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// Response is a provider's answer.
type Response struct {
	Success  bool           `json:"success"`
	Provider string         `json:"provider"`
	Model    string         `json:"model,omitempty"`
	Content  string         `json:"content"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Provider generates responses. Implementations must honor ctx cancellation.
type Provider interface {
	Name() string
	GenerateResponse(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, req Request) (*Response, error)
}

func (p ProviderFunc) Name() string { return p.ProviderName }

func (p ProviderFunc) GenerateResponse(ctx context.Context, req Request) (*Response, error) {
	return p.Fn(ctx, req)
}
