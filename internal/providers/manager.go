package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/resilience"
	"github.com/rendis/autoflow/pkg/schema"
)

type entry struct {
	provider    Provider
	coordinator *resilience.Coordinator
}

// Manager owns the provider instances, one Coordinator per instance.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]*entry
	fallbacks []string
	retry     resilience.RetryConfig
	logger    *slog.Logger
}

// NewManager creates a Manager. fallbacks is the default fallback order used when a
// request names none.
func NewManager(retry resilience.RetryConfig, fallbacks []string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		providers: make(map[string]*entry),
		fallbacks: fallbacks,
		retry:     retry,
		logger:    logger,
	}
}

// Register adds a provider. Returns CONFLICT if the name is taken.
func (m *Manager) Register(p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := p.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "provider name is empty")
	}
	if _, exists := m.providers[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "provider %q already registered", name)
	}
	m.providers[name] = &entry{
		provider:    p,
		coordinator: resilience.NewCoordinator("provider:"+name, m.retry, m.logger),
	}
	return nil
}

// Has reports whether a provider is registered.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.providers[name]
	return ok
}

// Names returns registered provider names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Generate tries the requested provider, then the fallback chain, skipping any
// provider already tried. The first success wins.
func (m *Manager) Generate(ctx context.Context, req Request) (*Response, error) {
	chain := m.chain(req)
	if len(chain) == 0 {
		return nil, schema.NewError(schema.ErrCodeProvider, "no provider requested and no fallbacks configured")
	}

	var attempted []string
	var errs []error
	failures := make(map[string]string)
	missing := 0
	for _, name := range chain {
		e := m.lookup(name)
		if e == nil {
			err := schema.NewErrorf(schema.ErrCodeNotFound, "provider %q not registered", name)
			attempted = append(attempted, name)
			errs = append(errs, err)
			failures[name] = err.Message
			missing++
			continue
		}

		attempted = append(attempted, name)
		resp, err := m.call(ctx, e, req)
		if err == nil {
			if len(attempted) > 1 {
				m.logger.Info("provider fallback succeeded", "provider", name, "attempted", attempted)
			}
			return resp, nil
		}
		m.logger.Warn("provider failed", "provider", name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		failures[name] = err.Error()

		if ctx.Err() != nil {
			break
		}
	}

	// A chain of unregistered names cannot succeed on retry.
	code := schema.ErrCodeProvider
	if missing == len(attempted) {
		code = schema.ErrCodeNotFound
	}
	return nil, schema.NewErrorf(code,
		"all providers failed (attempted: %s)", strings.Join(attempted, ", ")).
		WithCause(errors.Join(errs...)).
		WithDetails(map[string]any{"attempted": attempted, "errors": failures})
}

func (m *Manager) call(ctx context.Context, e *entry, req Request) (*Response, error) {
	req.Provider = e.provider.Name()
	out, err := e.coordinator.Call(ctx, func(ctx context.Context) (any, error) {
		resp, err := e.provider.GenerateResponse(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || !resp.Success {
			msg := "provider returned no response"
			if resp != nil && resp.Error != "" {
				msg = resp.Error
			}
			return nil, schema.NewError(schema.ErrCodeProvider, msg)
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp := out.(*Response)
	if resp.Provider == "" {
		resp.Provider = e.provider.Name()
	}
	return resp, nil
}

func (m *Manager) chain(req Request) []string {
	fallbacks := req.Fallbacks
	if len(fallbacks) == 0 {
		fallbacks = m.fallbacks
	}
	seen := make(map[string]bool)
	var chain []string
	for _, name := range append([]string{req.Provider}, fallbacks...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		chain = append(chain, name)
	}
	return chain
}

func (m *Manager) lookup(name string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.providers[name]
}

// Stats returns usage stats for every provider, keyed by name.
func (m *Manager) Stats() map[string]resilience.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]resilience.Stats, len(m.providers))
	for name, e := range m.providers {
		out[name] = e.coordinator.Stats()
	}
	return out
}

// Reset manually closes the circuit of one provider.
func (m *Manager) Reset(name string) error {
	e := m.lookup(name)
	if e == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "provider %q not registered", name)
	}
	e.coordinator.Reset()
	return nil
}
