package resilience

import (
	"sync"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Cooldown elapsed, next call is a trial
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive exhausted calls before opening.
	FailureThreshold int
	// Cooldown is how long the circuit rejects calls after the last failure.
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig returns the default breaker configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker guards one collaborator instance.
// The circuit is open iff consecutiveFailures >= threshold and the last failure is
// younger than the cooldown. State is derived on read, never stored.
type CircuitBreaker struct {
	mu                  sync.Mutex
	name                string
	consecutiveFailures int
	lastFailureTime     time.Time
	config              CircuitBreakerConfig
	now                 func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	return &CircuitBreaker{name: name, config: config, now: time.Now}
}

// AllowRequest returns nil when a call may proceed, or a CIRCUIT_OPEN error.
func (cb *CircuitBreaker) AllowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.stateLocked() != CircuitOpen {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeCircuitOpen,
		"circuit breaker open for %q: %d consecutive failures", cb.name, cb.consecutiveFailures).
		WithDetails(map[string]any{
			"name":                 cb.name,
			"consecutive_failures": cb.consecutiveFailures,
			"open_until":           cb.lastFailureTime.Add(cb.config.Cooldown),
		})
}

// RecordSuccess resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
}

// RecordFailure counts one exhausted call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures++
	cb.lastFailureTime = cb.now()
}

// Reset closes the circuit manually.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	cb.lastFailureTime = time.Time{}
}

// State returns the current derived state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// OpenUntil returns when an open circuit stops rejecting calls. Zero when closed.
func (cb *CircuitBreaker) OpenUntil() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.stateLocked() != CircuitOpen {
		return time.Time{}
	}
	return cb.lastFailureTime.Add(cb.config.Cooldown)
}

// ConsecutiveFailures returns the current failure count.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

func (cb *CircuitBreaker) stateLocked() CircuitState {
	if cb.consecutiveFailures < cb.config.FailureThreshold {
		return CircuitClosed
	}
	if cb.now().Sub(cb.lastFailureTime) < cb.config.Cooldown {
		return CircuitOpen
	}
	return CircuitHalfOpen
}
