package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/pkg/schema"
)

// Action is one guarded call to an external collaborator.
type Action func(ctx context.Context) (any, error)

// RetryConfig configures a Coordinator.
type RetryConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" validate:"gte=0,lte=10"`
	BaseDelay        time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay         time.Duration `yaml:"max_delay" validate:"gte=0"`
	Jitter           time.Duration `yaml:"jitter" validate:"gte=0"`
	CallTimeout      time.Duration `yaml:"call_timeout" validate:"gte=0"`
	BreakerThreshold int           `yaml:"breaker_threshold" validate:"gte=0"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" validate:"gte=0"`
}

// DefaultRetryConfig returns the default retry and breaker settings.
func DefaultRetryConfig() RetryConfig {
	cb := DefaultCircuitBreakerConfig()
	return RetryConfig{
		MaxAttempts:      3,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		Jitter:           250 * time.Millisecond,
		CallTimeout:      60 * time.Second,
		BreakerThreshold: cb.FailureThreshold,
		BreakerCooldown:  cb.Cooldown,
	}
}

// Stats is a snapshot of a coordinator's usage.
type Stats struct {
	Name                string    `json:"name"`
	Calls               int64     `json:"calls"`
	Successes           int64     `json:"successes"`
	Failures            int64     `json:"failures"`
	Attempts            int64     `json:"attempts"`
	Rejected            int64     `json:"rejected"`
	LastCall            time.Time `json:"last_call,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	State               string    `json:"state"`
}

// Coordinator wraps calls to one collaborator instance with backoff retries,
// a per-attempt timeout and a circuit breaker.
type Coordinator struct {
	name    string
	config  RetryConfig
	breaker *CircuitBreaker
	backoff Backoff
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats Stats
}

// NewCoordinator creates a Coordinator. A nil logger discards output.
func NewCoordinator(name string, config RetryConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	if config.MaxAttempts < 0 {
		config.MaxAttempts = 0
	}
	return &Coordinator{
		name:   name,
		config: config,
		breaker: NewCircuitBreaker(name, CircuitBreakerConfig{
			FailureThreshold: config.BreakerThreshold,
			Cooldown:         config.BreakerCooldown,
		}),
		backoff: Backoff{Base: config.BaseDelay, Max: config.MaxDelay, Jitter: config.Jitter},
		logger:  logger.With("coordinator", name),
		sleep:   WaitForBackoff,
		stats:   Stats{Name: name},
	}
}

// Call runs action up to MaxAttempts+1 times. An open circuit rejects the call
// without invoking action. Exhaustion counts as one breaker failure; a call
// ended by the caller's context does not.
func (c *Coordinator) Call(ctx context.Context, action Action) (any, error) {
	if err := c.breaker.AllowRequest(); err != nil {
		c.mu.Lock()
		c.stats.Rejected++
		c.mu.Unlock()
		c.logger.Warn("call rejected by open circuit", "open_until", c.breaker.OpenUntil())
		return nil, err
	}

	c.mu.Lock()
	c.stats.Calls++
	c.stats.LastCall = time.Now()
	c.mu.Unlock()

	total := c.config.MaxAttempts + 1
	var lastErr error
	attempts := 0
	for attempt := 0; attempt < total; attempt++ {
		attempts++
		c.mu.Lock()
		c.stats.Attempts++
		c.mu.Unlock()

		result, err := c.attempt(ctx, action)
		if err == nil {
			c.breaker.RecordSuccess()
			c.mu.Lock()
			c.stats.Successes++
			c.mu.Unlock()
			return result, nil
		}
		lastErr = err

		c.logger.Warn("attempt failed",
			"attempt", attempt+1,
			"max_attempts", total,
			"error", err,
		)

		if ctx.Err() != nil || !IsRetryableError(err) {
			break
		}
		if attempt == total-1 {
			break
		}
		if err := c.sleep(ctx, c.backoff.Delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	if ctx.Err() != nil {
		// Caller cancellation is not a downstream failure.
		c.logger.Debug("call abandoned by caller", "attempts", attempts, "error", ctx.Err())
		return nil, lastErr
	}
	c.breaker.RecordFailure()
	c.mu.Lock()
	c.stats.Failures++
	c.mu.Unlock()

	return nil, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"%s failed after %d attempt(s): %v", c.name, attempts, lastErr).
		WithCause(lastErr).
		WithDetails(map[string]any{"name": c.name, "attempts": attempts})
}

type attemptResult struct {
	value any
	err   error
}

// attempt runs action under CallTimeout. An action that ignores its context is
// abandoned when the deadline passes.
func (c *Coordinator) attempt(ctx context.Context, action Action) (any, error) {
	callCtx := ctx
	if c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
	}

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: schema.NewErrorf(schema.ErrCodeNodeFailed, "panic in %s: %v", c.name, r)}
			}
		}()
		v, err := action(callCtx)
		done <- attemptResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schema.NewErrorf(schema.ErrCodeTimeout, "%s timed out after %s", c.name, c.config.CallTimeout).
			WithCause(context.DeadlineExceeded)
	}
}

// Reset closes the circuit manually.
func (c *Coordinator) Reset() {
	c.breaker.Reset()
	c.logger.Info("circuit reset")
}

// State returns the breaker state.
func (c *Coordinator) State() CircuitState {
	return c.breaker.State()
}

// Stats returns a usage snapshot.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	s := c.stats
	c.mu.Unlock()
	s.ConsecutiveFailures = c.breaker.ConsecutiveFailures()
	s.State = c.breaker.State().String()
	return s
}
