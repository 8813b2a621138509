package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(cfg RetryConfig) (*Coordinator, *[]time.Duration) {
	c := NewCoordinator("claude", cfg, nil)
	var slept []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return c, &slept
}

func TestCoordinator_SucceedsFirstTry(t *testing.T) {
	c, slept := newTestCoordinator(RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, BreakerThreshold: 2, BreakerCooldown: time.Minute})

	out, err := c.Call(context.Background(), func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Empty(t, *slept)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(1), stats.Successes)
	assert.False(t, stats.LastCall.IsZero())
	assert.Equal(t, "closed", stats.State)
}

func TestCoordinator_RetriesThenSucceeds(t *testing.T) {
	c, slept := newTestCoordinator(RetryConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, BreakerThreshold: 2, BreakerCooldown: time.Minute})

	var calls int32
	out, err := c.Call(context.Background(), func(context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("service unavailable")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, int32(3), calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *slept)
}

func TestCoordinator_ExhaustsAfterMaxAttemptsPlusOne(t *testing.T) {
	c, slept := newTestCoordinator(RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, BreakerThreshold: 5, BreakerCooldown: time.Minute})

	var calls int32
	boom := errors.New("connection refused")
	_, err := c.Call(context.Background(), func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls)
	assert.Len(t, *slept, 2)

	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeRetryExhausted, flowErr.Code)
	assert.Equal(t, 3, flowErr.Details["attempts"])
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.Stats().ConsecutiveFailures)
}

func TestCoordinator_NonRetryableStopsEarly(t *testing.T) {
	c, _ := newTestCoordinator(RetryConfig{MaxAttempts: 5, BreakerThreshold: 5, BreakerCooldown: time.Minute})

	var calls int32
	_, err := c.Call(context.Background(), func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, schema.NewError(schema.ErrCodeValidation, "bad prompt")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestCoordinator_OpenCircuitShortCircuits(t *testing.T) {
	c, _ := newTestCoordinator(RetryConfig{MaxAttempts: 0, BreakerThreshold: 2, BreakerCooldown: time.Hour})

	fail := func(context.Context) (any, error) { return nil, errors.New("down") }
	_, _ = c.Call(context.Background(), fail)
	_, _ = c.Call(context.Background(), fail)
	require.Equal(t, CircuitOpen, c.State())

	var invoked bool
	_, err := c.Call(context.Background(), func(context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	require.Error(t, err)
	assert.False(t, invoked, "open circuit must not invoke the action")
	assert.True(t, schema.HasCode(err, schema.ErrCodeCircuitOpen))
	assert.Equal(t, int64(1), c.Stats().Rejected)

	c.Reset()
	out, err := c.Call(context.Background(), func(context.Context) (any, error) { return "back", nil })
	require.NoError(t, err)
	assert.Equal(t, "back", out)
}

func TestCoordinator_CallTimeout(t *testing.T) {
	c, _ := newTestCoordinator(RetryConfig{MaxAttempts: 1, CallTimeout: 20 * time.Millisecond, BreakerThreshold: 5, BreakerCooldown: time.Minute})

	var calls int32
	_, err := c.Call(context.Background(), func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.True(t, schema.HasCode(err, schema.ErrCodeRetryExhausted))
}

func TestCoordinator_PanicBecomesError(t *testing.T) {
	c, _ := newTestCoordinator(RetryConfig{BreakerThreshold: 5, BreakerCooldown: time.Minute})
	_, err := c.Call(context.Background(), func(context.Context) (any, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestCoordinator_CancelledContextStops(t *testing.T) {
	c, _ := newTestCoordinator(RetryConfig{MaxAttempts: 5, BreakerThreshold: 5, BreakerCooldown: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	_, err := c.Call(ctx, func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		cancel()
		return nil, errors.New("flaky")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestCoordinator_CallerCancellationLeavesBreakerClosed(t *testing.T) {
	c, _ := newTestCoordinator(RetryConfig{MaxAttempts: 2, BreakerThreshold: 1, BreakerCooldown: time.Hour})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := c.Call(ctx, func(context.Context) (any, error) {
			cancel()
			return nil, errors.New("connection reset")
		})
		require.Error(t, err)
	}

	assert.Equal(t, CircuitClosed, c.State())
	assert.Equal(t, 0, c.Stats().ConsecutiveFailures)
	assert.Equal(t, int64(0), c.Stats().Failures)

	_, err := c.Call(context.Background(), func(context.Context) (any, error) { return "ok", nil })
	require.NoError(t, err)
}

func TestCoordinator_UnclassifiedErrorIsNotRetried(t *testing.T) {
	c, slept := newTestCoordinator(RetryConfig{MaxAttempts: 3, BreakerThreshold: 5, BreakerCooldown: time.Minute})

	var calls int32
	_, err := c.Call(context.Background(), func(context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("invalid api key")
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
	assert.Empty(t, *slept)
	assert.Equal(t, 1, c.Stats().ConsecutiveFailures)
}

func TestNewCoordinator_NilLoggerDiscards(t *testing.T) {
	c := NewCoordinator("quiet", RetryConfig{BreakerThreshold: 1, BreakerCooldown: time.Minute}, nil)
	assert.False(t, c.logger.Enabled(context.Background(), slog.LevelError))
}
