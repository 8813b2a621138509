package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableError_Nil(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
}

func TestIsRetryableError_Context(t *testing.T) {
	assert.False(t, IsRetryableError(context.Canceled))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
}

func TestIsRetryableError_FlowError(t *testing.T) {
	retryable := []string{
		schema.ErrCodeNodeFailed,
		schema.ErrCodeTimeout,
		schema.ErrCodeSelector,
		schema.ErrCodeProvider,
		schema.ErrCodePersistence,
	}
	for _, code := range retryable {
		assert.True(t, IsRetryableError(schema.NewError(code, "x")), "expected %s to be retryable", code)
	}

	nonRetryable := []string{
		schema.ErrCodeValidation,
		schema.ErrCodeGraph,
		schema.ErrCodeCycleDetected,
		schema.ErrCodeUnknownNodeType,
		schema.ErrCodeCircuitOpen,
		schema.ErrCodeNotFound,
	}
	for _, code := range nonRetryable {
		assert.False(t, IsRetryableError(schema.NewError(code, "x")), "expected %s to be non-retryable", code)
	}
}

func TestIsRetryableError_PlainErrors(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"dial tcp: connection refused", true},
		{"read: Connection Reset by peer", true},
		{"unexpected EOF", true},
		{"claude unavailable", true},
		{"503 Service Unavailable", true},
		{"429 Too Many Requests", true},
		{"request timed out", true},
		{"something odd", false},
		{"invalid api key", false},
		{"permission denied", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(errors.New(tt.msg)))
		})
	}
}

func TestIsRetryableError_WrappedPlainError(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("call claude: %w", errors.New("broken pipe"))))
	assert.False(t, IsRetryableError(fmt.Errorf("call claude: %w", errors.New("bad request"))))
}

func TestBackoff_Exponential(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, b.Delay(0))
	assert.Equal(t, 200*time.Millisecond, b.Delay(1))
	assert.Equal(t, 400*time.Millisecond, b.Delay(2))
	assert.Equal(t, 800*time.Millisecond, b.Delay(3))
	assert.Equal(t, time.Second, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(40))
}

func TestBackoff_JitterIsBounded(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: 150 * time.Millisecond, Jitter: 200 * time.Millisecond}
	for i := 0; i < 50; i++ {
		d := b.Delay(0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestBackoff_ZeroBase(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff{}.Delay(3))
}

func TestWaitForBackoff(t *testing.T) {
	assert.NoError(t, WaitForBackoff(context.Background(), 0))
	assert.NoError(t, WaitForBackoff(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForBackoff(ctx, time.Hour), context.Canceled)
}
