package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// transientPatterns mark plain errors that are worth another attempt.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"temporary failure",
	"temporarily",
	"i/o timeout",
	"timed out",
	"unavailable",
	"bad gateway",
	"gateway timeout",
	"internal server error",
	"too many requests",
	"rate limit",
	"overloaded",
}

// IsRetryableError classifies whether an error should be retried.
// Retryable: network errors, context.DeadlineExceeded, FlowErrors with retryable
// codes and plain errors matching a transient pattern. Anything else is not.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// A per-call deadline is retryable; the caller's context is checked separately.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		return flowErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Backoff is an exponential delay schedule with additive jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// Delay returns min(base*2^attempt + jitter, max) for a zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}

	delay := b.Base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			return b.Max
		}
	}

	if b.Jitter > 0 {
		delay += rand.N(b.Jitter)
	}

	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}

// WaitForBackoff sleeps for the delay or returns early if the context is cancelled.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
