package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "extract_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_retry_exhausted_total",
		Help: "Total number of items that exhausted dispatch attempts by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the retry policy for one dispatch: attempt budget and
// backoff shape. It exists once so retry semantics are tested once,
// independent of the batch driver.
type RetryConfig struct {
	// MaxAttempts is the maximum number of dispatch attempts per item
	// (including the initial one).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass returns the retry policy tuned for an error class.
func RetryConfigForErrorClass(class ErrorClass) RetryConfig {
	switch class {
	case ErrorClassRateLimited:
		// Rate limits clear on the provider's window; back off longer.
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassInvalidCredential:
		// The replacement credential is immediately usable.
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        1 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassTransient:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

// Backoff returns the delay before retry number `retry` (1-based), with
// exponential growth capped at MaxBackoff. No jitter; see JitteredBackoff.
func (c RetryConfig) Backoff(retry int) time.Duration {
	backoff := c.InitialBackoff
	for i := 1; i < retry; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if backoff > c.MaxBackoff {
		return c.MaxBackoff
	}
	return backoff
}

// JitteredBackoff adds ±20% randomness to prevent thundering herd when
// several workers back off at once.
func (c RetryConfig) JitteredBackoff(retry int) time.Duration {
	backoff := c.Backoff(retry)
	return time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
}

// waitRetry sleeps for the jittered backoff of the given retry, respecting
// context cancellation. Records retry metrics for the error class.
func waitRetry(ctx context.Context, cfg RetryConfig, retry int, class ErrorClass) error {
	retriesTotal.WithLabelValues(string(class)).Inc()

	delay := cfg.JitteredBackoff(retry)
	retryBackoffSeconds.WithLabelValues(string(class)).Observe(delay.Seconds())

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-time.After(delay):
		return nil
	}
}
