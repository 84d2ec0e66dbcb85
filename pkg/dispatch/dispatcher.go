// Package dispatch executes one logical unit of work against the external
// inference service: acquire a credential, call, classify the outcome,
// report it back to the pool, and retry with a fresh credential where the
// classification allows it.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Raos0nu/policy-extract/pkg/credential"
)

// Prometheus metrics for dispatch operations.
var (
	dispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_dispatches_total",
		Help: "Total dispatch results by outcome",
	}, []string{"outcome"})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "extract_dispatch_duration_seconds",
		Help:    "Wall-clock duration of one item dispatch including retries",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_attempts_total",
		Help: "Total inference attempts by error class (class \"none\" on success)",
	}, []string{"error_class"})
)

// Inference is the boundary to the external AI service. Implementations
// must return *ClassifiedError for failures so the core can decide retry
// and rotation behavior without knowing provider error shapes.
type Inference interface {
	Infer(ctx context.Context, prompt string, secret string) ([]byte, error)
}

// PromptSource derives the inference prompt for one work item. A source
// that cannot be read must yield a permanent ClassifiedError.
type PromptSource interface {
	Prompt(ctx context.Context, sourceRef string) (string, error)
}

// Config holds dispatcher configuration.
type Config struct {
	// Retry is the per-item retry policy. Backoff fields left zero fall
	// back to the per-class tuning of RetryConfigForErrorClass; setting
	// InitialBackoff applies the same shape to every class.
	Retry RetryConfig

	// AttemptTimeout bounds each individual inference call. A timed-out
	// call classifies as transient.
	AttemptTimeout time.Duration
}

// DefaultConfig returns a safe default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Retry:          RetryConfig{MaxAttempts: 3},
		AttemptTimeout: 90 * time.Second,
	}
}

// Dispatcher drives single-item dispatches through the credential pool.
// It owns no credential state; it borrows a lease per attempt and returns
// the outcome.
type Dispatcher struct {
	pool    *credential.Pool
	svc     Inference
	prompts PromptSource
	cfg     Config
	logger  zerolog.Logger
}

// New creates a dispatcher.
func New(pool *credential.Pool, svc Inference, prompts PromptSource, cfg Config, logger zerolog.Logger) (*Dispatcher, error) {
	if pool == nil {
		return nil, fmt.Errorf("credential pool is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("inference service is required")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompt source is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if cfg.Retry.InitialBackoff > 0 {
		if cfg.Retry.MaxBackoff <= 0 {
			cfg.Retry.MaxBackoff = DefaultRetryConfig().MaxBackoff
		}
		if cfg.Retry.BackoffMultiplier <= 0 {
			cfg.Retry.BackoffMultiplier = DefaultRetryConfig().BackoffMultiplier
		}
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 90 * time.Second
	}
	return &Dispatcher{
		pool:    pool,
		svc:     svc,
		prompts: prompts,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Dispatch processes one work item identified by sourceRef and returns the
// extracted payload. Rate-limited and transient failures are absorbed here
// by switching credentials and retrying; permanent failures and exhausted
// retries surface to the caller. If the pool has no usable credential the
// call fails immediately with credential.ErrNoUsableCredential.
func (d *Dispatcher) Dispatch(ctx context.Context, sourceRef string) ([]byte, error) {
	start := time.Now()
	defer func() {
		dispatchDuration.Observe(time.Since(start).Seconds())
	}()

	prompt, err := d.prompts.Prompt(ctx, sourceRef)
	if err != nil {
		dispatchesTotal.WithLabelValues("unreadable").Inc()
		d.logger.Warn().
			Err(err).
			Str("source", sourceRef).
			Msg("Prompt derivation failed")
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.Retry.MaxAttempts; attempt++ {
		lease, err := d.pool.Acquire(ctx)
		if err != nil {
			// No credential will appear synchronously; do not burn
			// the remaining attempts on the same condition.
			dispatchesTotal.WithLabelValues("no_credential").Inc()
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		payload, err := d.svc.Infer(attemptCtx, prompt, lease.Secret)
		cancel()

		if err == nil {
			d.pool.Report(lease, credential.OutcomeSuccess)
			attemptsTotal.WithLabelValues("none").Inc()
			dispatchesTotal.WithLabelValues("success").Inc()
			if attempt > 1 {
				d.logger.Info().
					Str("source", sourceRef).
					Int("attempt", attempt).
					Msg("Dispatch succeeded after retry")
			}
			return payload, nil
		}

		class := Classify(err)
		d.pool.Report(lease, outcomeFor(class))
		attemptsTotal.WithLabelValues(string(class)).Inc()
		lastErr = err

		d.logger.Warn().
			Err(err).
			Str("source", sourceRef).
			Str("credential", lease.ID).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Msg("Inference attempt failed")

		if !shouldRetry(class) {
			dispatchesTotal.WithLabelValues("permanent").Inc()
			return nil, err
		}
		if attempt >= d.cfg.Retry.MaxAttempts {
			break
		}
		if err := waitRetry(ctx, d.retryPolicy(class), attempt, class); err != nil {
			return nil, err
		}
	}

	retryExhaustedTotal.WithLabelValues(string(Classify(lastErr))).Inc()
	dispatchesTotal.WithLabelValues("exhausted").Inc()
	d.logger.Warn().
		Str("source", sourceRef).
		Int("max_attempts", d.cfg.Retry.MaxAttempts).
		Msg("Dispatch attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, d.cfg.Retry.MaxAttempts, lastErr)
}

// retryPolicy resolves the backoff shape for an error class: an explicitly
// configured backoff wins, otherwise the per-class tuning applies with the
// dispatcher's attempt budget.
func (d *Dispatcher) retryPolicy(class ErrorClass) RetryConfig {
	if d.cfg.Retry.InitialBackoff > 0 {
		return d.cfg.Retry
	}
	policy := RetryConfigForErrorClass(class)
	policy.MaxAttempts = d.cfg.Retry.MaxAttempts
	return policy
}

// outcomeFor maps an error class to the pool outcome it must be reported as.
func outcomeFor(class ErrorClass) credential.Outcome {
	switch class {
	case ErrorClassRateLimited:
		return credential.OutcomeRateLimited
	case ErrorClassQuotaExhausted:
		return credential.OutcomeQuotaExhausted
	case ErrorClassInvalidCredential:
		return credential.OutcomeInvalidCredential
	case ErrorClassPermanent:
		// A permanent item failure says nothing bad about the credential.
		return credential.OutcomePermanentFailure
	default:
		return credential.OutcomeTransientFailure
	}
}
