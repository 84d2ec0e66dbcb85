package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for credential pool operations.
var (
	credentialsUsable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "extract_credentials_usable",
		Help: "Number of credentials currently in the active state",
	})

	credentialOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_credential_outcomes_total",
		Help: "Total reported call outcomes by credential and outcome",
	}, []string{"credential", "outcome"})

	credentialCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extract_credential_cooldowns_total",
		Help: "Total number of times a credential entered cooldown",
	})

	acquireFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extract_acquire_failures_total",
		Help: "Total number of Acquire calls that found no usable credential",
	})
)

// ErrNoUsableCredential is returned by Acquire when every credential is
// cooling down, exhausted, or retired. Callers should treat this as a
// run-level pause condition, not a per-item failure.
var ErrNoUsableCredential = errors.New("no usable credential in pool")

// Outcome classifies the result of one inference call for pool bookkeeping.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeRateLimited       Outcome = "rate_limited"
	OutcomeQuotaExhausted    Outcome = "quota_exhausted"
	OutcomeTransientFailure  Outcome = "transient_failure"
	OutcomeInvalidCredential Outcome = "invalid_credential"

	// OutcomePermanentFailure means the item was rejected for reasons that
	// say nothing about the credential; only the request counter moves.
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// Config holds pool configuration.
type Config struct {
	// Cooldown is how long a rate-limited credential is parked.
	Cooldown time.Duration

	// FailureThreshold is the number of consecutive transient failures
	// before a credential is cooled down defensively.
	FailureThreshold int

	// RequestsPerSecond paces each credential with a token bucket.
	// Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the token bucket burst size when pacing is enabled.
	Burst int
}

// DefaultConfig returns a safe default pool configuration.
func DefaultConfig() Config {
	return Config{
		Cooldown:         DefaultCooldown,
		FailureThreshold: DefaultFailureThreshold,
	}
}

// Lease is a borrowed credential handle. The dispatcher holds it for the
// duration of one call and must report the outcome back via Report.
type Lease struct {
	ID     string
	Secret string

	cred *Credential
}

// Pool owns the credential set. All state transitions happen under one
// mutex; the inference call itself must never run while the lock is held.
type Pool struct {
	mu       sync.Mutex
	creds    []*Credential
	limiters []*rate.Limiter
	next     int
	cfg      Config
	logger   zerolog.Logger

	// now is swappable for tests; time arithmetic stays monotonic because
	// the time.Time values originate from time.Now in production.
	now func() time.Time
}

// NewPool creates a pool from an ordered list of opaque secrets.
func NewPool(secrets []string, cfg Config, logger zerolog.Logger) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("at least one credential is required")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}

	p := &Pool{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for i, secret := range secrets {
		if secret == "" {
			return nil, fmt.Errorf("credential %d is empty", i)
		}
		p.creds = append(p.creds, newCredential(i, secret))
		if cfg.RequestsPerSecond > 0 {
			burst := cfg.Burst
			if burst <= 0 {
				burst = 1
			}
			p.limiters = append(p.limiters, rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst))
		} else {
			p.limiters = append(p.limiters, nil)
		}
	}

	credentialsUsable.Set(float64(len(p.creds)))

	logger.Info().
		Int("credentials", len(p.creds)).
		Dur("cooldown", cfg.Cooldown).
		Int("failure_threshold", cfg.FailureThreshold).
		Msg("Credential pool initialized")

	return p, nil
}

// Acquire selects the next usable credential in round-robin order.
// If no credential is active it first reclaims any cooldown that has
// elapsed; if still none is usable it fails with ErrNoUsableCredential.
// The per-credential pacing wait happens outside the pool lock.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	cred, limiter := p.selectLocked()
	p.mu.Unlock()

	if cred == nil {
		acquireFailuresTotal.Inc()
		p.logger.Warn().Msg("No usable credential available")
		return nil, ErrNoUsableCredential
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("credential pacing wait: %w", err)
		}
	}

	p.logger.Debug().
		Str("credential", cred.ID).
		Msg("Credential acquired")

	return &Lease{ID: cred.ID, Secret: cred.secret, cred: cred}, nil
}

// selectLocked implements round-robin selection with lazy cooldown reclaim.
// Caller must hold the pool lock.
func (p *Pool) selectLocked() (*Credential, *rate.Limiter) {
	if c, l := p.scanLocked(); c != nil {
		return c, l
	}

	// No active credential. Reclaim every cooldown that has elapsed,
	// then scan once more.
	now := p.now()
	reclaimed := 0
	for _, c := range p.creds {
		if c.CooldownElapsed(now) {
			c.State = StateActive
			c.ConsecutiveFailures = 0
			reclaimed++
			p.logger.Info().
				Str("credential", c.ID).
				Msg("Credential reclaimed after cooldown")
		}
	}
	if reclaimed == 0 {
		return nil, nil
	}
	p.updateUsableGaugeLocked()
	return p.scanLocked()
}

// scanLocked walks the ring once starting at p.next and returns the first
// active credential, advancing the cursor past it.
func (p *Pool) scanLocked() (*Credential, *rate.Limiter) {
	for i := 0; i < len(p.creds); i++ {
		idx := (p.next + i) % len(p.creds)
		if p.creds[idx].Usable() {
			p.next = (idx + 1) % len(p.creds)
			return p.creds[idx], p.limiters[idx]
		}
	}
	return nil, nil
}

// Report records the outcome of one call made with the leased credential
// and applies the resulting state transition.
func (p *Pool) Report(lease *Lease, outcome Outcome) {
	if lease == nil || lease.cred == nil {
		return
	}
	c := lease.cred

	p.mu.Lock()
	defer p.mu.Unlock()

	credentialOutcomesTotal.WithLabelValues(c.ID, string(outcome)).Inc()

	// Concurrent workers can hold leases on the same credential, so a
	// report may arrive after another lease already parked it. Counters
	// always move; state transitions that park a credential apply only
	// while it is Active. Retired absorbs everything, Exhausted everything
	// except ResetDaily.
	switch outcome {
	case OutcomeSuccess:
		c.TotalRequests++
		c.TotalSuccesses++
		c.ConsecutiveFailures = 0

	case OutcomeRateLimited:
		c.TotalRequests++
		c.TotalRateLimited++
		if c.State == StateActive {
			p.coolDownLocked(c, "rate limited")
		}

	case OutcomeQuotaExhausted:
		c.TotalRequests++
		if c.State == StateActive || c.State == StateCoolingDown {
			c.State = StateExhausted
			c.CooldownUntil = time.Time{}
			p.logger.Warn().
				Str("credential", c.ID).
				Msg("Credential exhausted daily quota")
		}

	case OutcomeInvalidCredential:
		c.TotalRequests++
		if c.State != StateRetired {
			c.State = StateRetired
			c.CooldownUntil = time.Time{}
			p.logger.Error().
				Str("credential", c.ID).
				Msg("Credential rejected as invalid - retired for this run")
		}

	case OutcomePermanentFailure:
		c.TotalRequests++

	case OutcomeTransientFailure:
		c.TotalRequests++
		if c.State == StateActive {
			c.ConsecutiveFailures++
			// Transient errors are not attributed to the credential
			// unless they keep happening on it.
			if c.ConsecutiveFailures >= p.cfg.FailureThreshold {
				p.coolDownLocked(c, "consecutive transient failures")
			}
		}
	}

	p.updateUsableGaugeLocked()
}

// coolDownLocked parks a credential for the configured cooldown window.
func (p *Pool) coolDownLocked(c *Credential, reason string) {
	c.State = StateCoolingDown
	c.CooldownUntil = p.now().Add(p.cfg.Cooldown)
	c.ConsecutiveFailures = 0
	credentialCooldownsTotal.Inc()

	p.logger.Warn().
		Str("credential", c.ID).
		Str("reason", reason).
		Time("cooldown_until", c.CooldownUntil).
		Msg("Credential entering cooldown")
}

// ResetDaily restores exhausted credentials to active. Intended to be
// triggered externally at the provider's quota day boundary. Retired
// credentials stay retired.
func (p *Pool) ResetDaily() {
	p.mu.Lock()
	defer p.mu.Unlock()

	restored := 0
	for _, c := range p.creds {
		if c.State == StateExhausted {
			c.State = StateActive
			c.ConsecutiveFailures = 0
			restored++
		}
	}
	p.updateUsableGaugeLocked()

	if restored > 0 {
		p.logger.Info().
			Int("restored", restored).
			Msg("Daily quota reset applied")
	}
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int {
	return len(p.creds)
}

func (p *Pool) updateUsableGaugeLocked() {
	usable := 0
	for _, c := range p.creds {
		if c.Usable() {
			usable++
		}
	}
	credentialsUsable.Set(float64(usable))
}
