// Package credential implements the API credential pool: per-credential
// health state, round-robin selection, and outcome-driven rotation.
// Credentials hit independent rate and daily quota limits on the inference
// service; the pool keeps as many of them usable as possible without the
// callers having to know which one is currently healthy.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// State represents the health state of a single credential.
type State string

const (
	// StateActive means the credential can be handed out by Acquire.
	StateActive State = "active"

	// StateCoolingDown means the credential hit a rate limit (or too many
	// consecutive transient failures) and is parked until CooldownUntil.
	StateCoolingDown State = "cooling_down"

	// StateExhausted means the credential hit its daily quota cap.
	// Only ResetDaily restores it.
	StateExhausted State = "exhausted"

	// StateRetired means the credential was rejected as invalid by the
	// service. Retired credentials are never restored during a run.
	StateRetired State = "retired"
)

// Defaults for pool behavior.
const (
	// DefaultCooldown is how long a rate-limited credential is parked.
	DefaultCooldown = 60 * time.Second

	// DefaultFailureThreshold is the number of consecutive transient
	// failures after which a credential is cooled down defensively.
	DefaultFailureThreshold = 3
)

// Credential holds the pool-owned state for one API credential.
// The secret itself stays unexported and never appears in logs or
// persisted output; ID is derived from the position and a hash prefix.
type Credential struct {
	ID     string
	secret string

	State         State
	CooldownUntil time.Time

	ConsecutiveFailures int

	TotalRequests    int64
	TotalSuccesses   int64
	TotalRateLimited int64
}

func newCredential(index int, secret string) *Credential {
	return &Credential{
		ID:     credentialID(index, secret),
		secret: secret,
		State:  StateActive,
	}
}

// credentialID builds a stable, log-safe identifier from the credential's
// position and a short hash of the secret.
func credentialID(index int, secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("key-%d-%s", index, hex.EncodeToString(sum[:])[:8])
}

// Usable reports whether the credential can be handed out right now.
// A cooling-down credential whose window has elapsed is not usable until
// the pool promotes it back to Active.
func (c *Credential) Usable() bool {
	return c.State == StateActive
}

// CooldownElapsed reports whether a cooling-down credential may be
// reclaimed at the given instant.
func (c *Credential) CooldownElapsed(now time.Time) bool {
	return c.State == StateCoolingDown && !now.Before(c.CooldownUntil)
}

// CooldownRemaining returns the time left in the cooldown window.
// Returns 0 if the window has passed or the credential is not cooling down.
func (c *Credential) CooldownRemaining(now time.Time) time.Duration {
	if c.State != StateCoolingDown {
		return 0
	}
	remaining := c.CooldownUntil.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
