package credential

import "time"

// CredentialStats is a point-in-time snapshot of one credential's counters.
type CredentialStats struct {
	ID                  string        `json:"id"`
	State               State         `json:"state"`
	CooldownRemaining   time.Duration `json:"cooldown_remaining,omitempty"`
	Requests            int64         `json:"requests"`
	Successes           int64         `json:"successes"`
	RateLimited         int64         `json:"rate_limited"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// PoolStats aggregates per-credential snapshots and pool-wide totals.
type PoolStats struct {
	Credentials []CredentialStats `json:"credentials"`
	Usable      int               `json:"usable"`
	Requests    int64             `json:"requests"`
	Successes   int64             `json:"successes"`
	RateLimited int64             `json:"rate_limited"`
}

// StatsTracker is a passive, read-only view over a pool's counters.
// It has no mutation contract of its own; all state changes flow through
// Pool.Report.
type StatsTracker struct {
	pool *Pool
}

// NewStatsTracker creates a tracker bound to the given pool.
func NewStatsTracker(pool *Pool) *StatsTracker {
	return &StatsTracker{pool: pool}
}

// Snapshot returns the current per-credential state and pool-wide totals.
func (t *StatsTracker) Snapshot() PoolStats {
	return t.pool.Stats()
}

// Stats returns a consistent snapshot of all credential counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := PoolStats{}
	for _, c := range p.creds {
		stats.Credentials = append(stats.Credentials, CredentialStats{
			ID:                  c.ID,
			State:               c.State,
			CooldownRemaining:   c.CooldownRemaining(now),
			Requests:            c.TotalRequests,
			Successes:           c.TotalSuccesses,
			RateLimited:         c.TotalRateLimited,
			ConsecutiveFailures: c.ConsecutiveFailures,
		})
		if c.Usable() {
			stats.Usable++
		}
		stats.Requests += c.TotalRequests
		stats.Successes += c.TotalSuccesses
		stats.RateLimited += c.TotalRateLimited
	}
	return stats
}
