// Package metrics provides the centralized Prometheus metrics reference for
// the extraction core. All metrics are defined in their respective packages
// (credential, dispatch, batch) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registerer used by the extraction core.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Credential Pool Metrics (pkg/credential):
//   - extract_credentials_usable (Gauge): Credentials currently active
//   - extract_credential_outcomes_total{credential, outcome} (Counter): Reported call outcomes
//   - extract_credential_cooldowns_total (Counter): Times a credential entered cooldown
//   - extract_acquire_failures_total (Counter): Acquire calls that found no usable credential
//
// Dispatch Metrics (pkg/dispatch):
//   - extract_dispatches_total{outcome} (Counter): Dispatch results (success, permanent, exhausted, no_credential, unreadable)
//   - extract_dispatch_duration_seconds (Histogram): Per-item dispatch duration including retries
//   - extract_attempts_total{error_class} (Counter): Individual inference attempts by error class
//   - extract_retries_total{error_class} (Counter): Retry attempts by error class
//   - extract_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - extract_retry_exhausted_total{error_class} (Counter): Items that exhausted dispatch attempts
//
// Batch Metrics (pkg/batch):
//   - extract_items_processed_total{status} (Counter): Work items by terminal status
//   - extract_runs_paused_total (Counter): Runs paused because no credential was usable
//   - extract_run_duration_seconds (Histogram): Batch run durations
//
// Example Prometheus Queries:
//
//   # Share of dispatches resolved without retries
//   rate(extract_attempts_total{error_class="none"}[5m]) /
//   sum(rate(extract_attempts_total[5m]))
//
//   # Pool health
//   extract_credentials_usable == 0
//
//   # Per-item failure rate
//   sum(rate(extract_items_processed_total{status=~"failed.*"}[5m])) /
//   sum(rate(extract_items_processed_total[5m]))
//
//   # P95 dispatch latency
//   histogram_quantile(0.95, rate(extract_dispatch_duration_seconds_bucket[5m]))
