// Package store persists per-item extraction results and run summaries.
// Resume correctness hangs on this boundary: an item whose successful
// result can be read back is never dispatched again.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound indicates no result has been persisted for the item.
var ErrNotFound = errors.New("item result not found")

// Item statuses as persisted. Mirrors the orchestrator's terminal states.
const (
	StatusSucceeded       = "succeeded"
	StatusFailedRetryable = "failed_retryable"
	StatusFailedPermanent = "failed_permanent"
)

// ItemIdentity is the stable identity of one work item, independent of
// store layout. Index is the position in the ordered backlog; SourceRef
// the opaque document reference.
type ItemIdentity struct {
	Index     int
	SourceRef string
}

// Key returns a stable, collision-free store key for the item.
func (id ItemIdentity) Key() string {
	stem := filepath.Base(id.SourceRef)
	if ext := filepath.Ext(stem); ext != "" {
		stem = strings.TrimSuffix(stem, ext)
	}
	return fmt.Sprintf("%05d_%s", id.Index, stem)
}

// ItemResult is the persisted outcome of one work item: either the
// extracted payload or the classified failure, never both.
type ItemResult struct {
	Index       int             `json:"index"`
	SourceRef   string          `json:"source_ref"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Error       string          `json:"error,omitempty"`
	RunID       string          `json:"run_id,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Succeeded reports whether the persisted result is a terminal success.
func (r *ItemResult) Succeeded() bool {
	return r != nil && r.Status == StatusSucceeded
}

// ItemStore persists item results and run summaries. Concurrent writers
// must target distinct items; the key derivation guarantees distinct keys.
type ItemStore interface {
	// WriteItemResult persists (or overwrites) the result for one item.
	WriteItemResult(ctx context.Context, id ItemIdentity, res *ItemResult) error

	// ReadItemResult returns the persisted result for one item, or
	// ErrNotFound when the item has never terminated.
	ReadItemResult(ctx context.Context, id ItemIdentity) (*ItemResult, error)

	// WriteSummary persists the run summary under the run's ID.
	WriteSummary(ctx context.Context, runID string, summary any) error
}
