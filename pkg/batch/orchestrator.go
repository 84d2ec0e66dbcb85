// Package batch drives a bounded slice of an ordered backlog through the
// dispatcher, persisting every outcome before advancing so a run can be
// paused, crashed, and resumed without reprocessing or data loss.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Raos0nu/policy-extract/pkg/credential"
	"github.com/Raos0nu/policy-extract/pkg/dispatch"
	"github.com/Raos0nu/policy-extract/pkg/store"
)

// Prometheus metrics for batch runs.
var (
	itemsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "extract_items_processed_total",
		Help: "Total work items by terminal status",
	}, []string{"status"})

	runsPausedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "extract_runs_paused_total",
		Help: "Total runs paused because no credential was usable",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "extract_run_duration_seconds",
		Help:    "Wall-clock duration of batch runs",
		Buckets: []float64{1, 10, 60, 300, 900, 3600},
	})
)

// Status is the lifecycle state of one work item.
type Status string

const (
	StatusPending         Status = "pending"
	StatusInProgress      Status = "in_progress"
	StatusSucceeded       Status = "succeeded"
	StatusFailedRetryable Status = "failed_retryable"
	StatusFailedPermanent Status = "failed_permanent"
	// StatusSkipped marks items whose successful result already existed;
	// they are terminal successes that cost no dispatch.
	StatusSkipped Status = "skipped"
)

// terminal reports whether the item needs no further processing this run.
func (s Status) terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailedRetryable, StatusFailedPermanent, StatusSkipped:
		return true
	}
	return false
}

// WorkItem is one unit of the backlog. Items are mutated only by the
// orchestrator; at most one dispatch is in flight per item.
type WorkItem struct {
	SourceRef string `json:"source_ref"`
	Index     int    `json:"index"`
	Status    Status `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// Backlog enumerates the ordered set of documents to process. Items are
// materialized lazily from it.
type Backlog interface {
	Len() int
	Ref(index int) string
}

// SliceBacklog is a Backlog over an ordered list of source references.
type SliceBacklog []string

func (b SliceBacklog) Len() int             { return len(b) }
func (b SliceBacklog) Ref(index int) string { return b[index] }

// Dispatcher is the single-item execution boundary the orchestrator
// depends on; satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, sourceRef string) ([]byte, error)
}

// Options configure one run.
type Options struct {
	// StartIndex is the first backlog index to process.
	StartIndex int

	// Limit caps the number of items; 0 means all remaining.
	Limit int

	// Concurrency is the number of workers claiming items. Values < 1
	// run the backlog sequentially.
	Concurrency int

	// RunID identifies the run in summaries and logs; generated when empty.
	RunID string
}

// Summary aggregates the terminal statuses of a run. Its counts always
// equal the number of items that reached a terminal status in the slice.
type Summary struct {
	RunID      string        `json:"run_id"`
	StartIndex int           `json:"start_index"`
	Limit      int           `json:"limit,omitempty"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Paused     bool          `json:"paused,omitempty"`
	NextIndex  int           `json:"next_index"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Run is the state of one batch run.
type Run struct {
	Summary Summary
	Items   []WorkItem
}

// Progress is a read-only snapshot of a running batch for observers.
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Current   int `json:"current_index"`
}

// Orchestrator owns WorkItem and Run state. It never aborts a run because
// of a single item's failure; only pool-wide credential exhaustion or
// cancellation stops it early.
type Orchestrator struct {
	dispatcher Dispatcher
	store      store.ItemStore
	logger     zerolog.Logger

	processed atomic.Int64
	total     atomic.Int64
	current   atomic.Int64
}

// New creates an orchestrator.
func New(dispatcher Dispatcher, itemStore store.ItemStore, logger zerolog.Logger) (*Orchestrator, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if itemStore == nil {
		return nil, fmt.Errorf("item store is required")
	}
	return &Orchestrator{
		dispatcher: dispatcher,
		store:      itemStore,
		logger:     logger,
	}, nil
}

// Progress returns the current run progress for observability callers.
func (o *Orchestrator) Progress() Progress {
	return Progress{
		Processed: int(o.processed.Load()),
		Total:     int(o.total.Load()),
		Current:   int(o.current.Load()),
	}
}

// Run processes backlog[opts.StartIndex : StartIndex+Limit]. Every item's
// outcome is persisted before the next item starts; already-succeeded
// items are skipped without a dispatch, which is what makes resume safe
// and idempotent. On pool exhaustion the run pauses: untried items keep
// their pending status and the summary records the next index to resume
// from. The summary is written regardless of how the run ended.
func (o *Orchestrator) Run(ctx context.Context, backlog Backlog, opts Options) (*Run, error) {
	start := time.Now()
	defer func() {
		runDuration.Observe(time.Since(start).Seconds())
	}()

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.StartIndex < 0 {
		opts.StartIndex = 0
	}

	end := backlog.Len()
	if opts.Limit > 0 && opts.StartIndex+opts.Limit < end {
		end = opts.StartIndex + opts.Limit
	}
	if opts.StartIndex > end {
		opts.StartIndex = end
	}

	run := &Run{
		Summary: Summary{
			RunID:      opts.RunID,
			StartIndex: opts.StartIndex,
			Limit:      opts.Limit,
			StartedAt:  start,
			NextIndex:  end,
		},
	}
	for i := opts.StartIndex; i < end; i++ {
		run.Items = append(run.Items, WorkItem{
			SourceRef: backlog.Ref(i),
			Index:     i,
			Status:    StatusPending,
		})
	}

	o.processed.Store(0)
	o.total.Store(int64(len(run.Items)))
	o.current.Store(int64(opts.StartIndex))

	logger := o.logger.With().Str("run_id", opts.RunID).Logger()
	logger.Info().
		Int("start_index", opts.StartIndex).
		Int("items", len(run.Items)).
		Int("concurrency", opts.Concurrency).
		Msg("Starting batch run")

	var paused atomic.Bool
	var mu sync.Mutex // guards run.Items mutation from workers

	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(run.Items) && len(run.Items) > 0 {
		workers = len(run.Items)
	}

	// Workers claim distinct positions from the channel, so at most one
	// dispatch is ever in flight per item.
	claims := make(chan int)
	go func() {
		defer close(claims)
		for pos := range run.Items {
			if paused.Load() || ctx.Err() != nil {
				return
			}
			select {
			case claims <- pos:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pos := range claims {
				if paused.Load() {
					return
				}
				o.processItem(ctx, run, pos, &mu, &paused, logger)
			}
		}()
	}
	wg.Wait()

	o.finalize(ctx, run, paused.Load(), start, logger)

	if ctx.Err() != nil && !paused.Load() {
		return run, ctx.Err()
	}
	return run, nil
}

// processItem runs the full lifecycle of one item: resume skip-check,
// dispatch, and immediate persistence of the outcome.
func (o *Orchestrator) processItem(ctx context.Context, run *Run, pos int, mu *sync.Mutex, paused *atomic.Bool, logger zerolog.Logger) {
	mu.Lock()
	item := &run.Items[pos]
	item.Status = StatusInProgress
	identity := store.ItemIdentity{Index: item.Index, SourceRef: item.SourceRef}
	mu.Unlock()

	o.current.Store(int64(item.Index))

	// Resume skip-check: a persisted success means zero further dispatches.
	prev, err := o.store.ReadItemResult(ctx, identity)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn().
			Err(err).
			Int("index", item.Index).
			Msg("Resume check failed - dispatching anyway")
	}
	if prev.Succeeded() {
		mu.Lock()
		item.Status = StatusSkipped
		mu.Unlock()
		o.processed.Add(1)
		itemsProcessedTotal.WithLabelValues(string(StatusSkipped)).Inc()
		logger.Debug().
			Int("index", item.Index).
			Str("source", item.SourceRef).
			Msg("Item already succeeded - skipping")
		return
	}

	payload, dispatchErr := o.dispatcher.Dispatch(ctx, item.SourceRef)

	if errors.Is(dispatchErr, credential.ErrNoUsableCredential) {
		// Failing this item would misrepresent a pool-wide condition as
		// a content failure. Pause the run; the item stays pending.
		mu.Lock()
		item.Status = StatusPending
		mu.Unlock()
		if paused.CompareAndSwap(false, true) {
			runsPausedTotal.Inc()
			logger.Warn().
				Int("index", item.Index).
				Msg("All credentials unusable - pausing run")
		}
		return
	}
	if dispatchErr != nil && ctx.Err() != nil {
		// Cancelled mid-dispatch with no completed result; leave pending
		// so the resume parameters cover it.
		mu.Lock()
		item.Status = StatusPending
		mu.Unlock()
		return
	}

	res := &store.ItemResult{
		Index:       item.Index,
		SourceRef:   item.SourceRef,
		RunID:       run.Summary.RunID,
		CompletedAt: time.Now(),
	}

	var status Status
	switch {
	case dispatchErr == nil:
		status = StatusSucceeded
		res.Status = store.StatusSucceeded
		res.Payload = payload
	case dispatch.Classify(dispatchErr) == dispatch.ErrorClassPermanent:
		status = StatusFailedPermanent
		res.Status = store.StatusFailedPermanent
		res.Error = dispatchErr.Error()
	default:
		status = StatusFailedRetryable
		res.Status = store.StatusFailedRetryable
		res.Error = dispatchErr.Error()
	}

	// Persist before advancing: a crash after this point loses nothing.
	if err := o.store.WriteItemResult(ctx, identity, res); err != nil {
		logger.Error().
			Err(err).
			Int("index", item.Index).
			Msg("Failed to persist item result")
	}

	mu.Lock()
	item.Status = status
	item.Attempts++
	if dispatchErr != nil {
		item.LastError = dispatchErr.Error()
	}
	mu.Unlock()

	o.processed.Add(1)
	itemsProcessedTotal.WithLabelValues(string(status)).Inc()

	if dispatchErr != nil {
		logger.Warn().
			Int("index", item.Index).
			Str("source", item.SourceRef).
			Str("status", string(status)).
			Msg("Item failed")
	} else {
		logger.Info().
			Int("index", item.Index).
			Str("source", item.SourceRef).
			Msg("Item succeeded")
	}
}

// finalize computes the summary from terminal item states and persists it.
func (o *Orchestrator) finalize(ctx context.Context, run *Run, paused bool, start time.Time, logger zerolog.Logger) {
	s := &run.Summary
	s.Paused = paused
	s.NextIndex = run.Summary.StartIndex + len(run.Items)

	nextSet := false
	for i := range run.Items {
		item := &run.Items[i]
		switch item.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusSkipped:
			s.Skipped++
		case StatusFailedRetryable, StatusFailedPermanent:
			s.Failed++
		}
		if item.Status.terminal() {
			s.Processed++
		} else if !nextSet {
			s.NextIndex = item.Index
			nextSet = true
		}
		// Claimed-but-unfinished items revert to pending in the run view.
		if item.Status == StatusInProgress {
			item.Status = StatusPending
		}
	}
	s.Duration = time.Since(start)

	// Summary persistence must survive cancellation.
	writeCtx := context.WithoutCancel(ctx)
	if err := o.store.WriteSummary(writeCtx, s.RunID, s); err != nil {
		logger.Error().Err(err).Msg("Failed to persist run summary")
	}

	logger.Info().
		Int("processed", s.Processed).
		Int("succeeded", s.Succeeded).
		Int("failed", s.Failed).
		Int("skipped", s.Skipped).
		Bool("paused", s.Paused).
		Int("next_index", s.NextIndex).
		Dur("duration", s.Duration).
		Msg("Batch run finished")
}
