package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Raos0nu/policy-extract/pkg/batch"
	"github.com/Raos0nu/policy-extract/pkg/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report persisted progress for the configured backlog",
	Long: `Stats lists the input directory, reads the persisted result for each
document and prints how far the backlog has progressed. Useful before
resuming a paused or interrupted run: next_index is the first document
without a successful result.`,
	RunE: runStats,
}

// BacklogStats is the progress report printed by the stats command.
type BacklogStats struct {
	Documents       int `json:"documents"`
	Succeeded       int `json:"succeeded"`
	FailedRetryable int `json:"failed_retryable"`
	FailedPermanent int `json:"failed_permanent"`
	Pending         int `json:"pending"`
	NextIndex       int `json:"next_index"`
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	backlog, err := loadBacklog(cfg.InputDir)
	if err != nil {
		return err
	}

	itemStore, err := buildStore(cfg)
	if err != nil {
		return err
	}

	stats, err := collectStats(cmd.Context(), backlog, itemStore)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func collectStats(ctx context.Context, backlog batch.Backlog, itemStore store.ItemStore) (*BacklogStats, error) {
	stats := &BacklogStats{Documents: backlog.Len(), NextIndex: backlog.Len()}
	for i := 0; i < backlog.Len(); i++ {
		id := store.ItemIdentity{Index: i, SourceRef: backlog.Ref(i)}
		res, err := itemStore.ReadItemResult(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			stats.Pending++
		case err != nil:
			return nil, fmt.Errorf("read result for %s: %w", id.Key(), err)
		case res.Status == store.StatusSucceeded:
			stats.Succeeded++
		case res.Status == store.StatusFailedRetryable:
			stats.FailedRetryable++
		case res.Status == store.StatusFailedPermanent:
			stats.FailedPermanent++
		default:
			stats.Pending++
		}
		if !res.Succeeded() && stats.NextIndex == backlog.Len() {
			stats.NextIndex = i
		}
	}
	return stats, nil
}
