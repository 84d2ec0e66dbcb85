package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Raos0nu/policy-extract/pkg/batch"
	"github.com/Raos0nu/policy-extract/pkg/credential"
	"github.com/Raos0nu/policy-extract/pkg/dispatch"
	"github.com/Raos0nu/policy-extract/pkg/extract"
	"github.com/Raos0nu/policy-extract/pkg/logging"
	"github.com/Raos0nu/policy-extract/pkg/store"
)

var (
	startIndex  int
	limit       int
	concurrency int
	runID       string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the backlog of policy documents",
	Long: `Run dispatches every document under input_dir through the inference
service and persists one result per item. Interrupting the run (Ctrl-C)
or exhausting all credentials pauses it; re-running with the printed
next_index resumes where it left off, skipping items that already
succeeded.`,
	RunE: runBatch,
}

func init() {
	runCmd.Flags().IntVar(&startIndex, "start-index", -1, "first backlog index to process (overrides config)")
	runCmd.Flags().IntVar(&limit, "limit", -1, "max items to process, 0 for all (overrides config)")
	runCmd.Flags().IntVar(&concurrency, "concurrency", -1, "worker count (overrides config)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run identifier (generated when empty)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("start-index") {
		cfg.StartIndex = startIndex
	}
	if cmd.Flags().Changed("limit") {
		cfg.Limit = limit
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = concurrency
	}

	logger := logging.NewLogger("cli")

	insurer, err := extract.ParseInsurer(cfg.Insurer)
	if err != nil {
		return err
	}

	secrets, err := cfg.Secrets()
	if err != nil {
		return err
	}

	backlog, err := loadBacklog(cfg.InputDir)
	if err != nil {
		return err
	}
	if backlog.Len() == 0 {
		return fmt.Errorf("no documents found under %s", cfg.InputDir)
	}

	poolCfg := credential.DefaultConfig()
	if cfg.CooldownSeconds > 0 {
		poolCfg.Cooldown = cfg.Cooldown()
	}
	if cfg.RequestsPerSecond > 0 {
		poolCfg.RequestsPerSecond = cfg.RequestsPerSecond
		poolCfg.Burst = 1
	}
	pool, err := credential.NewPool(secrets, poolCfg, logging.NewLogger("credential-pool"))
	if err != nil {
		return err
	}

	geminiCfg := extract.DefaultGeminiConfig(insurer)
	if cfg.Gemini.BaseURL != "" {
		geminiCfg.BaseURL = cfg.Gemini.BaseURL
	}
	if cfg.Gemini.Model != "" {
		geminiCfg.Model = cfg.Gemini.Model
	}
	gemini := extract.NewGeminiClient(geminiCfg, logging.NewLogger("gemini"))

	dispatchCfg := dispatch.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		dispatchCfg.Retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.AttemptTimeoutSeconds > 0 {
		dispatchCfg.AttemptTimeout = cfg.AttemptTimeout()
	}
	prompts := extract.PromptBuilder{Source: extract.FileSource{}, Insurer: insurer}
	dispatcher, err := dispatch.New(pool, gemini, prompts, dispatchCfg, logging.NewLogger("dispatcher"))
	if err != nil {
		return err
	}

	itemStore, err := buildStore(cfg)
	if err != nil {
		return err
	}

	orchestrator, err := batch.New(dispatcher, itemStore, logging.NewLogger("orchestrator"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	logger.Info().
		Int("documents", backlog.Len()).
		Int("credentials", pool.Size()).
		Str("insurer", string(insurer)).
		Msg("starting batch run")

	stopProgress := logProgress(ctx, orchestrator, logger)
	defer stopProgress()

	run, err := orchestrator.Run(ctx, backlog, batch.Options{
		StartIndex:  cfg.StartIndex,
		Limit:       cfg.Limit,
		Concurrency: cfg.Concurrency,
		RunID:       runID,
	})

	reportRun(os.Stdout, run, pool.Stats(), err, logger)
	return err
}

// reportRun prints the run summary with the pool stats. An interrupted run
// still has a partial summary carrying the resume index, so it prints too.
func reportRun(w io.Writer, run *batch.Run, stats credential.PoolStats, runErr error, logger zerolog.Logger) {
	if run == nil {
		return
	}
	out := struct {
		batch.Summary
		Credentials credential.PoolStats `json:"credentials"`
	}{run.Summary, stats}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)

	switch {
	case runErr != nil:
		logger.Warn().
			Int("next_index", run.Summary.NextIndex).
			Msg("run interrupted; re-run with --start-index to resume")
	case run.Summary.Paused:
		logger.Warn().
			Int("next_index", run.Summary.NextIndex).
			Msg("run paused; re-run with --start-index to resume")
	}
}

// loadBacklog lists the input directory in lexical order so item indexes
// stay stable between runs.
func loadBacklog(dir string) (batch.SliceBacklog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var refs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		refs = append(refs, filepath.Join(dir, e.Name()))
	}
	sort.Strings(refs)
	return batch.SliceBacklog(refs), nil
}

func buildStore(cfg *Config) (store.ItemStore, error) {
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		return store.NewRedisStore(client, cfg.Redis.Prefix)
	}
	return store.NewFSStore(cfg.OutputDir)
}

// logProgress reports run progress on an interval until stopped.
func logProgress(ctx context.Context, o *batch.Orchestrator, logger zerolog.Logger) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p := o.Progress()
				logger.Info().
					Int("processed", p.Processed).
					Int("total", p.Total).
					Int("current_index", p.Current).
					Msg("run progress")
			}
		}
	}()
	return func() { close(done) }
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

