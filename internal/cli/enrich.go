package cli

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pyq-pipeline/internal/app"
	"pyq-pipeline/internal/config"
	"pyq-pipeline/internal/domain"
	"pyq-pipeline/internal/infra/memory"
	transport "pyq-pipeline/internal/transport/http"
)

type enrichFlags struct {
	model           string
	batchSize       int
	maxRetries      int
	backoffSeconds  float64
	delaySeconds    float64
	checkpointEvery int
	timeoutSeconds  float64
	resume          bool
	strict          bool
	reanalyze       bool
	offline         bool
}

// NewEnrichCmd attaches analysis fields to un-enriched records.
func NewEnrichCmd() *cobra.Command {
	var f enrichFlags
	cmd := &cobra.Command{
		Use:   "enrich CORPUS",
		Short: "Enrich records through the remote analysis service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			opts := enrichOptions(cmd, cfg, f)

			var analyzer app.Analyzer
			if f.offline {
				analyzer = memory.NewStaticAnalyzer()
			} else {
				if cfg.APIKey == "" {
					return &domain.ValidationError{Problems: []string{"ANALYSIS_API_KEY is not set"}}
				}
				analyzer = transport.NewAnalysisClient(transport.ClientConfig{
					APIKey:   cfg.APIKey,
					Endpoint: cfg.Enricher.Endpoint,
				})
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var summary *domain.EnrichmentSummary
			err = withLock(ctx, cfg, args[0], func() error {
				var runErr error
				summary, runErr = app.NewEnricher(analyzer).Enrich(ctx, args[0], opts)
				return runErr
			})
			if summary != nil {
				logSummary(summary)
				if perr := printReport(cmd.OutOrStdout(), summary); perr != nil {
					return perr
				}
			}
			if errors.Is(err, context.Canceled) {
				log.Printf("interrupted; rerun with --resume to continue from the last checkpoint")
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.model, "model", "", "analysis model identifier")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "records per remote call (1..30)")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "attempts per batch")
	cmd.Flags().Float64Var(&f.backoffSeconds, "backoff", 0, "retry backoff base in seconds")
	cmd.Flags().Float64Var(&f.delaySeconds, "delay", 0, "inter-batch delay in seconds")
	cmd.Flags().IntVar(&f.checkpointEvery, "checkpoint-every", 0, "persist after every K completed batches")
	cmd.Flags().Float64Var(&f.timeoutSeconds, "timeout", 0, "per-call timeout in seconds")
	cmd.Flags().BoolVar(&f.resume, "resume", true, "skip records that already have an explanation")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit non-zero when any batch fails permanently")
	cmd.Flags().BoolVar(&f.reanalyze, "reanalyze-missing-rationale", false, "leave records with incomplete why_others_are_wrong un-enriched")
	cmd.Flags().BoolVar(&f.offline, "offline", false, "use the built-in deterministic analyzer instead of the remote service")
	return cmd
}

func enrichOptions(cmd *cobra.Command, cfg config.Config, f enrichFlags) app.EnrichOptions {
	e := cfg.Enricher
	defaults := app.DefaultEnrichOptions()
	opts := app.EnrichOptions{
		Model:                     e.Model,
		BatchSize:                 e.BatchSize,
		MaxRetriesPerBatch:        e.MaxRetriesPerBatch,
		RetryBackoffBase:          config.Seconds(e.RetryBackoffBaseSeconds, defaults.RetryBackoffBase),
		InterBatchDelay:           config.Seconds(e.InterBatchDelaySeconds, defaults.InterBatchDelay),
		CheckpointEveryBatches:    e.CheckpointEveryBatches,
		RequestTimeout:            config.Seconds(e.RequestTimeoutSeconds, defaults.RequestTimeout),
		Resume:                    f.resume,
		Strict:                    f.strict,
		ReanalyzeMissingRationale: e.ReanalyzeMissingRationale,
	}
	flags := cmd.Flags()
	if flags.Changed("model") {
		opts.Model = f.model
	}
	if flags.Changed("batch-size") {
		opts.BatchSize = f.batchSize
	}
	if flags.Changed("max-retries") {
		opts.MaxRetriesPerBatch = f.maxRetries
	}
	if flags.Changed("backoff") {
		opts.RetryBackoffBase = config.Seconds(f.backoffSeconds, defaults.RetryBackoffBase)
	}
	if flags.Changed("delay") {
		opts.InterBatchDelay = config.Seconds(f.delaySeconds, defaults.InterBatchDelay)
	}
	if flags.Changed("checkpoint-every") {
		opts.CheckpointEveryBatches = f.checkpointEvery
	}
	if flags.Changed("timeout") {
		opts.RequestTimeout = config.Seconds(f.timeoutSeconds, defaults.RequestTimeout)
	}
	if flags.Changed("reanalyze-missing-rationale") {
		opts.ReanalyzeMissingRationale = f.reanalyze
	}
	return opts
}

func logSummary(s *domain.EnrichmentSummary) {
	log.Printf("run %s: %d batches, %d succeeded, %d transient retries, %d permanent failures, %d skipped, %d checkpoints in %s",
		s.RunID, s.Batches, s.Succeeded, s.TransientRetries, s.PermanentFailures, s.Skipped, s.Checkpoints, s.Elapsed.Round(time.Millisecond))
	log.Print(summarizeInts("enriched", s.Enriched))
	log.Print(summarizeInts("retried", s.Retried))
	log.Print(summarizeInts("permanent failures", s.Failed))
	log.Print(summarizeInts("unmatched", s.Unmatched))
}
