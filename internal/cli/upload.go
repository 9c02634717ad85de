package cli

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"

	"pyq-pipeline/internal/app"
	"pyq-pipeline/internal/config"
	"pyq-pipeline/internal/corpus"
	"pyq-pipeline/internal/domain"
	"pyq-pipeline/internal/infra/memory"
	"pyq-pipeline/internal/infra/postgres"
)

// NewUploadCmd upserts a validated CorpusFile into Postgres.
func NewUploadCmd() *cobra.Command {
	var table string
	var allowPartial, migrateFirst, dryRun bool
	cmd := &cobra.Command{
		Use:   "upload CORPUS",
		Short: "Upsert a CorpusFile into the questions table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			opts := app.UploadOptions{Table: cfg.Uploader.Table, AllowPartialEnrichment: cfg.Uploader.AllowPartialEnrichment}
			if cmd.Flags().Changed("table") {
				opts.Table = table
			}
			if cmd.Flags().Changed("allow-partial") {
				opts.AllowPartialEnrichment = allowPartial
			}

			c, err := corpus.Load(args[0])
			if err != nil {
				return err
			}
			report, err := upload(cmd.Context(), cfg, c, opts, migrateFirst, dryRun)
			if err != nil {
				log.Printf("upload failed: %v", err)
			} else {
				log.Printf("upserted %d rows into %s for %s %d in %s", report.Upserted, report.Table, report.ExamType, report.Year, report.Elapsed.Round(time.Millisecond))
			}
			if perr := printReport(cmd.OutOrStdout(), report); perr != nil && err == nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "target table (default from config)")
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "upload even if some records are not enriched")
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply migrations before uploading")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "check preconditions and upsert into an in-memory table")
	return cmd
}

func upload(ctx context.Context, cfg config.Config, c *domain.CorpusFile, opts app.UploadOptions, migrateFirst, dryRun bool) (domain.UploadReport, error) {
	if dryRun {
		return app.NewUploader(memory.NewQuestionStore()).Upload(ctx, c, opts)
	}
	if cfg.DatabaseURL == "" {
		return domain.UploadReport{}, &domain.ValidationError{Problems: []string{"DATABASE_URL is not set"}}
	}
	// Gate before touching the database.
	if err := app.CheckUploadable(c, opts.AllowPartialEnrichment); err != nil {
		return domain.UploadReport{Table: opts.Table, ExamType: c.Metadata.ExamType, Year: c.Metadata.Year, Error: err.Error()}, err
	}
	if migrateFirst {
		if err := runMigrationsWithConfig(ctx, cfg, opts.Table); err != nil {
			return domain.UploadReport{}, &domain.StorageError{Op: "migrate", Err: err}
		}
	}
	store, err := postgres.Connect(ctx, cfg.DatabaseURL, opts.Table)
	if err != nil {
		return domain.UploadReport{}, &domain.StorageError{Op: "connect", Err: err}
	}
	defer store.Close(context.Background())
	return app.NewUploader(store).Upload(ctx, c, opts)
}
