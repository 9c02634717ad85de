package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"pyq-pipeline/internal/config"
	pgmigrations "pyq-pipeline/internal/infra/postgres/migrations"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the questions table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("table") {
				cfg.Uploader.Table = table
			}
			return runMigrationsWithConfig(cmd.Context(), cfg, cfg.Uploader.Table)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "target table (default from config)")
	return cmd
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, table string) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DatabaseURL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.New(table), pgmigrations.MigratorOptions(table)...)

	if err := migrator.Init(ctx); err != nil {
		return err
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Printf("no new migrations for %s", table)
		return nil
	}
	log.Printf("migrated to %s", group)
	return nil
}
