package migrations

import (
	"context"
	_ "embed"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_questions.sql
var createQuestionsSQL string

// CreateTableSQL renders the questions DDL for the given table name.
func CreateTableSQL(table string) string {
	return strings.NewReplacer(
		"$table", pgx.Identifier{table}.Sanitize(),
		"$unique", pgx.Identifier{table + "_exam_year_number_key"}.Sanitize(),
		"$index", pgx.Identifier{table + "_exam_year_idx"}.Sanitize(),
	).Replace(createQuestionsSQL)
}

// New returns the migration set that creates table.
func New(table string) *migrate.Migrations {
	m := migrate.NewMigrations()
	m.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, CreateTableSQL(table))
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{table}.Sanitize())
			return err
		},
	)
	return m
}

// MigratorOptions keeps bookkeeping separate per target table.
func MigratorOptions(table string) []migrate.MigratorOption {
	return []migrate.MigratorOption{
		migrate.WithTableName(table + "_migrations"),
		migrate.WithLocksTableName(table + "_migration_locks"),
	}
}
