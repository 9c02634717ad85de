package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"

	"pyq-pipeline/internal/app"
	"pyq-pipeline/internal/domain"
)

// QuestionStore upserts questions over a single connection.
type QuestionStore struct {
	conn      *pgx.Conn
	table     string
	upsertSQL string
}

// Connect opens the one connection used for the whole run.
func Connect(ctx context.Context, dsn, table string) (*QuestionStore, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewQuestionStore(conn, table), nil
}

func NewQuestionStore(conn *pgx.Conn, table string) *QuestionStore {
	return &QuestionStore{conn: conn, table: table, upsertSQL: UpsertSQL(table)}
}

// UpsertSQL builds the INSERT ... ON CONFLICT statement for table.
func UpsertSQL(table string) string {
	cols := domain.UpsertColumns
	key := make(map[string]bool, len(domain.KeyColumns))
	for _, k := range domain.KeyColumns {
		key[k] = true
	}

	placeholders := make([]string, len(cols))
	var sets []string
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if !key[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	sets = append(sets, "updated_at = now()")

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(domain.KeyColumns, ", "),
		strings.Join(sets, ", "),
	)
}

func (s *QuestionStore) Columns(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`, s.table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s not found", s.table)
	}
	return cols, nil
}

func (s *QuestionStore) Begin(ctx context.Context) (app.UpsertTx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &upsertTx{tx: tx, sql: s.upsertSQL}, nil
}

// Count returns the number of rows stored for an exam and year.
func (s *QuestionStore) Count(ctx context.Context, examType string, year int) (int, error) {
	var n int
	q := fmt.Sprintf(`SELECT count(*) FROM %s WHERE exam_type = $1 AND year = $2`, pgx.Identifier{s.table}.Sanitize())
	err := s.conn.QueryRow(ctx, q, examType, year).Scan(&n)
	return n, err
}

func (s *QuestionStore) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

type upsertTx struct {
	tx  pgx.Tx
	sql string
}

func (t *upsertTx) Upsert(ctx context.Context, row domain.QuestionRow) error {
	_, err := t.tx.Exec(ctx, t.sql, row.Values()...)
	return err
}

func (t *upsertTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *upsertTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
