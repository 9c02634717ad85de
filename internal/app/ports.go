// Package app implements the pipeline stages over CorpusFiles.
package app

import (
	"context"

	"pyq-pipeline/internal/domain"
)

// Analyzer calls the remote analysis service once for a batch and returns
// the raw response text. Parsing and salvage happen in the enricher.
type Analyzer interface {
	Analyze(ctx context.Context, model string, items []domain.AnalysisItem) (string, error)
}

// QuestionStore is the relational target of the uploader.
type QuestionStore interface {
	// Columns lists the table columns in ordinal order.
	Columns(ctx context.Context) ([]string, error)
	Begin(ctx context.Context) (UpsertTx, error)
}

// UpsertTx is a single transaction spanning an upload run.
type UpsertTx interface {
	Upsert(ctx context.Context, row domain.QuestionRow) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Locker guards a corpus against concurrent writers.
type Locker interface {
	Acquire(ctx context.Context) (release func() error, err error)
}
