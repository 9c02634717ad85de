package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"pyq-pipeline/internal/domain"
)

// UploadOptions controls an upload run.
type UploadOptions struct {
	Table                  string
	AllowPartialEnrichment bool
}

// Uploader upserts a validated corpus into a QuestionStore inside one transaction.
type Uploader struct {
	store QuestionStore
	now   func() time.Time
}

func NewUploader(store QuestionStore) *Uploader {
	return &Uploader{store: store, now: time.Now}
}

// CheckUploadable applies the gating rules to a validator report.
func CheckUploadable(c *domain.CorpusFile, allowPartial bool) error {
	r := Validate(c)
	var problems []string
	if r.Total == 0 {
		problems = append(problems, "corpus has no questions")
	}
	if len(r.Duplicates) > 0 {
		problems = append(problems, fmt.Sprintf("duplicates %v", r.Duplicates))
	}
	if len(r.Missing) > 0 {
		problems = append(problems, fmt.Sprintf("missing %v", r.Missing))
	}
	if len(r.WithoutOptions) > 0 {
		problems = append(problems, fmt.Sprintf("without options %v", r.WithoutOptions))
	}
	if len(r.WithoutEnrichment) > 0 && !allowPartial {
		problems = append(problems, fmt.Sprintf("without enrichment %v (pass allow_partial_enrichment to upload anyway)", r.WithoutEnrichment))
	}
	problems = append(problems, r.Violations...)
	if len(problems) > 0 {
		return &domain.ValidationError{Report: r, Problems: problems}
	}
	return nil
}

// Preflight compares the store's columns with the columns the upsert writes.
func Preflight(ctx context.Context, store QuestionStore, table string) error {
	cols, err := store.Columns(ctx)
	if err != nil {
		return &domain.StorageError{Op: "list columns of " + table, Err: err}
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	for _, c := range domain.AutoColumns {
		delete(have, c)
	}
	want := make(map[string]bool, len(domain.UpsertColumns))
	for _, c := range domain.UpsertColumns {
		want[c] = true
	}

	mismatch := &domain.SchemaMismatchError{Table: table}
	for c := range have {
		if !want[c] {
			mismatch.Missing = append(mismatch.Missing, c)
		}
	}
	for c := range want {
		if !have[c] {
			mismatch.Extra = append(mismatch.Extra, c)
		}
	}
	if len(mismatch.Missing) > 0 || len(mismatch.Extra) > 0 {
		sort.Strings(mismatch.Missing)
		sort.Strings(mismatch.Extra)
		return mismatch
	}
	return nil
}

// Upload gates, pre-flights and upserts every record in corpus order. Any
// failing statement rolls the whole transaction back.
func (u *Uploader) Upload(ctx context.Context, c *domain.CorpusFile, opts UploadOptions) (domain.UploadReport, error) {
	start := u.now()
	report := domain.UploadReport{Table: opts.Table, ExamType: c.Metadata.ExamType, Year: c.Metadata.Year}
	fail := func(err error) (domain.UploadReport, error) {
		report.Error = err.Error()
		report.Elapsed = u.now().Sub(start)
		return report, err
	}

	if err := CheckUploadable(c, opts.AllowPartialEnrichment); err != nil {
		return fail(err)
	}
	if err := Preflight(ctx, u.store, opts.Table); err != nil {
		return fail(err)
	}

	rows := make([]domain.QuestionRow, 0, len(c.Questions))
	for _, q := range c.Questions {
		row, err := domain.NewQuestionRow(q)
		if err != nil {
			return fail(&domain.ValidationError{Problems: []string{err.Error()}})
		}
		rows = append(rows, row)
	}

	tx, err := u.store.Begin(ctx)
	if err != nil {
		return fail(&domain.StorageError{Op: "begin transaction", Err: err})
	}
	for _, row := range rows {
		if err := tx.Upsert(ctx, row); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Printf("rollback failed: %v", rbErr)
			}
			log.Printf("upsert q=%d failed: %v", row.QuestionNumber, err)
			report.FailedQuestion = row.QuestionNumber
			report.Upserted = 0
			return fail(&domain.StorageError{Op: "upsert", QuestionNumber: row.QuestionNumber, Err: err})
		}
		report.Upserted++
		log.Printf("upsert q=%d ok", row.QuestionNumber)
	}
	if err := tx.Commit(ctx); err != nil {
		report.Upserted = 0
		return fail(&domain.StorageError{Op: "commit", Err: err})
	}
	report.Elapsed = u.now().Sub(start)
	return report, nil
}
