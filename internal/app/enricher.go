package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"pyq-pipeline/internal/corpus"
	"pyq-pipeline/internal/domain"
)

const (
	MaxBatchSize = 30

	// MissingRationale fills why_others_are_wrong entries the service omitted.
	MissingRationale = "No rationale provided"
	lowConfidence    = "low"
)

// EnrichOptions controls one enrichment run.
type EnrichOptions struct {
	Model                     string
	BatchSize                 int
	MaxRetriesPerBatch        int
	RetryBackoffBase          time.Duration
	InterBatchDelay           time.Duration
	Resume                    bool
	CheckpointEveryBatches    int
	RequestTimeout            time.Duration
	Strict                    bool
	ReanalyzeMissingRationale bool
}

func DefaultEnrichOptions() EnrichOptions {
	return EnrichOptions{
		Model:                  "gemini-2.5-flash",
		BatchSize:              5,
		MaxRetriesPerBatch:     3,
		RetryBackoffBase:       5 * time.Second,
		InterBatchDelay:        1500 * time.Millisecond,
		Resume:                 true,
		CheckpointEveryBatches: 1,
		RequestTimeout:         60 * time.Second,
	}
}

func (o EnrichOptions) validate() []string {
	var problems []string
	if o.Model == "" {
		problems = append(problems, "model is required")
	}
	if o.BatchSize < 1 || o.BatchSize > MaxBatchSize {
		problems = append(problems, fmt.Sprintf("batch_size %d outside [1..%d]", o.BatchSize, MaxBatchSize))
	}
	if o.MaxRetriesPerBatch < 1 {
		problems = append(problems, fmt.Sprintf("max_retries_per_batch %d must be at least 1", o.MaxRetriesPerBatch))
	}
	if o.CheckpointEveryBatches < 1 {
		problems = append(problems, fmt.Sprintf("checkpoint_every_batches %d must be at least 1", o.CheckpointEveryBatches))
	}
	if o.RetryBackoffBase < 0 || o.InterBatchDelay < 0 || o.RequestTimeout < 0 {
		problems = append(problems, "durations must not be negative")
	}
	return problems
}

// Sleeper waits for d or returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Enricher attaches analysis fields to un-enriched records, one batch at a time.
type Enricher struct {
	analyzer Analyzer
	sleep    Sleeper
	now      func() time.Time
	newRunID func() string
}

type EnricherOption func(*Enricher)

func WithSleeper(s Sleeper) EnricherOption { return func(e *Enricher) { e.sleep = s } }

func WithClock(now func() time.Time) EnricherOption { return func(e *Enricher) { e.now = now } }

func WithRunID(fn func() string) EnricherOption { return func(e *Enricher) { e.newRunID = fn } }

func NewEnricher(analyzer Analyzer, opts ...EnricherOption) *Enricher {
	e := &Enricher{
		analyzer: analyzer,
		sleep:    sleepContext,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type merge struct {
	index      int
	enrichment domain.Enrichment
}

type attemptResult struct {
	merges    []merge
	unmatched []int
	discarded []int
	low       []int
}

// Enrich runs the batching protocol over the corpus at path. The corpus is
// rewritten atomically every CheckpointEveryBatches completed batches and once
// more at the end. Permanent batch failures are reported in the summary and
// only produce an error when opts.Strict is set. On cancellation the in-flight
// batch is discarded, completed batches are flushed and ctx's error is returned.
func (e *Enricher) Enrich(ctx context.Context, path string, opts EnrichOptions) (*domain.EnrichmentSummary, error) {
	if problems := opts.validate(); len(problems) > 0 {
		return nil, &domain.ValidationError{Problems: problems}
	}
	start := e.now()
	c, err := corpus.Load(path)
	if err != nil {
		return nil, err
	}
	if err := CheckInvariants(c); err != nil {
		return nil, err
	}

	runID := e.newRunID()
	source := opts.Model + "/" + runID
	summary := &domain.EnrichmentSummary{
		RunID:     runID,
		Enriched:  []int{},
		Retried:   []int{},
		Failed:    []int{},
		Unmatched: []int{},
		Reports:   []domain.BatchReport{},
	}

	pending := selectPending(c, opts.Resume)
	summary.Skipped = len(c.Questions) - len(pending)
	batches := chunk(pending, opts.BatchSize)
	summary.Batches = len(batches)

	var unsaved []int
	checkpoint := func() error {
		if len(unsaved) == 0 {
			return nil
		}
		c.Metadata.LastUpdated = e.now().UTC().Format(time.RFC3339)
		c.SyncTotal()
		if err := corpus.Save(path, c); err != nil {
			return err
		}
		for _, i := range unsaved {
			summary.Reports[i].State = domain.BatchPersisted
		}
		unsaved = unsaved[:0]
		summary.Checkpoints++
		return nil
	}

	var runErr error
	for bi, batch := range batches {
		if bi > 0 {
			if err := e.sleep(ctx, opts.InterBatchDelay); err != nil {
				summary.Interrupted = true
				break
			}
		}
		if ctx.Err() != nil {
			summary.Interrupted = true
			break
		}

		rep, res, interrupted := e.runBatch(ctx, c, batch, bi, opts)
		if interrupted {
			log.Printf("batch %d/%d interrupted, results discarded", bi+1, len(batches))
			summary.Interrupted = true
			break
		}

		summary.TransientRetries += rep.Retries
		if rep.Retries > 0 {
			summary.Retried = append(summary.Retried, rep.QuestionNumbers...)
		}
		summary.Reports = append(summary.Reports, rep)
		switch rep.State {
		case domain.BatchParsed:
			stamp := e.now().UTC().Format(time.RFC3339)
			for _, m := range res.merges {
				enr := m.enrichment
				enr.AnalysisSource = &source
				enr.AnalysisTimestamp = &stamp
				c.Questions[m.index].Enrichment = enr
				summary.Enriched = append(summary.Enriched, c.Questions[m.index].QuestionNumber)
			}
			summary.Unmatched = append(summary.Unmatched, res.unmatched...)
			summary.Succeeded++
			unsaved = append(unsaved, len(summary.Reports)-1)
			if len(unsaved) >= opts.CheckpointEveryBatches {
				if err := checkpoint(); err != nil {
					runErr = err
				}
			}
		case domain.BatchPermanentFail:
			summary.PermanentFailures++
			summary.Failed = append(summary.Failed, rep.QuestionNumbers...)
		}
		final := summary.Reports[len(summary.Reports)-1]
		log.Printf("batch %d/%d q=%d-%d state=%s attempts=%d", bi+1, len(batches),
			final.QuestionNumbers[0], final.QuestionNumbers[len(final.QuestionNumbers)-1], final.State, final.Attempts)
		if runErr != nil {
			break
		}
	}

	if runErr == nil {
		runErr = checkpoint()
	}
	summary.Elapsed = e.now().Sub(start)
	switch {
	case runErr != nil:
		return summary, runErr
	case summary.Interrupted:
		return summary, fmt.Errorf("enrichment interrupted: %w", context.Cause(ctx))
	case opts.Strict && summary.PermanentFailures > 0:
		return summary, fmt.Errorf("%w: %d of %d batches", domain.ErrPermanentRemote, summary.PermanentFailures, summary.Batches)
	}
	return summary, nil
}

// runBatch drives one batch through InFlight until Parsed or PermanentFail.
// The corpus is not modified; merges are returned to the caller.
func (e *Enricher) runBatch(ctx context.Context, c *domain.CorpusFile, batch []int, bi int, opts EnrichOptions) (domain.BatchReport, attemptResult, bool) {
	rep := domain.BatchReport{Index: bi + 1, State: domain.BatchPending}
	items := make([]domain.AnalysisItem, 0, len(batch))
	byNumber := make(map[int]int, len(batch))
	for _, qi := range batch {
		rec := &c.Questions[qi]
		items = append(items, domain.NewAnalysisItem(rec))
		byNumber[rec.QuestionNumber] = qi
		rep.QuestionNumbers = append(rep.QuestionNumbers, rec.QuestionNumber)
	}

	retry := retrySchedule(opts)
	for {
		rep.State = domain.BatchInFlight
		rep.Attempts++
		res, err := e.attempt(ctx, c, items, byNumber, rep.QuestionNumbers, opts)
		if ctx.Err() != nil {
			return rep, attemptResult{}, true
		}
		if err == nil {
			rep.State = domain.BatchParsed
			rep.Unmatched, rep.Discarded, rep.LowConfidence = res.unmatched, res.discarded, res.low
			rep.LastError = ""
			return rep, res, false
		}
		rep.LastError = err.Error()

		wait := backoff.Stop
		if domain.IsTransient(err) {
			wait = retry.NextBackOff()
		}
		rep.State = domain.BatchTransientFail
		if wait == backoff.Stop {
			rep.State = domain.BatchPermanentFail
		}
		if rep.State.Terminal() {
			return rep, attemptResult{}, false
		}
		log.Printf("batch %d attempt %d/%d failed: %v", bi+1, rep.Attempts, opts.MaxRetriesPerBatch, err)
		rep.Retries++
		// Retries wait for the backoff alone; InterBatchDelay only separates batches.
		if err := e.sleep(ctx, wait); err != nil {
			return rep, attemptResult{}, true
		}
	}
}

func (e *Enricher) attempt(ctx context.Context, c *domain.CorpusFile, items []domain.AnalysisItem, byNumber map[int]int, numbers []int, opts EnrichOptions) (attemptResult, error) {
	var res attemptResult
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.RequestTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
	}
	raw, err := e.analyzer.Analyze(callCtx, opts.Model, items)
	cancel()
	if err != nil {
		return res, err
	}
	analyses, err := ParseAnalyses(raw)
	if err != nil {
		return res, err
	}

	matched := make(map[int]bool, len(numbers))
	for _, a := range analyses {
		qi, ok := byNumber[a.QuestionNumber]
		if !ok {
			res.discarded = append(res.discarded, a.QuestionNumber)
			continue
		}
		if matched[a.QuestionNumber] || !usable(a.Enrichment) {
			continue
		}
		enr, low, ok := settleRationale(&c.Questions[qi], a.Enrichment, opts.ReanalyzeMissingRationale)
		if !ok {
			continue
		}
		matched[a.QuestionNumber] = true
		res.merges = append(res.merges, merge{index: qi, enrichment: enr})
		if low {
			res.low = append(res.low, a.QuestionNumber)
		}
	}
	for _, n := range numbers {
		if !matched[n] {
			res.unmatched = append(res.unmatched, n)
		}
	}
	if len(res.merges) == 0 {
		return res, &domain.RemoteError{Transient: true, Err: fmt.Errorf("no usable analysis among %d returned", len(analyses))}
	}
	return res, nil
}

func usable(e domain.Enrichment) bool {
	return e.Explanation != nil && strings.TrimSpace(*e.Explanation) != "" &&
		e.PrimaryType != nil && strings.TrimSpace(*e.PrimaryType) != ""
}

// settleRationale makes why_others_are_wrong cover every wrong option of a
// record with a known answer. Gaps get MissingRationale and low confidence,
// or reject the analysis when reanalyze is set.
func settleRationale(rec *domain.QuestionRecord, enr domain.Enrichment, reanalyze bool) (domain.Enrichment, bool, bool) {
	if !rec.HasAnswer() {
		return enr, false, true
	}
	correct := *rec.CorrectAnswer
	why := make(map[string]string, len(domain.OptionLetters)-1)
	for l, reason := range enr.WhyOthersAreWrong {
		if l != correct {
			why[l] = reason
		}
	}
	missing := false
	for _, l := range domain.OptionLetters {
		if l == correct {
			continue
		}
		if _, ok := rec.Options[l]; len(rec.Options) > 0 && !ok {
			continue
		}
		if strings.TrimSpace(why[l]) == "" {
			missing = true
			why[l] = MissingRationale
		}
	}
	if missing {
		if reanalyze {
			return enr, false, false
		}
		low := lowConfidence
		enr.ConfidenceLevel = &low
	}
	enr.WhyOthersAreWrong = why
	return enr, missing, true
}

func selectPending(c *domain.CorpusFile, resume bool) []int {
	var idx []int
	for i := range c.Questions {
		if resume && c.Questions[i].IsEnriched() {
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return c.Questions[idx[a]].QuestionNumber < c.Questions[idx[b]].QuestionNumber
	})
	return idx
}

func chunk(idx []int, size int) [][]int {
	var out [][]int
	for len(idx) > 0 {
		n := size
		if n > len(idx) {
			n = len(idx)
		}
		out = append(out, idx[:n])
		idx = idx[n:]
	}
	return out
}

// retrySchedule yields base, 2*base, 4*base, ... and stops once the batch has
// used MaxRetriesPerBatch attempts.
func retrySchedule(opts EnrichOptions) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     opts.RetryBackoffBase,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         time.Duration(math.MaxInt64),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(opts.MaxRetriesPerBatch-1))
}
