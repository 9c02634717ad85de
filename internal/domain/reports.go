package domain

import "time"

// ValidationReport summarizes numbering, coverage and integrity of a corpus.
type ValidationReport struct {
	Total             int      `json:"total"`
	Min               int      `json:"min"`
	Max               int      `json:"max"`
	Duplicates        []int    `json:"duplicates"`
	Missing           []int    `json:"missing"`
	WithoutOptions    []int    `json:"without_options"`
	WithoutAnswer     []int    `json:"without_answer"`
	WithoutEnrichment []int    `json:"without_enrichment"`
	Violations        []string `json:"violations"`
}

// Clean reports whether no duplicates, gaps or invariant violations were found.
func (r *ValidationReport) Clean() bool {
	return len(r.Duplicates) == 0 && len(r.Missing) == 0 && len(r.Violations) == 0
}

// Rejection records a raw record the canonicalizer could not accept.
type Rejection struct {
	Position int    `json:"position"`
	Reason   string `json:"reason"`
}

// DroppedDuplicate records a record removed by deduplication.
type DroppedDuplicate struct {
	QuestionNumber  int `json:"question_number"`
	ExtractionOrder int `json:"extraction_order"`
}

// CanonicalizeReport is the side report of the canonicalize stage.
type CanonicalizeReport struct {
	Accepted         int                `json:"accepted"`
	Rejected         []Rejection        `json:"rejected"`
	Dropped          []DroppedDuplicate `json:"dropped"`
	OptionsExtracted []int              `json:"options_extracted"`
	// ClearedEnrichment lists records whose carried-over analysis was incomplete.
	ClearedEnrichment []int `json:"cleared_enrichment,omitempty"`
}

// AnswerKeyReport is the side report of the answer-key stage.
type AnswerKeyReport struct {
	Applied       []int    `json:"applied"`
	UnknownNumber []int    `json:"unknown_number"`
	Skipped       []string `json:"skipped"`
}

// BatchState is the lifecycle state of one enrichment batch.
type BatchState string

const (
	BatchPending       BatchState = "pending"
	BatchInFlight      BatchState = "in_flight"
	BatchParsed        BatchState = "parsed"
	BatchTransientFail BatchState = "transient_fail"
	BatchPermanentFail BatchState = "permanent_fail"
	BatchPersisted     BatchState = "persisted"
)

// Terminal reports whether no further transitions are possible.
func (s BatchState) Terminal() bool {
	return s == BatchPersisted || s == BatchPermanentFail
}

// BatchReport records what happened to one batch.
type BatchReport struct {
	Index           int        `json:"index"`
	QuestionNumbers []int      `json:"question_numbers"`
	State           BatchState `json:"state"`
	Attempts        int        `json:"attempts"`
	Retries         int        `json:"retries"`
	Unmatched       []int      `json:"unmatched,omitempty"`
	Discarded       []int      `json:"discarded,omitempty"`
	LowConfidence   []int      `json:"low_confidence,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// EnrichmentSummary is returned by an enrichment run.
type EnrichmentSummary struct {
	RunID             string        `json:"run_id"`
	Batches           int           `json:"batches"`
	Succeeded         int           `json:"succeeded"`
	TransientRetries  int           `json:"transient_retries"`
	PermanentFailures int           `json:"permanent_failures"`
	Enriched          []int         `json:"enriched"`
	Retried           []int         `json:"retried"`
	Failed            []int         `json:"failed"`
	Unmatched         []int         `json:"unmatched"`
	Skipped           int           `json:"skipped"`
	Checkpoints       int           `json:"checkpoints"`
	Interrupted       bool          `json:"interrupted"`
	Elapsed           time.Duration `json:"elapsed"`
	Reports           []BatchReport `json:"batch_reports"`
}

// UploadReport is returned by the uploader.
type UploadReport struct {
	Table          string        `json:"table"`
	ExamType       string        `json:"exam_type"`
	Year           int           `json:"year"`
	Upserted       int           `json:"upserted"`
	FailedQuestion int           `json:"failed_question,omitempty"`
	Error          string        `json:"error,omitempty"`
	Elapsed        time.Duration `json:"elapsed"`
}

// PatchReport is the side report of the patch stage.
type PatchReport struct {
	Replaced   []int `json:"replaced"`
	Inserted   []int `json:"inserted"`
	Renumbered int   `json:"renumbered"`
}
