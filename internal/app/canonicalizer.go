package app

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"pyq-pipeline/internal/domain"
)

var (
	numberKeys = []string{"question_number", "number", "q_no", "questionNumber", "qno"}
	textKeys   = []string{"question_text", "question", "text"}
	answerKeys = []string{"correct_answer", "answer", "correct"}

	inlineOption = regexp.MustCompile(`(?i)\(\s*([a-d])\s*\)`)
)

// Canonicalizer turns heterogeneous extracted records into a CorpusFile.
type Canonicalizer struct {
	now func() time.Time
}

func NewCanonicalizer() *Canonicalizer {
	return &Canonicalizer{now: time.Now}
}

// CanonicalizeOptions carries corpus-level metadata and behaviour flags.
// Non-zero metadata fields override what the raw document declares.
type CanonicalizeOptions struct {
	Source       string
	ExamType     string
	Year         int
	Section      string
	CleanOptions bool
}

// Canonicalize parses a raw document (a list of records, or an object with
// "metadata" and "questions") into a CorpusFile sorted by question_number.
// Records without a parseable number or text are rejected, duplicates after the
// first occurrence are dropped.
func (c *Canonicalizer) Canonicalize(raw []byte, opts CanonicalizeOptions) (*domain.CorpusFile, domain.CanonicalizeReport, error) {
	var report domain.CanonicalizeReport

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, report, fmt.Errorf("decode raw document: %w", err)
	}

	var items []any
	var meta domain.Metadata
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		list, ok := v["questions"].([]any)
		if !ok {
			return nil, report, fmt.Errorf("raw document has no questions list")
		}
		items = list
		if m, ok := v["metadata"]; ok {
			if err := remarshal(m, &meta); err != nil {
				return nil, report, fmt.Errorf("decode raw metadata: %w", err)
			}
		}
	default:
		return nil, report, fmt.Errorf("raw document must be a list or an object")
	}
	applyMetadataOverrides(&meta, opts)

	out := &domain.CorpusFile{Metadata: meta, Questions: make([]domain.QuestionRecord, 0, len(items))}
	for i, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			report.Rejected = append(report.Rejected, domain.Rejection{Position: i + 1, Reason: "record is not an object"})
			continue
		}
		rec, err := normalizeRecord(fields, i+1, meta)
		if err != nil {
			report.Rejected = append(report.Rejected, domain.Rejection{Position: i + 1, Reason: err.Error()})
			continue
		}
		if !completeEnrichment(rec.Enrichment) {
			if rec.IsEnriched() {
				report.ClearedEnrichment = append(report.ClearedEnrichment, rec.QuestionNumber)
			}
			rec.Enrichment = domain.Enrichment{}
		}
		if !rec.Options.Complete() {
			if err := ExtractOptions(&rec, opts.CleanOptions); err == nil {
				report.OptionsExtracted = append(report.OptionsExtracted, rec.QuestionNumber)
			}
		}
		rec.OptionsExtracted = rec.Options.Complete()
		if rec.HasAnswer() {
			if _, ok := rec.Options[*rec.CorrectAnswer]; !ok {
				rec.CorrectAnswer = nil
			}
		}
		out.Questions = append(out.Questions, rec)
	}

	if len(report.ClearedEnrichment) > 0 {
		log.Printf("cleared incomplete enrichment on questions %v", report.ClearedEnrichment)
	}
	report.Dropped = Deduplicate(out)
	out.SortByNumber()
	out.SyncTotal()
	out.Metadata.LastUpdated = c.now().UTC().Format(time.RFC3339)
	report.Accepted = len(out.Questions)
	return out, report, nil
}

// completeEnrichment reports whether carried-over analysis can be kept as is.
// Anything less is dropped so the record is picked up by the next enrichment run.
func completeEnrichment(e domain.Enrichment) bool {
	return usable(e) && e.AnalysisTimestamp != nil
}

func applyMetadataOverrides(meta *domain.Metadata, opts CanonicalizeOptions) {
	if opts.Source != "" {
		meta.Source = opts.Source
	}
	if opts.ExamType != "" {
		meta.ExamType = opts.ExamType
	}
	if opts.Year != 0 {
		meta.Year = opts.Year
	}
	if opts.Section != "" {
		meta.Section = opts.Section
	}
}

func normalizeRecord(fields map[string]any, position int, meta domain.Metadata) (domain.QuestionRecord, error) {
	var rec domain.QuestionRecord

	rawNumber, ok := lookup(fields, numberKeys)
	if !ok {
		return rec, domain.ErrInvalidQuestionNumber
	}
	n, err := domain.ParseNumber(scalarString(rawNumber))
	if err != nil {
		return rec, err
	}
	if n <= 0 {
		return rec, fmt.Errorf("%w: %d", domain.ErrInvalidQuestionNumber, n)
	}
	rec.QuestionNumber = n

	text, _ := lookup(fields, textKeys)
	rec.QuestionText = strings.TrimSpace(scalarString(text))
	if rec.QuestionText == "" {
		return rec, fmt.Errorf("question %d has no text", n)
	}

	// Carry over any enrichment already present in the raw record.
	if err := remarshal(fields, &rec.Enrichment); err != nil {
		rec.Enrichment = domain.Enrichment{}
	}

	rec.ExamType = meta.ExamType
	rec.Year = meta.Year
	rec.Section = meta.Section
	if s, ok := fields["section"].(string); ok && s != "" {
		rec.Section = s
	}
	rec.Options = parseOptions(fields["options"])
	if ans, ok := lookup(fields, answerKeys); ok {
		if letter := domain.NormalizeLetter(scalarString(ans)); letter != "" {
			rec.CorrectAnswer = &letter
		}
	}

	rec.ExtractionOrder = position
	if v, ok := fields["extraction_order"]; ok {
		if order, err := domain.ParseNumber(scalarString(v)); err == nil && order > 0 {
			rec.ExtractionOrder = order
		}
	}
	rec.ChunkNumber = 1
	if v, ok := lookup(fields, []string{"chunk_number", "chunk"}); ok {
		if chunk, err := domain.ParseNumber(scalarString(v)); err == nil && chunk > 0 {
			rec.ChunkNumber = chunk
		}
	}
	return rec, nil
}

func parseOptions(v any) domain.Options {
	opts := domain.Options{}
	switch raw := v.(type) {
	case map[string]any:
		for k, val := range raw {
			letter := domain.NormalizeLetter(k)
			if letter == "" {
				continue
			}
			if opt, ok := optionValue(val); ok {
				opts[letter] = opt
			}
		}
	case []any:
		for i, val := range raw {
			if obj, ok := val.(map[string]any); ok {
				l, _ := lookup(obj, []string{"letter", "label", "key", "option"})
				letter := domain.NormalizeLetter(scalarString(l))
				if letter == "" {
					continue
				}
				if opt, ok := optionValue(obj); ok {
					opts[letter] = opt
				}
				continue
			}
			if i < len(domain.OptionLetters) && len(raw) == len(domain.OptionLetters) {
				if opt, ok := optionValue(val); ok {
					opts[domain.OptionLetters[i]] = opt
				}
			}
		}
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func optionValue(v any) (domain.Option, bool) {
	switch val := v.(type) {
	case string:
		text := strings.TrimSpace(val)
		return domain.Option{Text: text}, text != ""
	case map[string]any:
		t, _ := lookup(val, []string{"text", "value"})
		text := strings.TrimSpace(scalarString(t))
		opt := domain.Option{Text: text}
		if b, ok := val["is_correct"].(bool); ok {
			opt.IsCorrect = &b
		}
		return opt, text != ""
	}
	return domain.Option{}, false
}

// ExtractOptions splits inline "(a) ... (b) ... (c) ... (d) ..." markers out of
// question_text. The last complete a-d sequence is used so that stems quoting
// "(a)" are left alone. With clean set, question_text is trimmed to the stem.
func ExtractOptions(rec *domain.QuestionRecord, clean bool) error {
	text := rec.QuestionText
	matches := inlineOption.FindAllStringSubmatchIndex(text, -1)

	// Walk backwards looking for d, then c, b and a.
	var starts, ends [4]int
	want := 3
	for i := len(matches) - 1; i >= 0 && want >= 0; i-- {
		m := matches[i]
		letter := strings.ToUpper(text[m[2]:m[3]])
		if letter == domain.OptionLetters[want] {
			starts[want], ends[want] = m[0], m[1]
			want--
		}
	}
	if want >= 0 {
		return fmt.Errorf("%w: question %d", domain.ErrOptionsIncomplete, rec.QuestionNumber)
	}

	opts := make(domain.Options, 4)
	for i, letter := range domain.OptionLetters {
		end := len(text)
		if i < 3 {
			end = starts[i+1]
		}
		body := strings.TrimSpace(text[ends[i]:end])
		if body == "" {
			return fmt.Errorf("%w: question %d option %s is empty", domain.ErrOptionsIncomplete, rec.QuestionNumber, letter)
		}
		opts[letter] = domain.Option{Text: body}
	}

	rec.Options = opts
	rec.OptionsExtracted = true
	if clean {
		rec.QuestionText = strings.TrimSpace(text[:starts[0]])
	}
	return nil
}

// Deduplicate keeps the first record (in document order) of every
// question_number and returns the dropped ones.
func Deduplicate(c *domain.CorpusFile) []domain.DroppedDuplicate {
	seen := make(map[int]bool, len(c.Questions))
	kept := c.Questions[:0]
	var dropped []domain.DroppedDuplicate
	for _, q := range c.Questions {
		if seen[q.QuestionNumber] {
			dropped = append(dropped, domain.DroppedDuplicate{QuestionNumber: q.QuestionNumber, ExtractionOrder: q.ExtractionOrder})
			continue
		}
		seen[q.QuestionNumber] = true
		kept = append(kept, q)
	}
	c.Questions = kept
	c.SyncTotal()
	return dropped
}

// Renumber shifts extraction_order by delta for every record whose
// question_number is at least start. It returns the number of records touched.
func Renumber(c *domain.CorpusFile, start, delta int) int {
	touched := 0
	for i := range c.Questions {
		if c.Questions[i].QuestionNumber >= start {
			c.Questions[i].ExtractionOrder += delta
			touched++
		}
	}
	return touched
}

func lookup(fields map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func sortedInts(in []int) []int {
	sort.Ints(in)
	return in
}
