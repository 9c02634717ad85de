package app

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"pyq-pipeline/internal/domain"
)

// RecordPatch replaces mutable fields of one record, or inserts it when the
// number is not yet in the corpus. Nil fields are left as they are.
type RecordPatch struct {
	QuestionNumber  int               `yaml:"question_number"`
	QuestionText    *string           `yaml:"question_text"`
	Section         *string           `yaml:"section"`
	Options         map[string]string `yaml:"options"`
	CorrectAnswer   *string           `yaml:"correct_answer"`
	ExtractionOrder *int              `yaml:"extraction_order"`
	ChunkNumber     *int              `yaml:"chunk_number"`
	ClearEnrichment bool              `yaml:"clear_enrichment"`
}

// RenumberSpec shifts extraction_order for numbers >= From.
type RenumberSpec struct {
	From  int `yaml:"from"`
	Delta int `yaml:"delta"`
}

// PatchSet is the content of a patch file.
type PatchSet struct {
	Patches  []RecordPatch `yaml:"patches"`
	Renumber *RenumberSpec `yaml:"renumber"`
}

// ParsePatchSet accepts either a bare list of patches or a PatchSet object,
// in YAML or JSON.
func ParsePatchSet(data []byte) (PatchSet, error) {
	var list []RecordPatch
	if err := yaml.Unmarshal(data, &list); err == nil {
		return PatchSet{Patches: list}, nil
	}
	var set PatchSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return set, fmt.Errorf("decode patch file: %w", err)
	}
	return set, nil
}

// ApplyPatches applies every patch in order, then the optional renumbering.
// The corpus is left sorted with total_questions in sync.
func ApplyPatches(c *domain.CorpusFile, set PatchSet) (domain.PatchReport, error) {
	report := domain.PatchReport{Replaced: []int{}, Inserted: []int{}}
	for _, p := range set.Patches {
		if p.QuestionNumber <= 0 {
			return report, fmt.Errorf("%w: patch for %d", domain.ErrInvalidQuestionNumber, p.QuestionNumber)
		}
		rec := c.Find(p.QuestionNumber)
		if rec == nil {
			if p.QuestionText == nil || strings.TrimSpace(*p.QuestionText) == "" {
				return report, fmt.Errorf("insert of question %d needs question_text", p.QuestionNumber)
			}
			c.Questions = append(c.Questions, domain.QuestionRecord{
				QuestionNumber:  p.QuestionNumber,
				ExamType:        c.Metadata.ExamType,
				Year:            c.Metadata.Year,
				Section:         c.Metadata.Section,
				ExtractionOrder: nextExtractionOrder(c, p.QuestionNumber),
				ChunkNumber:     1,
			})
			rec = &c.Questions[len(c.Questions)-1]
			report.Inserted = append(report.Inserted, p.QuestionNumber)
		} else {
			report.Replaced = append(report.Replaced, p.QuestionNumber)
		}
		if err := applyPatch(rec, p); err != nil {
			return report, err
		}
	}
	if set.Renumber != nil {
		report.Renumbered = Renumber(c, set.Renumber.From, set.Renumber.Delta)
	}
	c.SortByNumber()
	c.SyncTotal()
	return report, nil
}

func applyPatch(rec *domain.QuestionRecord, p RecordPatch) error {
	if p.QuestionText != nil {
		rec.QuestionText = strings.TrimSpace(*p.QuestionText)
	}
	if p.Section != nil {
		rec.Section = *p.Section
	}
	if p.ExtractionOrder != nil {
		rec.ExtractionOrder = *p.ExtractionOrder
	}
	if p.ChunkNumber != nil {
		rec.ChunkNumber = *p.ChunkNumber
	}
	if p.Options != nil {
		opts := make(domain.Options, len(p.Options))
		for k, v := range p.Options {
			letter := domain.NormalizeLetter(k)
			if letter == "" {
				return fmt.Errorf("question %d: option key %q", rec.QuestionNumber, k)
			}
			opts[letter] = domain.Option{Text: strings.TrimSpace(v)}
		}
		rec.Options = opts
		if rec.HasAnswer() {
			if _, ok := opts[*rec.CorrectAnswer]; !ok {
				rec.CorrectAnswer = nil
			}
		}
	}
	rec.OptionsExtracted = rec.Options.Complete()

	if p.CorrectAnswer != nil {
		letter := domain.NormalizeLetter(*p.CorrectAnswer)
		if _, ok := rec.Options[letter]; letter == "" || !ok {
			return fmt.Errorf("question %d: %w %q", rec.QuestionNumber, domain.ErrUnknownAnswerLetter, *p.CorrectAnswer)
		}
		rec.CorrectAnswer = &letter
		for l, opt := range rec.Options {
			correct := l == letter
			opt.IsCorrect = &correct
			rec.Options[l] = opt
		}
	}
	if p.ClearEnrichment {
		rec.Enrichment = domain.Enrichment{}
	}
	return nil
}

// nextExtractionOrder places an inserted record right after its predecessor.
func nextExtractionOrder(c *domain.CorpusFile, number int) int {
	order := 0
	for _, q := range c.Questions {
		if q.QuestionNumber < number && q.ExtractionOrder > order {
			order = q.ExtractionOrder
		}
	}
	return order + 1
}
