package app

import (
	"fmt"
	"strings"

	"pyq-pipeline/internal/domain"
)

// Validate reports numbering gaps, duplicates, coverage and invariant
// violations. It never modifies the corpus.
func Validate(c *domain.CorpusFile) *domain.ValidationReport {
	r := &domain.ValidationReport{
		Total:             len(c.Questions),
		Duplicates:        []int{},
		Missing:           []int{},
		WithoutOptions:    []int{},
		WithoutAnswer:     []int{},
		WithoutEnrichment: []int{},
		Violations:        []string{},
	}
	if c.Metadata.TotalQuestions != len(c.Questions) {
		r.Violations = append(r.Violations, fmt.Sprintf("metadata.total_questions=%d but %d questions present", c.Metadata.TotalQuestions, len(c.Questions)))
	}

	counts := make(map[int]int, len(c.Questions))
	for i := range c.Questions {
		q := &c.Questions[i]
		n := q.QuestionNumber
		counts[n]++
		if counts[n] == 2 {
			r.Duplicates = append(r.Duplicates, n)
		}
		if i == 0 || n < r.Min {
			r.Min = n
		}
		if n > r.Max {
			r.Max = n
		}
		if n <= 0 {
			r.Violations = append(r.Violations, fmt.Sprintf("question at position %d has non-positive number %d", i+1, n))
		}
		if strings.TrimSpace(q.QuestionText) == "" {
			r.Violations = append(r.Violations, fmt.Sprintf("question %d has empty question_text", n))
		}

		if !q.OptionsExtracted {
			r.WithoutOptions = append(r.WithoutOptions, n)
		} else if !q.Options.Complete() {
			r.Violations = append(r.Violations, fmt.Sprintf("question %d is marked options_extracted without four non-empty options", n))
		}
		for letter := range q.Options {
			if domain.NormalizeLetter(letter) != letter {
				r.Violations = append(r.Violations, fmt.Sprintf("question %d has option key %q", n, letter))
			}
		}

		if !q.HasAnswer() {
			r.WithoutAnswer = append(r.WithoutAnswer, n)
		} else if _, ok := q.Options[*q.CorrectAnswer]; !ok {
			r.Violations = append(r.Violations, fmt.Sprintf("question %d correct_answer %s is not an option", n, *q.CorrectAnswer))
		}

		if !q.IsEnriched() {
			r.WithoutEnrichment = append(r.WithoutEnrichment, n)
		} else if q.PrimaryType == nil || *q.PrimaryType == "" || q.AnalysisTimestamp == nil {
			r.Violations = append(r.Violations, fmt.Sprintf("question %d is partially enriched", n))
		}
	}

	for n := 1; n <= r.Max; n++ {
		if counts[n] == 0 {
			r.Missing = append(r.Missing, n)
		}
	}
	sortedInts(r.Duplicates)
	sortedInts(r.WithoutOptions)
	sortedInts(r.WithoutAnswer)
	sortedInts(r.WithoutEnrichment)
	return r
}

// CheckInvariants returns a ValidationError when the corpus has duplicate
// numbers or structural violations. Stages call it before writing.
func CheckInvariants(c *domain.CorpusFile) error {
	r := Validate(c)
	var problems []string
	if len(r.Duplicates) > 0 {
		problems = append(problems, fmt.Sprintf("duplicate question numbers %v", r.Duplicates))
	}
	problems = append(problems, r.Violations...)
	if len(problems) > 0 {
		return &domain.ValidationError{Report: r, Problems: problems}
	}
	return nil
}
