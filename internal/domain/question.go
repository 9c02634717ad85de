package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OptionLetters lists the option keys in canonical order.
var OptionLetters = []string{"A", "B", "C", "D"}

// Option is a single answer choice. IsCorrect stays nil until an answer key
// has been applied, so untouched options serialize as plain strings.
type Option struct {
	Text      string
	IsCorrect *bool
}

type optionObject struct {
	Text      string `json:"text"`
	IsCorrect *bool  `json:"is_correct,omitempty"`
}

func (o Option) MarshalJSON() ([]byte, error) {
	if o.IsCorrect == nil {
		return json.Marshal(o.Text)
	}
	return json.Marshal(optionObject{Text: o.Text, IsCorrect: o.IsCorrect})
}

func (o *Option) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		*o = Option{Text: text}
		return nil
	}
	var obj optionObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("option must be a string or {text, is_correct}: %w", err)
	}
	*o = Option{Text: obj.Text, IsCorrect: obj.IsCorrect}
	return nil
}

// Options maps an option letter (A-D) to its choice.
type Options map[string]Option

// Complete reports whether exactly the four canonical letters are present,
// each with non-empty text.
func (o Options) Complete() bool {
	if len(o) != len(OptionLetters) {
		return false
	}
	for _, l := range OptionLetters {
		opt, ok := o[l]
		if !ok || strings.TrimSpace(opt.Text) == "" {
			return false
		}
	}
	return true
}

// Texts returns letter -> text without correctness flags.
func (o Options) Texts() map[string]string {
	if o == nil {
		return nil
	}
	out := make(map[string]string, len(o))
	for k, v := range o {
		out[k] = v.Text
	}
	return out
}

// Enrichment holds the LLM-generated analysis attached to a question.
// All fields are null until the enricher fills them.
type Enrichment struct {
	Explanation            *string           `json:"explanation"`
	PrimaryType            *string           `json:"primary_type"`
	SecondaryType          *string           `json:"secondary_type"`
	DifficultyLevel        *string           `json:"difficulty_level"`
	KeyConcepts            []string          `json:"key_concepts"`
	RelatedTopics          []string          `json:"related_topics"`
	StudyTips              *string           `json:"study_tips"`
	ExaminerThoughtProcess *string           `json:"examiner_thought_process"`
	CommonMistakes         *string           `json:"common_mistakes"`
	TimeManagement         *string           `json:"time_management"`
	ConfidenceLevel        *string           `json:"confidence_level"`
	PriorityLevel          *string           `json:"priority_level"`
	ExamRelevance          *string           `json:"exam_relevance"`
	WhyOthersAreWrong      map[string]string `json:"why_others_are_wrong"`
	AnalysisSource         *string           `json:"analysis_source"`
	AnalysisTimestamp      *string           `json:"analysis_timestamp"`
}

// QuestionRecord is one multiple-choice question of a corpus.
type QuestionRecord struct {
	QuestionNumber   int     `json:"question_number"`
	ExamType         string  `json:"exam_type"`
	Year             int     `json:"year"`
	Section          string  `json:"section"`
	QuestionText     string  `json:"question_text"`
	Options          Options `json:"options"`
	CorrectAnswer    *string `json:"correct_answer"`
	OptionsExtracted bool    `json:"options_extracted"`
	ExtractionOrder  int     `json:"extraction_order"`
	ChunkNumber      int     `json:"chunk_number"`
	Enrichment
}

// UnmarshalJSON accepts integer fields encoded as strings ("12", "Q.12").
func (r *QuestionRecord) UnmarshalJSON(b []byte) error {
	type plain QuestionRecord
	aux := struct {
		*plain
		QuestionNumber  flexInt `json:"question_number"`
		Year            flexInt `json:"year"`
		ExtractionOrder flexInt `json:"extraction_order"`
		ChunkNumber     flexInt `json:"chunk_number"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	r.QuestionNumber = int(aux.QuestionNumber)
	r.Year = int(aux.Year)
	r.ExtractionOrder = int(aux.ExtractionOrder)
	r.ChunkNumber = int(aux.ChunkNumber)
	return nil
}

// IsEnriched reports whether the record carries a usable explanation.
func (r *QuestionRecord) IsEnriched() bool {
	return r.Explanation != nil && strings.TrimSpace(*r.Explanation) != ""
}

// HasAnswer reports whether a correct answer is known.
func (r *QuestionRecord) HasAnswer() bool {
	return r.CorrectAnswer != nil && *r.CorrectAnswer != ""
}

// Metadata describes one (exam_type, year) corpus.
type Metadata struct {
	Source         string `json:"source"`
	ExamType       string `json:"exam_type"`
	Year           int    `json:"year"`
	Section        string `json:"section"`
	TotalQuestions int    `json:"total_questions"`
	LastUpdated    string `json:"last_updated"`
	Notes          string `json:"notes,omitempty"`
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	type plain Metadata
	aux := struct {
		*plain
		Year           flexInt `json:"year"`
		TotalQuestions flexInt `json:"total_questions"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	m.Year = int(aux.Year)
	m.TotalQuestions = int(aux.TotalQuestions)
	return nil
}

// CorpusFile is the on-disk container for a single exam paper.
type CorpusFile struct {
	Metadata  Metadata         `json:"metadata"`
	Questions []QuestionRecord `json:"questions"`
}

// Find returns the record with the given number, or nil.
func (c *CorpusFile) Find(number int) *QuestionRecord {
	for i := range c.Questions {
		if c.Questions[i].QuestionNumber == number {
			return &c.Questions[i]
		}
	}
	return nil
}

// SortByNumber orders questions by question_number, keeping document order for ties.
func (c *CorpusFile) SortByNumber() {
	sort.SliceStable(c.Questions, func(i, j int) bool {
		return c.Questions[i].QuestionNumber < c.Questions[j].QuestionNumber
	})
}

// SyncTotal makes metadata.total_questions match the question count.
func (c *CorpusFile) SyncTotal() {
	c.Metadata.TotalQuestions = len(c.Questions)
}

// NormalizeLetter maps "a", "(b)", " C) " to "A", "B", "C".
// It returns "" when the input is not one of A-D.
func NormalizeLetter(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.Trim(s, "().[] ")
	switch s {
	case "A", "B", "C", "D":
		return s
	}
	return ""
}

// ParseNumber extracts the first run of digits from a string such as "Q.12".
func ParseNumber(raw string) (int, error) {
	start := -1
	for i, ch := range raw {
		if ch >= '0' && ch <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			return strconv.Atoi(raw[start:i])
		}
	}
	if start < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuestionNumber, raw)
	}
	return strconv.Atoi(raw[start:])
}

type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = 0
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected integer or string, got %s", string(b))
	}
	if strings.TrimSpace(s) == "" {
		*f = 0
		return nil
	}
	v, err := ParseNumber(s)
	if err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}
