package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TableColumns lists the questions table columns in canonical order.
var TableColumns = []string{
	"id", "question_number", "year", "section", "question_text", "correct_answer",
	"explanation", "options", "primary_type", "secondary_type", "difficulty_level",
	"key_concepts", "related_topics", "study_tips", "examiner_thought_process",
	"common_mistakes", "time_management", "confidence_level", "priority_level",
	"exam_relevance", "why_others_are_wrong", "extraction_order", "chunk_number",
	"analysis_source", "analysis_timestamp", "exam_type", "created_at", "updated_at",
}

// AutoColumns are filled by the database.
var AutoColumns = []string{"id", "created_at", "updated_at"}

// KeyColumns form the upsert conflict target.
var KeyColumns = []string{"exam_type", "year", "question_number"}

// UpsertColumns are the columns written by the uploader, in canonical order.
var UpsertColumns = func() []string {
	auto := map[string]bool{}
	for _, c := range AutoColumns {
		auto[c] = true
	}
	var out []string
	for _, c := range TableColumns {
		if !auto[c] {
			out = append(out, c)
		}
	}
	return out
}()

// QuestionRow is a record flattened for the relational table. Structured
// fields hold their JSON encoding; nil means NULL.
type QuestionRow struct {
	QuestionNumber         int
	Year                   int
	Section                string
	QuestionText           string
	CorrectAnswer          *string
	Explanation            *string
	Options                []byte
	PrimaryType            *string
	SecondaryType          *string
	DifficultyLevel        *string
	KeyConcepts            []byte
	RelatedTopics          []byte
	StudyTips              *string
	ExaminerThoughtProcess *string
	CommonMistakes         *string
	TimeManagement         *string
	ConfidenceLevel        *string
	PriorityLevel          *string
	ExamRelevance          *string
	WhyOthersAreWrong      []byte
	ExtractionOrder        int
	ChunkNumber            int
	AnalysisSource         *string
	AnalysisTimestamp      *time.Time
	ExamType               string
}

// NewQuestionRow flattens a record.
func NewQuestionRow(r QuestionRecord) (QuestionRow, error) {
	row := QuestionRow{
		QuestionNumber:         r.QuestionNumber,
		Year:                   r.Year,
		Section:                r.Section,
		QuestionText:           r.QuestionText,
		CorrectAnswer:          r.CorrectAnswer,
		Explanation:            r.Explanation,
		PrimaryType:            r.PrimaryType,
		SecondaryType:          r.SecondaryType,
		DifficultyLevel:        r.DifficultyLevel,
		StudyTips:              r.StudyTips,
		ExaminerThoughtProcess: r.ExaminerThoughtProcess,
		CommonMistakes:         r.CommonMistakes,
		TimeManagement:         r.TimeManagement,
		ConfidenceLevel:        r.ConfidenceLevel,
		PriorityLevel:          r.PriorityLevel,
		ExamRelevance:          r.ExamRelevance,
		ExtractionOrder:        r.ExtractionOrder,
		ChunkNumber:            r.ChunkNumber,
		AnalysisSource:         r.AnalysisSource,
		ExamType:               r.ExamType,
	}
	var err error
	if row.Options, err = jsonColumn(r.Options, len(r.Options) == 0); err != nil {
		return row, err
	}
	if row.KeyConcepts, err = jsonColumn(r.KeyConcepts, r.KeyConcepts == nil); err != nil {
		return row, err
	}
	if row.RelatedTopics, err = jsonColumn(r.RelatedTopics, r.RelatedTopics == nil); err != nil {
		return row, err
	}
	if row.WhyOthersAreWrong, err = jsonColumn(r.WhyOthersAreWrong, r.WhyOthersAreWrong == nil); err != nil {
		return row, err
	}
	if r.AnalysisTimestamp != nil && *r.AnalysisTimestamp != "" {
		ts, err := time.Parse(time.RFC3339, *r.AnalysisTimestamp)
		if err != nil {
			return row, fmt.Errorf("question %d analysis_timestamp: %w", r.QuestionNumber, err)
		}
		row.AnalysisTimestamp = &ts
	}
	return row, nil
}

func jsonColumn(v any, null bool) ([]byte, error) {
	if null {
		return nil, nil
	}
	return json.Marshal(v)
}

// Values returns the row in UpsertColumns order. NULLs are untyped nil.
func (r QuestionRow) Values() []any {
	return []any{
		r.QuestionNumber, r.Year, r.Section, r.QuestionText, str(r.CorrectAnswer),
		str(r.Explanation), js(r.Options), str(r.PrimaryType), str(r.SecondaryType), str(r.DifficultyLevel),
		js(r.KeyConcepts), js(r.RelatedTopics), str(r.StudyTips), str(r.ExaminerThoughtProcess),
		str(r.CommonMistakes), str(r.TimeManagement), str(r.ConfidenceLevel), str(r.PriorityLevel),
		str(r.ExamRelevance), js(r.WhyOthersAreWrong), r.ExtractionOrder, r.ChunkNumber,
		str(r.AnalysisSource), ts(r.AnalysisTimestamp), r.ExamType,
	}
}

func str(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// js passes JSON as text so the driver casts it into jsonb.
func js(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func ts(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
