package domain

// AnalysisItem is the minimal view of a record sent to the analysis service.
type AnalysisItem struct {
	QuestionNumber int               `json:"question_number"`
	QuestionText   string            `json:"question_text"`
	Options        map[string]string `json:"options"`
	CorrectAnswer  *string           `json:"correct_answer"`
}

// Analysis is one per-question result returned by the analysis service.
// Source and timestamp fields of Enrichment are ignored; the enricher stamps them.
type Analysis struct {
	QuestionNumber int
	Enrichment
}

// NewAnalysisItem builds the request view of a record.
func NewAnalysisItem(r *QuestionRecord) AnalysisItem {
	return AnalysisItem{
		QuestionNumber: r.QuestionNumber,
		QuestionText:   r.QuestionText,
		Options:        r.Options.Texts(),
		CorrectAnswer:  r.CorrectAnswer,
	}
}
