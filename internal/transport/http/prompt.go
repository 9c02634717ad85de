package http

import (
	"encoding/json"
	"strings"

	"pyq-pipeline/internal/domain"
)

const systemInstruction = `You are an expert UPSC/UPPSC examiner and mentor.
For every question you receive, return one analysis object.
Answer with a JSON array only, no prose and no markdown fences.`

var analysisFields = []string{
	`"question_number": integer, copied from the input`,
	`"explanation": why the correct answer is correct`,
	`"primary_type": one of factual, conceptual, analytical, application, current_affairs`,
	`"secondary_type": a second type from the same list or null`,
	`"difficulty_level": easy, medium or hard`,
	`"key_concepts": array of short strings`,
	`"related_topics": array of short strings`,
	`"study_tips": string`,
	`"examiner_thought_process": what the examiner is testing`,
	`"common_mistakes": string`,
	`"time_management": string`,
	`"confidence_level": high, medium or low`,
	`"priority_level": high, medium or low`,
	`"exam_relevance": string`,
	`"why_others_are_wrong": object mapping every option letter except the correct one to a reason`,
}

// BuildPrompt renders the user turn for one batch.
func BuildPrompt(items []domain.AnalysisItem) (string, error) {
	payload, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Analyze each of the following questions.\n")
	b.WriteString("Return a JSON array with exactly one object per question, using these keys:\n")
	for _, f := range analysisFields {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteByte('\n')
	}
	b.WriteString("\nQuestions:\n")
	b.Write(payload)
	return b.String(), nil
}
