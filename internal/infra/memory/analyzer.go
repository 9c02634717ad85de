package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"pyq-pipeline/internal/domain"
)

// StaticAnalyzer answers every batch locally with deterministic analyses.
// It backs offline runs of the enrich command and tests.
type StaticAnalyzer struct {
	mu    sync.Mutex
	calls [][]domain.AnalysisItem
}

func NewStaticAnalyzer() *StaticAnalyzer {
	return &StaticAnalyzer{}
}

func (a *StaticAnalyzer) Analyze(_ context.Context, model string, items []domain.AnalysisItem) (string, error) {
	a.mu.Lock()
	a.calls = append(a.calls, items)
	a.mu.Unlock()

	return StaticBody(model, items), nil
}

// StaticBody renders StaticAnalysis for every item as a JSON array.
func StaticBody(model string, items []domain.AnalysisItem) string {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		out = append(out, StaticAnalysis(it, model))
	}
	b, _ := json.Marshal(out)
	return string(b)
}

// Calls returns the batches seen so far.
func (a *StaticAnalyzer) Calls() [][]domain.AnalysisItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]domain.AnalysisItem(nil), a.calls...)
}

// StaticAnalysis builds the analysis returned for one item.
func StaticAnalysis(it domain.AnalysisItem, model string) map[string]any {
	why := map[string]string{}
	for _, l := range domain.OptionLetters {
		if it.CorrectAnswer != nil && *it.CorrectAnswer == l {
			continue
		}
		why[l] = fmt.Sprintf("Option %s does not satisfy question %d.", l, it.QuestionNumber)
	}
	return map[string]any{
		"question_number":          it.QuestionNumber,
		"explanation":              fmt.Sprintf("Offline analysis of question %d (%s).", it.QuestionNumber, model),
		"primary_type":             "conceptual",
		"secondary_type":           "factual",
		"difficulty_level":         "medium",
		"key_concepts":             []string{"offline"},
		"related_topics":           []string{},
		"study_tips":               "Revise the underlying concept.",
		"examiner_thought_process": "Tests recall of the concept.",
		"common_mistakes":          "Confusing similar options.",
		"time_management":          "Under one minute.",
		"confidence_level":         "medium",
		"priority_level":           "medium",
		"exam_relevance":           "general",
		"why_others_are_wrong":     why,
	}
}

// ScriptedAnalyzer replays a fixed sequence of responses, one per call.
// Once the script is exhausted the last step repeats.
type ScriptedAnalyzer struct {
	mu    sync.Mutex
	steps []Step
	calls int
	Seen  [][]domain.AnalysisItem
}

// Step is one scripted reply: either Err, or Body, or Fn computing a body
// from the request.
type Step struct {
	Body string
	Err  error
	Fn   func(items []domain.AnalysisItem) string
}

func NewScriptedAnalyzer(steps ...Step) *ScriptedAnalyzer {
	return &ScriptedAnalyzer{steps: steps}
}

func (a *ScriptedAnalyzer) Analyze(ctx context.Context, _ string, items []domain.AnalysisItem) (string, error) {
	a.mu.Lock()
	i := a.calls
	if i >= len(a.steps) {
		i = len(a.steps) - 1
	}
	a.calls++
	a.Seen = append(a.Seen, items)
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	step := a.steps[i]
	switch {
	case step.Err != nil:
		return "", step.Err
	case step.Fn != nil:
		return step.Fn(items), nil
	}
	return step.Body, nil
}

// Calls reports how many times Analyze ran.
func (a *ScriptedAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
