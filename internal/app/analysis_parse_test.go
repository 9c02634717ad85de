package app_test

import (
	"errors"
	"testing"

	"pyq-pipeline/internal/app"
	"pyq-pipeline/internal/domain"
)

func TestParseAnalysesSalvage(t *testing.T) {
	cases := map[string]string{
		"plain":  `[{"question_number": 4, "explanation": "x", "primary_type": "factual"}]`,
		"fenced": "```json\n[{\"question_number\": \"4\", \"explanation\": \"x\", \"primary_type\": \"factual\"}]\n```",
		"prose":  "Here is the analysis you asked for:\n[{\"question_number\": 4, \"explanation\": \"x\", \"primary_type\": \"factual\"}]\nLet me know!",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := app.ParseAnalyses(raw)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(got) != 1 || got[0].QuestionNumber != 4 || *got[0].Explanation != "x" {
				t.Fatalf("unexpected %+v", got)
			}
		})
	}
}

func TestParseAnalysesUnsalvageableIsTransient(t *testing.T) {
	for _, raw := range []string{"", "sorry, I cannot help", `[{"question_number": 1, "explanation": "cut off`} {
		_, err := app.ParseAnalyses(raw)
		if !errors.Is(err, domain.ErrTransientRemote) {
			t.Fatalf("%q: expected transient error, got %v", raw, err)
		}
	}
}

func TestParseAnalysesCoercesFieldShapes(t *testing.T) {
	raw := `[{
  "question_number": 9,
  "explanation": "because",
  "primary_type": "analytical",
  "key_concepts": "federalism, schedules",
  "related_topics": ["polity", 7],
  "why_others_are_wrong": [{"option": "a", "reason": "too broad"}, {"option": "(c)", "reason": "wrong article"}],
  "confidence_level": null
}]`
	got, err := app.ParseAnalyses(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	a := got[0]
	if len(a.KeyConcepts) != 2 || a.KeyConcepts[1] != "schedules" {
		t.Fatalf("key concepts %v", a.KeyConcepts)
	}
	if len(a.RelatedTopics) != 2 || a.RelatedTopics[1] != "7" {
		t.Fatalf("related topics %v", a.RelatedTopics)
	}
	if a.WhyOthersAreWrong["A"] != "too broad" || a.WhyOthersAreWrong["C"] != "wrong article" {
		t.Fatalf("rationale %v", a.WhyOthersAreWrong)
	}
	if a.ConfidenceLevel != nil {
		t.Fatalf("null confidence should stay nil")
	}
}
