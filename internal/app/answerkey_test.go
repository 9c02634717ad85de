package app_test

import (
	"testing"

	"pyq-pipeline/internal/app"
)

func TestParseAnswerKeyFormats(t *testing.T) {
	cases := map[string]string{
		"yaml":   "1: a\n2: \"(B)\"\n\"Q.3\": c\n",
		"nested": "answers:\n  1: a\n  2: b\n  3: C\n",
		"json":   `{"1": "A", "2": "b", "3": "c"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			key, err := app.ParseAnswerKey([]byte(body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(key) != 3 || key[3] == "" {
				t.Fatalf("unexpected key %v", key)
			}
		})
	}
}

func TestApplyAnswerKey(t *testing.T) {
	c := buildCorpus(1, 2, 3)
	c.Questions[2].CorrectAnswer = nil
	delete(c.Questions[1].Options, "D")

	report := app.ApplyAnswerKey(c, map[int]string{1: "(c)", 2: "D", 3: "b", 99: "A", 4: "z"})

	if !equalInts(report.Applied, []int{1, 3}) {
		t.Fatalf("applied: %v", report.Applied)
	}
	if !equalInts(report.UnknownNumber, []int{4, 99}) {
		t.Fatalf("unknown: %v", report.UnknownNumber)
	}
	if len(report.Skipped) != 1 {
		t.Fatalf("skipped: %v", report.Skipped)
	}

	q1 := c.Find(1)
	if *q1.CorrectAnswer != "C" {
		t.Fatalf("q1 answer %s", *q1.CorrectAnswer)
	}
	for letter, opt := range q1.Options {
		if opt.IsCorrect == nil || *opt.IsCorrect != (letter == "C") {
			t.Fatalf("q1 option %s is_correct=%v", letter, opt.IsCorrect)
		}
	}
	if q2 := c.Find(2); *q2.CorrectAnswer != "A" || q2.Options["A"].IsCorrect != nil {
		t.Fatalf("q2 must be left unchanged")
	}
}
