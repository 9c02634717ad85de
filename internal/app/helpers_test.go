package app_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pyq-pipeline/internal/corpus"
	"pyq-pipeline/internal/domain"
)

// buildCorpus returns a corpus with the given question numbers, options
// extracted and answer A, without enrichment.
func buildCorpus(numbers ...int) *domain.CorpusFile {
	c := &domain.CorpusFile{Metadata: domain.Metadata{Source: "test.pdf", ExamType: "UPSC", Year: 2024, Section: "GS1", LastUpdated: "2024-01-01T00:00:00Z"}}
	for i, n := range numbers {
		ans := "A"
		c.Questions = append(c.Questions, domain.QuestionRecord{
			QuestionNumber:   n,
			ExamType:         "UPSC",
			Year:             2024,
			Section:          "GS1",
			QuestionText:     fmt.Sprintf("Question %d?", n),
			Options:          domain.Options{"A": {Text: "one"}, "B": {Text: "two"}, "C": {Text: "three"}, "D": {Text: "four"}},
			CorrectAnswer:    &ans,
			OptionsExtracted: true,
			ExtractionOrder:  i + 1,
			ChunkNumber:      1,
		})
	}
	c.SyncTotal()
	return c
}

func seq(from, to int) []int {
	var out []int
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func saveCorpus(t *testing.T, c *domain.CorpusFile) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upsc_2024.json")
	if err := corpus.Save(path, c); err != nil {
		t.Fatalf("save corpus: %v", err)
	}
	return path
}

func loadCorpus(t *testing.T, path string) *domain.CorpusFile {
	t.Helper()
	c, err := corpus.Load(path)
	if err != nil {
		t.Fatalf("load corpus: %v", err)
	}
	return c
}

// recordingSleeper returns immediately and remembers every requested wait.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func fixedClock() func() time.Time {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
