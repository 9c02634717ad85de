package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pyq-pipeline/internal/corpus"
	"pyq-pipeline/internal/domain"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, jsonOutput = "", false
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPipelineStagesOffline(t *testing.T) {
	dir := t.TempDir()
	raw := writeFile(t, dir, "raw.json", `[
  {"q_no": "1", "question": "First? (a) w (b) x (c) y (d) z"},
  {"q_no": "2", "question": "Second? (a) w (b) x (c) y (d) z"},
  {"q_no": "2", "question": "Second again"},
  {"q_no": "4", "question": "Fourth? (a) w (b) x (c) y (d) z"}
]`)
	key := writeFile(t, dir, "key.yaml", "1: a\n2: b\n3: c\n4: d\n")
	patch := writeFile(t, dir, "patch.yaml", `
- question_number: 3
  question_text: "Third?"
  options: {A: w, B: x, C: y, D: z}
`)
	out := filepath.Join(dir, "upsc_2024.json")

	if _, err := run(t, "canonicalize", raw, "-o", out, "--exam-type", "UPSC", "--year", "2024", "--clean-options"); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if _, err := run(t, "validate", out, "--require-complete"); err == nil {
		t.Fatalf("validate must fail while q3 is missing")
	}
	if _, err := run(t, "patch", out, "--file", patch); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if _, err := run(t, "apply-key", out, "--key", key); err != nil {
		t.Fatalf("apply-key: %v", err)
	}
	if _, err := run(t, "upload", out, "--dry-run"); err == nil {
		t.Fatalf("upload must refuse un-enriched corpus")
	}
	if _, err := run(t, "enrich", out, "--offline", "--delay", "0", "--batch-size", "2"); err != nil {
		t.Fatalf("enrich: %v", err)
	}
	report, err := run(t, "--json", "validate", out, "--require-complete")
	if err != nil {
		t.Fatalf("validate after enrich: %v\n%s", err, report)
	}
	var vr domain.ValidationReport
	if err := json.Unmarshal([]byte(report), &vr); err != nil {
		t.Fatalf("validate json: %v\n%s", err, report)
	}
	if vr.Total != 4 || vr.Max != 4 {
		t.Fatalf("report %+v", vr)
	}
	if _, err := run(t, "upload", out, "--dry-run"); err != nil {
		t.Fatalf("dry-run upload: %v", err)
	}

	c, err := corpus.Load(out)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *c.Find(3).CorrectAnswer != "C" || c.Find(1).QuestionText != "First?" {
		t.Fatalf("unexpected corpus %+v", c.Questions)
	}
	release, err := corpus.NewFileLock(out).Acquire(context.Background())
	if err != nil {
		t.Fatalf("lock still held after the run: %v", err)
	}
	_ = release()
}

func TestEnrichRefusesLockedCorpus(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.json")
	c := &domain.CorpusFile{Metadata: domain.Metadata{ExamType: "UPSC", Year: 2024}}
	if err := corpus.Save(path, c); err != nil {
		t.Fatal(err)
	}
	release, err := corpus.NewFileLock(path).Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = run(t, "enrich", path, "--offline")
	if err == nil || !strings.Contains(err.Error(), domain.ErrCorpusLocked.Error()) {
		t.Fatalf("expected locked error, got %v", err)
	}
}
