package postgres

import (
	"strconv"
	"strings"
	"testing"

	"pyq-pipeline/internal/domain"
)

func TestUpsertSQLTargetsKeyAndRefreshesUpdatedAt(t *testing.T) {
	sql := UpsertSQL("questions")

	if !strings.HasPrefix(sql, `INSERT INTO "questions" (question_number, year, section,`) {
		t.Fatalf("unexpected prefix: %s", sql)
	}
	if !strings.Contains(sql, "ON CONFLICT (exam_type, year, question_number) DO UPDATE SET") {
		t.Fatalf("missing conflict target: %s", sql)
	}
	if !strings.HasSuffix(sql, "updated_at = now()") {
		t.Fatalf("updated_at not refreshed: %s", sql)
	}
	if strings.Contains(sql, "year = EXCLUDED.year") || strings.Contains(sql, "exam_type = EXCLUDED") {
		t.Fatalf("key columns must not be updated: %s", sql)
	}
	for _, c := range []string{"id", "created_at"} {
		if strings.Contains(sql, " "+c+",") || strings.Contains(sql, "("+c+",") {
			t.Fatalf("auto column %s written: %s", c, sql)
		}
	}
	if want := len(domain.UpsertColumns); !strings.Contains(sql, "$"+strconv.Itoa(want)+")") {
		t.Fatalf("expected %d placeholders: %s", want, sql)
	}
}

