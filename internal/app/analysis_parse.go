package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pyq-pipeline/internal/domain"
)

var errNoAnalyses = errors.New("response holds no analysis list")

// ParseAnalyses decodes the analysis service response. Markdown fences are
// stripped; when the text is still not a JSON list, the outermost [...] span
// is tried. A response that cannot be salvaged is a transient failure.
func ParseAnalyses(raw string) ([]domain.Analysis, error) {
	text := stripFences(raw)

	var items []map[string]any
	err := json.Unmarshal([]byte(text), &items)
	if err != nil {
		start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
		if start < 0 || end <= start {
			return nil, &domain.RemoteError{Transient: true, Err: fmt.Errorf("%w: %v", errNoAnalyses, err)}
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
			return nil, &domain.RemoteError{Transient: true, Err: fmt.Errorf("%w: %v", errNoAnalyses, err)}
		}
	}

	out := make([]domain.Analysis, 0, len(items))
	for _, item := range items {
		raw, ok := lookup(item, numberKeys)
		if !ok {
			continue
		}
		n, err := domain.ParseNumber(scalarString(raw))
		if err != nil {
			continue
		}
		out = append(out, domain.Analysis{QuestionNumber: n, Enrichment: coerceEnrichment(item)})
	}
	return out, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the language tag line
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func coerceEnrichment(m map[string]any) domain.Enrichment {
	return domain.Enrichment{
		Explanation:            optString(m["explanation"]),
		PrimaryType:            optString(m["primary_type"]),
		SecondaryType:          optString(m["secondary_type"]),
		DifficultyLevel:        optString(m["difficulty_level"]),
		KeyConcepts:            stringList(m["key_concepts"]),
		RelatedTopics:          stringList(m["related_topics"]),
		StudyTips:              optString(m["study_tips"]),
		ExaminerThoughtProcess: optString(m["examiner_thought_process"]),
		CommonMistakes:         optString(m["common_mistakes"]),
		TimeManagement:         optString(m["time_management"]),
		ConfidenceLevel:        optString(m["confidence_level"]),
		PriorityLevel:          optString(m["priority_level"]),
		ExamRelevance:          optString(m["exam_relevance"]),
		WhyOthersAreWrong:      letterMap(m["why_others_are_wrong"]),
	}
}

func optString(v any) *string {
	var s string
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		s = strings.Join(stringList(val), "\n")
	default:
		b, _ := json.Marshal(val)
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func stringList(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := optString(item); s != nil {
				out = append(out, *s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(val, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

func letterMap(v any) map[string]string {
	out := map[string]string{}
	switch val := v.(type) {
	case map[string]any:
		for k, reason := range val {
			letter := domain.NormalizeLetter(k)
			if s := optString(reason); letter != "" && s != nil {
				out[letter] = *s
			}
		}
	case []any:
		for _, item := range val {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			l, _ := lookup(obj, []string{"option", "letter", "label"})
			r, _ := lookup(obj, []string{"reason", "why", "explanation"})
			letter := domain.NormalizeLetter(scalarString(l))
			if s := optString(r); letter != "" && s != nil {
				out[letter] = *s
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
