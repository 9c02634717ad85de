package app

import (
	"fmt"
	"log"

	"gopkg.in/yaml.v3"

	"pyq-pipeline/internal/domain"
)

// ParseAnswerKey reads a YAML or JSON mapping of question_number -> letter,
// optionally nested under an "answers" key.
func ParseAnswerKey(data []byte) (map[int]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode answer key: %w", err)
	}
	if len(doc.Content) == 0 {
		return map[int]string{}, nil
	}
	node := doc.Content[0]
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("answer key must be a mapping")
	}
	if len(node.Content) == 2 && node.Content[0].Value == "answers" && node.Content[1].Kind == yaml.MappingNode {
		node = node.Content[1]
	}

	key := make(map[int]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		n, err := domain.ParseNumber(k.Value)
		if err != nil {
			return nil, fmt.Errorf("answer key line %d: %w", k.Line, err)
		}
		key[n] = v.Value
	}
	return key, nil
}

// ApplyAnswerKey sets correct_answer and per-option is_correct flags. Unknown
// question numbers and letters that are not options of the record are
// reported and skipped.
func ApplyAnswerKey(c *domain.CorpusFile, key map[int]string) domain.AnswerKeyReport {
	report := domain.AnswerKeyReport{Applied: []int{}, UnknownNumber: []int{}, Skipped: []string{}}

	numbers := make([]int, 0, len(key))
	for n := range key {
		numbers = append(numbers, n)
	}
	sortedInts(numbers)

	for _, n := range numbers {
		raw := key[n]
		rec := c.Find(n)
		if rec == nil {
			log.Printf("answer key: question %d not in corpus, skipped", n)
			report.UnknownNumber = append(report.UnknownNumber, n)
			continue
		}
		letter := domain.NormalizeLetter(raw)
		if letter == "" {
			report.Skipped = append(report.Skipped, fmt.Sprintf("%d: %v %q", n, domain.ErrUnknownAnswerLetter, raw))
			continue
		}
		if _, ok := rec.Options[letter]; !ok {
			log.Printf("answer key: question %d has no option %s, skipped", n, letter)
			report.Skipped = append(report.Skipped, fmt.Sprintf("%d: option %s not present", n, letter))
			continue
		}
		rec.CorrectAnswer = &letter
		for l, opt := range rec.Options {
			correct := l == letter
			opt.IsCorrect = &correct
			rec.Options[l] = opt
		}
		report.Applied = append(report.Applied, n)
	}
	return report
}
