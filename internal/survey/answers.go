package survey

import (
	"fmt"
	"strings"
)

const otherSuffix = "_other"

// BuildAnswers maps submitted answers, keyed by question id, to answer rows.
//
// Keys ending in "_other" hold free text for an "Other" option and are not
// answers by themselves. Unknown question ids and values that match no
// option are dropped.
func BuildAnswers(answers map[string]any, questions []Question) []Answer {
	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	var out []Answer
	// Walk questions in order so the result is deterministic.
	for _, q := range questions {
		value, ok := answers[q.ID]
		if !ok || value == nil {
			continue
		}

		customText := ""
		if other, ok := answers[q.ID+otherSuffix]; ok && other != nil {
			customText = strings.TrimSpace(fmt.Sprint(other))
		}

		if q.Type == TypeOpenEnded {
			out = append(out, Answer{QuestionID: q.ID, AnswerText: fmt.Sprint(value)})
			continue
		}

		var selected []string
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				selected = append(selected, fmt.Sprint(item))
			}
		case []string:
			selected = v
		default:
			selected = []string{fmt.Sprint(v)}
		}

		for _, sel := range selected {
			opt, ok := findOption(q.Options, sel)
			if !ok {
				continue
			}
			a := Answer{QuestionID: q.ID, OptionID: opt.ID}
			if customText != "" && strings.Contains(strings.ToLower(sel), "other") {
				a.AnswerText = customText
			}
			out = append(out, a)
		}
	}

	return out
}

func findOption(options []Option, value string) (Option, bool) {
	for _, o := range options {
		if o.Value == value {
			return o, true
		}
	}
	return Option{}, false
}

// emailAnswer returns the trimmed answer to the email question, if any.
func emailAnswer(answers map[string]any, questions []Question) string {
	for _, q := range questions {
		if q.QuestionCode != EmailQuestionCode {
			continue
		}
		if s, ok := answers[q.ID].(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	}
	return ""
}
