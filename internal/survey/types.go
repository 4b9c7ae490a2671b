package survey

import (
	"errors"
	"time"
)

var (
	ErrSurveyNotFound = errors.New("survey not found")
	ErrInvalidAnswers = errors.New("invalid survey answers")
	ErrNotConfigured  = errors.New("survey storage not configured")
)

// TypeOpenEnded questions store free text instead of an option reference.
const TypeOpenEnded = "open-ended"

// EmailQuestionCode identifies the optional "leave your email" question.
const EmailQuestionCode = "Q18"

type Option struct {
	ID      string `json:"id"`
	Value   string `json:"value"`
	OrderNo int    `json:"order_no"`
}

type Question struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Type         string   `json:"type"`
	OrderNo      int      `json:"order_no"`
	QuestionCode string   `json:"question_code"`
	Options      []Option `json:"options"`
}

// Answer is one stored answer row. Multi-choice questions produce one row
// per selected option.
type Answer struct {
	QuestionID string
	OptionID   string
	AnswerText string
}

// Response is one survey submission.
type Response struct {
	SurveyID    string
	SubmittedAt time.Time
	Email       string
}

// Table is a flat export of all responses. Null cells are empty strings.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Records returns one column-keyed map per row.
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		rec := make(map[string]string, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}
