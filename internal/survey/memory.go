package survey

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// exportColumns mirror the v_survey_results_csv view.
var exportColumns = []string{"ID", "Submitted At", "Email", "Question", "Answer"}

const exportTimeLayout = "2006-01-02T15:04:05"

type storedResponse struct {
	id      string
	resp    Response
	answers []Answer
}

// MemoryStore keeps surveys and responses in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	surveys   map[string]string
	questions map[string][]Question
	responses []storedResponse
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		surveys:   make(map[string]string),
		questions: make(map[string][]Question),
	}
}

// AddSurvey registers a survey and returns its id.
func (m *MemoryStore) AddSurvey(title string, questions []Question) string {
	id := uuid.New().String()

	qs := make([]Question, len(questions))
	copy(qs, questions)
	for i := range qs {
		if qs[i].ID == "" {
			qs[i].ID = uuid.New().String()
		}
		opts := make([]Option, len(qs[i].Options))
		copy(opts, qs[i].Options)
		for j := range opts {
			if opts[j].ID == "" {
				opts[j].ID = uuid.New().String()
			}
		}
		sortOptions(opts)
		qs[i].Options = opts
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].OrderNo < qs[j].OrderNo })

	m.mu.Lock()
	m.surveys[title] = id
	m.questions[id] = qs
	m.mu.Unlock()
	return id
}

// LoadSeedFile reads a JSON array of questions.
func LoadSeedFile(path string) ([]Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var questions []Question
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", path, err)
	}
	return questions, nil
}

func (m *MemoryStore) FindSurvey(_ context.Context, title string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.surveys[title]
	if !ok {
		return "", ErrSurveyNotFound
	}
	return id, nil
}

func (m *MemoryStore) Questions(_ context.Context, surveyID string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs := m.questions[surveyID]
	out := make([]Question, len(qs))
	copy(out, qs)
	return out, nil
}

func (m *MemoryStore) SaveResponse(_ context.Context, resp Response, answers []Answer) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.questions[resp.SurveyID]; !ok {
		return "", ErrSurveyNotFound
	}

	id := uuid.New().String()
	stored := make([]Answer, len(answers))
	copy(stored, answers)
	m.responses = append(m.responses, storedResponse{id: id, resp: resp, answers: stored})
	return id, nil
}

func (m *MemoryStore) ExportResults(_ context.Context) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	responses := make([]storedResponse, len(m.responses))
	copy(responses, m.responses)
	sort.Slice(responses, func(i, j int) bool { return responses[i].id < responses[j].id })

	table := &Table{Columns: exportColumns}
	for _, r := range responses {
		questions := m.questions[r.resp.SurveyID]
		for _, q := range questions {
			var values []string
			for _, a := range r.answers {
				if a.QuestionID != q.ID {
					continue
				}
				if a.AnswerText != "" {
					values = append(values, a.AnswerText)
				} else if opt, ok := optionByID(q.Options, a.OptionID); ok {
					values = append(values, opt.Value)
				}
			}
			if len(values) == 0 {
				continue
			}
			table.Rows = append(table.Rows, []string{
				r.id,
				r.resp.SubmittedAt.UTC().Format(exportTimeLayout),
				r.resp.Email,
				q.QuestionCode,
				strings.Join(values, "; "),
			})
		}
	}
	return table, nil
}

func (m *MemoryStore) Close() error { return nil }

func optionByID(options []Option, id string) (Option, bool) {
	for _, o := range options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}
