package survey

import "context"

// Store persists surveys, questions, and responses.
type Store interface {
	// FindSurvey returns the id of the survey with the given title.
	FindSurvey(ctx context.Context, title string) (string, error)
	// Questions returns the survey's questions ordered by order_no, each
	// with its options ordered by order_no.
	Questions(ctx context.Context, surveyID string) ([]Question, error)
	// SaveResponse stores a response and its answers atomically and
	// returns the new response id.
	SaveResponse(ctx context.Context, resp Response, answers []Answer) (string, error)
	// ExportResults returns every response flattened one row per response.
	ExportResults(ctx context.Context) (*Table, error)
	Close() error
}
