// Package survey serves the launch survey: questions, submissions, and the
// marketing export.
package survey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/mailerlite"
)

// SubmitResult is returned to the browser after a submission.
type SubmitResult struct {
	ResponseID           string `json:"response_id"`
	AnswersCount         int    `json:"answers_count"`
	MailerLiteSubscribed bool   `json:"mailerlite_subscribed"`
}

type Service struct {
	store         Store
	newsletter    mailerlite.Client
	title         string
	surveyGroupID string
	now           func() time.Time
	logger        *zap.Logger
}

// NewService creates the survey service. Emails left in the survey are
// subscribed to surveyGroupID, or the default group when it is empty.
func NewService(store Store, newsletter mailerlite.Client, title, surveyGroupID string, logger *zap.Logger) *Service {
	return &Service{
		store:         store,
		newsletter:    newsletter,
		title:         title,
		surveyGroupID: surveyGroupID,
		now:           time.Now,
		logger:        logger,
	}
}

// Questions returns the active survey's questions in display order.
func (s *Service) Questions(ctx context.Context) ([]Question, error) {
	id, err := s.store.FindSurvey(ctx, s.title)
	if err != nil {
		return nil, err
	}
	qs, err := s.store.Questions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching questions: %w", err)
	}
	if qs == nil {
		qs = []Question{}
	}
	return qs, nil
}

// Submit stores a submission. A newsletter signup failure does not fail the
// submission.
func (s *Service) Submit(ctx context.Context, answers map[string]any) (*SubmitResult, error) {
	if answers == nil {
		return nil, ErrInvalidAnswers
	}

	surveyID, err := s.store.FindSurvey(ctx, s.title)
	if err != nil {
		return nil, err
	}
	questions, err := s.store.Questions(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("fetching questions: %w", err)
	}

	email := emailAnswer(answers, questions)
	subscribed := false
	if email != "" {
		subscribed = s.subscribe(ctx, email)
	}

	rows := BuildAnswers(answers, questions)
	id, err := s.store.SaveResponse(ctx, Response{
		SurveyID:    surveyID,
		SubmittedAt: s.now().UTC(),
		Email:       email,
	}, rows)
	if err != nil {
		return nil, fmt.Errorf("saving response: %w", err)
	}

	s.logger.Info("survey response stored",
		zap.String("response_id", id),
		zap.Int("answers", len(rows)),
		zap.Bool("subscribed", subscribed),
	)

	return &SubmitResult{
		ResponseID:           id,
		AnswersCount:         len(rows),
		MailerLiteSubscribed: subscribed,
	}, nil
}

func (s *Service) subscribe(ctx context.Context, email string) bool {
	if s.newsletter == nil {
		return false
	}
	if s.surveyGroupID == "" {
		s.logger.Warn("survey group id not configured, using default group")
	}

	_, err := s.newsletter.Subscribe(ctx, mailerlite.SubscribeParams{
		Email:   email,
		GroupID: s.surveyGroupID,
	})
	if err != nil {
		level := s.logger.Warn
		if errors.Is(err, mailerlite.ErrNotConfigured) {
			level = s.logger.Debug
		}
		level("survey newsletter signup failed", zap.Error(err))
		return false
	}
	return true
}

// Export returns all responses as a flat table.
func (s *Service) Export(ctx context.Context) (*Table, error) {
	t, err := s.store.ExportResults(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching survey results: %w", err)
	}
	return t, nil
}
