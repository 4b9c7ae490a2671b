package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/survey"
)

const exportFilename = "arfve-survey-results.csv"

func (s *Server) surveyAvailable(w http.ResponseWriter) bool {
	if s.survey == nil {
		writeError(w, http.StatusServiceUnavailable, "Survey storage not configured")
		return false
	}
	return true
}

func (s *Server) writeSurveyError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, survey.ErrSurveyNotFound):
		writeError(w, http.StatusNotFound, "Survey not found")
	case errors.Is(err, survey.ErrInvalidAnswers):
		writeError(w, http.StatusBadRequest, "Invalid request body")
	default:
		s.logger.Error("survey request failed", zap.String("action", action), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	if !s.surveyAvailable(w) {
		return
	}

	questions, err := s.survey.Questions(r.Context())
	if err != nil {
		s.writeSurveyError(w, err, "questions")
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

type submitRequest struct {
	Answers map[string]any `json:"answers"`
}

func (s *Server) handleSubmitSurvey(w http.ResponseWriter, r *http.Request) {
	if !s.surveyAvailable(w) {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Answers == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := s.survey.Submit(r.Context(), req.Answers)
	if err != nil {
		s.writeSurveyError(w, err, "submit")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type exportResponse struct {
	TotalResponses int                 `json:"total_responses"`
	Data           []map[string]string `json:"data"`
}

func (s *Server) handleExportSurvey(w http.ResponseWriter, r *http.Request) {
	if !s.surveyAvailable(w) {
		return
	}

	table, err := s.survey.Export(r.Context())
	if err != nil {
		s.writeSurveyError(w, err, "export")
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename+`"`)
		w.WriteHeader(http.StatusOK)
		if err := survey.WriteCSV(w, table); err != nil {
			s.logger.Warn("failed to write csv export", zap.Error(err))
		}
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{
		TotalResponses: len(table.Rows),
		Data:           table.Records(),
	})
}
