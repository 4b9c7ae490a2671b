package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/config"
	"github.com/arfve/launchsite/internal/livecount"
	"github.com/arfve/launchsite/internal/mailerlite"
	"github.com/arfve/launchsite/internal/survey"
)

type Server struct {
	live       *livecount.Service
	newsletter mailerlite.Client
	survey     *survey.Service
	config     *config.Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewServer wires the handlers. surveySvc may be nil when no survey storage
// is configured.
func NewServer(live *livecount.Service, newsletter mailerlite.Client, surveySvc *survey.Service, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		live:       live,
		newsletter: newsletter,
		survey:     surveySvc,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

type countResponse struct {
	Count     int   `json:"count"`
	Total     int   `json:"total"`
	Timestamp int64 `json:"timestamp"`
}

func (s *Server) handleSubscriberCount(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Cache-Control", "private, no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")

	count, err := s.live.CurrentCount(r.Context())
	if err != nil {
		s.logger.Error("subscriber count failed, serving fallback", zap.Error(err))
		count = s.live.Fallback()
	}

	writeJSON(w, http.StatusOK, countResponse{
		Count:     count,
		Total:     s.live.Total(),
		Timestamp: s.now().UnixMilli(),
	})
}

type subscribeRequest struct {
	Email  string            `json:"email"`
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields"`
}

type subscribeResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	email := strings.TrimSpace(req.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	}

	sub, err := s.newsletter.Subscribe(r.Context(), mailerlite.SubscribeParams{
		Email:  email,
		Name:   strings.TrimSpace(req.Name),
		Fields: req.Fields,
	})
	switch {
	case errors.Is(err, mailerlite.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "Newsletter service not configured")
		return
	case errors.Is(err, mailerlite.ErrInvalidSubscriber):
		writeError(w, http.StatusBadRequest, "Invalid email address")
		return
	case err != nil:
		s.logger.Error("subscribe failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "Failed to subscribe")
		return
	}

	s.logger.Info("subscriber added", zap.String("id", sub.ID))
	writeJSON(w, http.StatusOK, subscribeResponse{Success: true, ID: sub.ID})
}

type debugResponse struct {
	HasAPIKey            bool   `json:"hasApiKey"`
	HasDefaultGroupID    bool   `json:"hasDefaultGroupId"`
	HasSurveyGroupID     bool   `json:"hasSurveyGroupId"`
	DefaultGroupIDSuffix string `json:"defaultGroupIdSuffix"`
	SurveyGroupIDSuffix  string `json:"surveyGroupIdSuffix"`
	StoredCount          int    `json:"storedCount"`
	LiveClients          int    `json:"liveClients"`
}

func (s *Server) handleDebugMailerLite(w http.ResponseWriter, r *http.Request) {
	cfg := s.config.MailerLite
	resp := debugResponse{
		HasAPIKey:            cfg.APIKey != "",
		HasDefaultGroupID:    cfg.GroupID != "",
		HasSurveyGroupID:     cfg.SurveyGroupID != "",
		DefaultGroupIDSuffix: suffix(cfg.GroupID),
		SurveyGroupIDSuffix:  suffix(cfg.SurveyGroupID),
		StoredCount:          s.live.Store().Get(),
		LiveClients:          s.live.Registry().Len(),
	}

	writeJSON(w, http.StatusOK, resp)
}

// suffix returns the last four characters of an identifier.
func suffix(id string) string {
	if id == "" {
		return "NOT SET"
	}
	if len(id) <= 4 {
		return id
	}
	return id[len(id)-4:]
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.live.Registry().Len(),
	})
}
