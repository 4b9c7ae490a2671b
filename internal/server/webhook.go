package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/arfve/launchsite/internal/metrics"
)

// Upper bound on webhook bodies; MailerLite payloads are a few KB.
const maxWebhookBody = 1 << 20

// subscriberEvents trigger a recount; every other event type is acknowledged.
var subscriberEvents = map[string]bool{
	"subscriber.created":      true,
	"subscriber.updated":      true,
	"subscriber.unsubscribed": true,
	"subscriber.deleted":      true,
}

type webhookAck struct {
	Success   bool   `json:"success"`
	Processed bool   `json:"processed"`
	EventType string `json:"eventType"`
}

// handleWebhook acknowledges every well-formed event with 200. A failed
// recount is logged, never reported, so MailerLite does not retry.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("webhook processing panicked", zap.Any("panic", rec))
			writeError(w, http.StatusInternalServerError, "Webhook processing failed")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Error("failed to read webhook body", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	if len(bytes.TrimSpace(body)) == 0 {
		s.logger.Warn("empty webhook body")
		writeError(w, http.StatusBadRequest, "Request body is required")
		return
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		s.logger.Warn("invalid webhook JSON", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid webhook payload structure")
		return
	}
	eventType, ok := obj["type"].(string)
	if !ok {
		s.logger.Warn("webhook payload without string type")
		writeError(w, http.StatusBadRequest, "Invalid webhook payload structure")
		return
	}

	processed := subscriberEvents[eventType]

	label := eventType
	if !processed {
		label = "other"
	}
	metrics.WebhookEvents.WithLabelValues(label, strconv.FormatBool(processed)).Inc()

	if processed {
		count, err := s.live.Recount(r.Context(), s.config.LiveCount.WebhookTimeout)
		if err != nil {
			s.logger.Error("webhook recount failed", zap.String("event_type", eventType), zap.Error(err))
		} else {
			s.logger.Info("webhook recount broadcast", zap.String("event_type", eventType), zap.Int("count", count))
		}
	} else {
		s.logger.Debug("ignoring webhook event", zap.String("event_type", eventType))
	}

	writeJSON(w, http.StatusOK, webhookAck{
		Success:   true,
		Processed: processed,
		EventType: eventType,
	})
}
