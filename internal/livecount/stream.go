package livecount

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Time allowed to write one event to the peer.
const writeWait = 10 * time.Second

var heartbeatFrame = []byte(": heartbeat\n\n")

func dataFrame(payload []byte) []byte {
	return []byte(fmt.Sprintf("data: %s\n\n", payload))
}

// HandleSSE streams count updates as Server-Sent Events. The current count is
// sent on connect, and a comment heartbeat keeps idle proxies from closing
// the connection.
func (s *Service) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "Cache-Control")
	h.Set("X-Accel-Buffering", "no")

	ch := newQueueChannel()
	s.registry.Add(ch)
	defer func() {
		s.registry.Remove(ch)
		ch.Close()
	}()

	logger := s.logger.With(
		zap.String("channel", ch.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)
	logger.Info("live-count client connected", zap.Int("clients", s.registry.Len()))

	rc := http.NewResponseController(w)
	write := func(frame []byte) error {
		if err := rc.SetWriteDeadline(time.Now().Add(writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	count, err := s.CurrentCount(r.Context())
	if err != nil {
		logger.Warn("snapshot using stored count", zap.Int("count", count), zap.Error(err))
	}
	snapshot, _ := json.Marshal(Update{Count: count, Total: s.total})
	if err := write(dataFrame(snapshot)); err != nil {
		logger.Debug("failed to send snapshot", zap.Error(err))
		return
	}

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("live-count client disconnected")
			return
		case <-ch.Done():
			logger.Debug("live-count channel closed")
			return
		case payload := <-ch.Messages():
			if err := write(dataFrame(payload)); err != nil {
				logger.Debug("failed to write update", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := write(heartbeatFrame); err != nil {
				logger.Debug("failed to write heartbeat", zap.Error(err))
				return
			}
		}
	}
}
