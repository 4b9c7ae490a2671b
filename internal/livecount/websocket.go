package livecount

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Browsers only send control frames.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWebSocket streams the same count updates as HandleSSE, one JSON text
// frame per update.
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	ch := newQueueChannel()
	s.registry.Add(ch)

	logger := s.logger.With(
		zap.String("channel", ch.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)
	logger.Info("live-count websocket connected", zap.Int("clients", s.registry.Len()))

	count, err := s.CurrentCount(r.Context())
	if err != nil {
		logger.Warn("snapshot using stored count", zap.Int("count", count), zap.Error(err))
	}
	snapshot, _ := json.Marshal(Update{Count: count, Total: s.total})

	go readPump(conn, ch, logger)
	writePump(conn, ch, snapshot, logger)

	s.registry.Remove(ch)
	logger.Info("live-count websocket disconnected")
}

// readPump discards inbound frames and closes ch when the peer goes away.
func readPump(conn *websocket.Conn, ch *queueChannel, logger *zap.Logger) {
	defer ch.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

// writePump owns all writes to conn.
func writePump(conn *websocket.Conn, ch *queueChannel, snapshot []byte, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ch.Close()
		_ = conn.Close()
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
		logger.Debug("failed to send snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-ch.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case payload := <-ch.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("websocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
