package status

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// writeWait bounds each frame write to a stream client.
const writeWait = 10 * time.Second

// handleStream upgrades GET /api/v1/events/stream to a WebSocket and pushes
// every dispatched event to the client until either side goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("status: websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	c := s.broadcaster.Register(id)
	defer s.broadcaster.Unregister(id)

	s.logger.Info("status: stream client connected",
		slog.String("client_id", id),
		slog.String("remote", r.RemoteAddr),
	)
	defer func() {
		s.logger.Info("status: stream client disconnected",
			slog.String("client_id", id),
			slog.Int64("dropped", c.Dropped.Load()),
		)
	}()

	// Clients send nothing; reading detects a close from their side.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame, ok := <-c.Send():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
