package status

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ncsync/uploadd/internal/watcher"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, msg)
}

// handleHealthz responds to GET /healthz with the daemon's health. The status
// code is 503 once the watch is no longer active.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h := s.health.Health()
	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

// eventsResponse is the body of GET /api/v1/events.
type eventsResponse struct {
	Events []watcher.Event `json:"events"`
	Count  int             `json:"count"`
}

// handleGetEvents responds to GET /api/v1/events.
//
// Supported query parameters:
//
//	limit – number of most recent events to return, 1..ring size (default all)
//
// Events are ordered oldest first.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > s.recent.Cap() {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("'limit' must be an integer between 1 and %d", s.recent.Cap()))
			return
		}
		limit = n
	}

	events := s.recent.Last(limit)
	s.logger.Debug("status: recent events served",
		slog.Int("count", len(events)),
		slog.String("remote", r.RemoteAddr),
	)
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Count: len(events)})
}
