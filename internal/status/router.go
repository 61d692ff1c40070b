// Package status serves the daemon's local HTTP API: health, metrics, the
// most recent dispatched events, and a WebSocket stream of new ones.
package status

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ncsync/uploadd/internal/daemon"
	"github.com/ncsync/uploadd/internal/metrics"
)

// HealthReporter reports daemon health. *daemon.Daemon implements it.
type HealthReporter interface {
	Health() daemon.HealthStatus
}

// Server holds the dependencies of the status handlers.
type Server struct {
	health      HealthReporter
	metrics     *metrics.Metrics
	recent      *Recent
	broadcaster *Broadcaster
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewServer creates a Server. Any of m, recent and b may be nil, in which
// case the routes that need them respond 404.
func NewServer(h HealthReporter, m *metrics.Metrics, recent *Recent, b *Broadcaster, logger *slog.Logger) *Server {
	return &Server{
		health:      h,
		metrics:     m,
		recent:      recent,
		broadcaster: b,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// NewRouter returns the chi router for the status API.
//
// Route layout:
//
//	GET /healthz                – daemon health
//	GET /metrics                – Prometheus text exposition
//	GET /api/v1/events          – most recent dispatched events (?limit=N)
//	GET /api/v1/events/stream   – WebSocket stream of dispatched events
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)
	if srv.metrics != nil {
		r.Method(http.MethodGet, "/metrics", srv.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if srv.recent != nil {
			r.Get("/events", srv.handleGetEvents)
		}
		if srv.broadcaster != nil {
			r.Get("/events/stream", srv.handleStream)
		}
	})

	return r
}
