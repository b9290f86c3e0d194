package server

import (
	"log/slog"
	"net/http"

	"github.com/recallio/insight-engine/pkg/engine/delivery"
	"github.com/recallio/insight-engine/pkg/gateway/config"
	"github.com/recallio/insight-engine/pkg/gateway/handlers"
	"github.com/recallio/insight-engine/pkg/gateway/mw"
)

// Sessions is what the server needs from the session manager.
type Sessions interface {
	handlers.SessionService
	handlers.SessionCounter
}

type Server struct {
	cfg      config.Config
	logger   *slog.Logger
	mux      *http.ServeMux
	sessions Sessions
	hub      *delivery.Hub
}

func New(cfg config.Config, sessions Sessions, hub *delivery.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		sessions: sessions,
		hub:      hub,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Sessions: s.sessions})

	s.mux.Handle("POST /v1/sessions/{session_id}/chunks", handlers.ChunksHandler{
		Config:   s.cfg,
		Sessions: s.sessions,
		Logger:   s.logger,
	})
	s.mux.Handle("DELETE /v1/sessions/{session_id}", handlers.CloseHandler{
		Sessions: s.sessions,
		Logger:   s.logger,
	})
	s.mux.Handle("GET /v1/sessions/{session_id}/events", handlers.EventsHandler{
		Hub:    s.hub,
		Logger: s.logger,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
