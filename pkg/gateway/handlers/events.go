package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/engine/delivery"
)

// EventsHandler upgrades to a WebSocket and streams a session's auto-answer
// and insight events. The socket is outbound-only; inbound frames are
// discarded until the client disconnects.
type EventsHandler struct {
	Hub    *delivery.Hub
	Logger *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth happens in middleware before the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (h EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, r, core.NewInvalidRequestError("session id is required"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the failure response.
		if h.Logger != nil {
			h.Logger.Warn("events: websocket upgrade failed",
				"session_id", sessionID, "error", err)
		}
		return
	}
	defer conn.Close()

	unsubscribe := h.Hub.Subscribe(sessionID, conn)
	defer unsubscribe()

	if h.Logger != nil {
		h.Logger.Info("events: subscriber attached", "session_id", sessionID)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
