package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/types"
)

// envelope is the wire shape for every outbound message.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans engine events out to WebSocket subscribers, keyed by session.
// Emitting to a session with no subscribers is a no-op, not a failure; a
// subscriber whose write fails is dropped.
type Hub struct {
	writeTimeout time.Duration
	logger       *slog.Logger

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewHub creates a hub. A zero writeTimeout defaults to 5s.
func NewHub(writeTimeout time.Duration, logger *slog.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		writeTimeout: writeTimeout,
		logger:       logger,
		subs:         make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe attaches a connection to a session's event stream and returns an
// unsubscribe function. The hub does not read from or close the connection.
func (h *Hub) Subscribe(sessionID string, conn *websocket.Conn) (unsubscribe func()) {
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.drop(sessionID, sub) })
	}
}

func (h *Hub) drop(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// SubscriberCount returns the number of connections attached to a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

func (h *Hub) EmitAutoAnswer(ctx context.Context, ev *types.AutoAnswerEvent) error {
	return h.broadcast(ctx, ev.SessionID, envelope{Type: TypeAutoAnswer, Data: ev})
}

func (h *Hub) EmitInsights(ctx context.Context, ev *types.InsightsExtractedEvent) error {
	return h.broadcast(ctx, ev.SessionID, envelope{Type: TypeInsightsExtracted, Data: ev})
}

func (h *Hub) broadcast(_ context.Context, sessionID string, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return core.NewDeliveryUnavailableError(err)
	}

	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs[sessionID]))
	for sub := range h.subs[sessionID] {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.writeMu.Lock()
		_ = sub.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		err := sub.conn.WriteMessage(websocket.TextMessage, payload)
		sub.writeMu.Unlock()
		if err != nil {
			h.logger.Warn("delivery: dropping subscriber after write failure",
				"session_id", sessionID, "error", err)
			h.drop(sessionID, sub)
		}
	}
	return nil
}

var _ Emitter = (*Hub)(nil)
