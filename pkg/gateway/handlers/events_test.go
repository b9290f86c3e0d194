package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/delivery"
)

func TestEventsHandler_StreamsSessionEvents(t *testing.T) {
	hub := delivery.NewHub(time.Second, nil)
	mux := http.NewServeMux()
	mux.Handle("GET /v1/sessions/{session_id}/events", EventsHandler{Hub: hub})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/s1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	// Subscribe registration is synchronous in the handler, but give the
	// server goroutine a moment to reach it.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("s1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ev := &types.AutoAnswerEvent{
		SessionID:  "s1",
		ChunkIndex: 7,
		Question:   "What is the rollout date?",
		Answer:     "March 14th, per the planning doc.",
		Confidence: 0.91,
	}
	if err := hub.EmitAutoAnswer(context.Background(), ev); err != nil {
		t.Fatalf("emit: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got struct {
		Type string                `json:"type"`
		Data types.AutoAnswerEvent `json:"data"`
	}
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got.Type != delivery.TypeAutoAnswer {
		t.Fatalf("type = %q", got.Type)
	}
	if got.Data.SessionID != "s1" || got.Data.Question != ev.Question {
		t.Fatalf("event mangled: %+v", got.Data)
	}
}

func TestEventsHandler_DetachesOnDisconnect(t *testing.T) {
	hub := delivery.NewHub(time.Second, nil)
	mux := http.NewServeMux()
	mux.Handle("GET /v1/sessions/{session_id}/events", EventsHandler{Hub: hub})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/s2/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("s2") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("s2") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never detached after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsHandler_RejectsPlainHTTP(t *testing.T) {
	hub := delivery.NewHub(time.Second, nil)
	mux := http.NewServeMux()
	mux.Handle("GET /v1/sessions/{session_id}/events", EventsHandler{Hub: hub})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/sessions/s3/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 on non-upgrade request", resp.StatusCode)
	}
}
