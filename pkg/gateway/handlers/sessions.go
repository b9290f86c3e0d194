package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/types"
	"github.com/recallio/insight-engine/pkg/engine/search"
	"github.com/recallio/insight-engine/pkg/engine/session"
	"github.com/recallio/insight-engine/pkg/gateway/config"
)

// SessionService is the slice of the session manager the gateway needs.
type SessionService interface {
	Submit(ctx context.Context, req *session.SubmitRequest) error
	Close(sessionID string) error
}

type chunkRequest struct {
	ChunkIndex         uint     `json:"chunk_index"`
	Text               string   `json:"text"`
	StartOffsetSeconds float64  `json:"start_offset_seconds"`
	DurationSeconds    float64  `json:"duration_seconds"`
	ProjectRef         string   `json:"project_ref,omitempty"`
	OrgRef             string   `json:"org_ref,omitempty"`
	EnabledTypes       []string `json:"enabled_types,omitempty"`
}

type chunkResponse struct {
	SessionID  string `json:"session_id"`
	ChunkIndex uint   `json:"chunk_index"`
	Accepted   bool   `json:"accepted"`
}

// ChunksHandler accepts transcript chunks. Ingestion is acknowledged as soon
// as the chunk is routed; all downstream results arrive over the session's
// event stream.
type ChunksHandler struct {
	Config   config.Config
	Sessions SessionService
	Logger   *slog.Logger
}

func (h ChunksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, r, core.NewInvalidRequestError("session id is required"))
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	var req chunkRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, core.NewInvalidRequestError("malformed chunk body: "+err.Error()))
		return
	}
	if dec.More() {
		writeError(w, r, core.NewInvalidRequestError("request body must contain a single chunk"))
		return
	}
	_, _ = io.Copy(io.Discard, body)

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, core.NewInvalidRequestError("text is required"))
		return
	}
	enabled := make([]types.InsightType, 0, len(req.EnabledTypes))
	for _, raw := range req.EnabledTypes {
		t := types.InsightType(raw)
		if !types.ValidInsightType(t) {
			writeError(w, r, core.NewInvalidRequestError("unknown insight type: "+raw))
			return
		}
		enabled = append(enabled, t)
	}

	err := h.Sessions.Submit(r.Context(), &session.SubmitRequest{
		SessionID: sessionID,
		Chunk: types.TranscriptChunk{
			Index:              req.ChunkIndex,
			Text:               req.Text,
			StartOffsetSeconds: req.StartOffsetSeconds,
			DurationSeconds:    req.DurationSeconds,
		},
		Scope:        search.Scope{ProjectRef: req.ProjectRef, OrgRef: req.OrgRef},
		EnabledTypes: enabled,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(chunkResponse{
		SessionID:  sessionID,
		ChunkIndex: req.ChunkIndex,
		Accepted:   true,
	})
}

// CloseHandler ends a session. The final partial segment is flushed through
// the batch path before the ID is retired.
type CloseHandler struct {
	Sessions SessionService
	Logger   *slog.Logger
}

func (h CloseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		writeError(w, r, core.NewInvalidRequestError("session id is required"))
		return
	}
	if err := h.Sessions.Close(sessionID); err != nil {
		if core.KindOf(err) == core.KindInvalidRequest {
			// Unknown ID on DELETE reads better as 404 than 400.
			http.NotFound(w, r)
			return
		}
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
