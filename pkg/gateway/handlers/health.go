package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/recallio/insight-engine/pkg/gateway/config"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// SessionCounter reports how many sessions are live.
type SessionCounter interface {
	Count() int
}

type ReadyHandler struct {
	Config   config.Config
	Sessions SessionCounter
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK              bool     `json:"ok"`
		AuthMode        string   `json:"auth_mode"`
		FallbackEnabled bool     `json:"fallback_enabled"`
		SearchEnabled   bool     `json:"search_enabled"`
		StoreEnabled    bool     `json:"store_enabled"`
		LiveSessions    int      `json:"live_sessions"`
		Issues          []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.AnthropicAPIKey == "" && h.Config.GeminiAPIKey == "" {
		issues = append(issues, "no completion provider configured")
	}
	if h.Config.OpenAIAPIKey == "" {
		issues = append(issues, "no embedding provider configured; topic segmentation degraded")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.MaxTopicChunks < h.Config.MinTopicChunks {
		issues = append(issues, "max topic chunks below min topic chunks")
	}

	liveSessions := 0
	if h.Sessions != nil {
		liveSessions = h.Sessions.Count()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:              ok,
		AuthMode:        string(h.Config.AuthMode),
		FallbackEnabled: h.Config.AnthropicAPIKey != "" && h.Config.GeminiAPIKey != "",
		SearchEnabled:   h.Config.SearchBaseURL != "",
		StoreEnabled:    h.Config.PostgresDSN != "",
		LiveSessions:    liveSessions,
		Issues:          issues,
	})
}
