package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	MaxBodyBytes int64

	// Provider credentials. Anthropic is the primary completion provider,
	// Gemini the fallback, OpenAI serves embeddings.
	AnthropicAPIKey string
	GeminiAPIKey    string
	OpenAIAPIKey    string

	PrimaryModel   string
	FallbackModel  string
	EmbeddingModel string

	// Cascade tuning.
	RetryBaseDelay          time.Duration
	RetryCapDelay           time.Duration
	RetryMaxAttempts        int
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	// Topic segmentation.
	CoherenceThreshold float64
	MinTopicChunks     int
	MaxTopicChunks     int
	MaxTopicDuration   time.Duration

	// Session lifecycle.
	MaxWindowSize       int
	MinTranscriptLength int
	SessionIdleTimeout  time.Duration

	// Immediate path.
	AnswerConfidenceThreshold float64
	AnswerMaxSources          int

	// Insight evolution.
	DedupSimilarityThreshold float64

	// Proactive assistance.
	ClarificationConfidence    float64
	CompletenessAlertThreshold float64

	// Optional collaborators. Empty disables the integration.
	SearchBaseURL string
	SearchAPIKey  string
	PostgresDSN   string

	// Event WebSocket.
	WSWriteTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                       envOr("INSIGHT_ADDR", ":8080"),
		AuthMode:                   AuthMode(envOr("INSIGHT_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                    make(map[string]struct{}),
		MaxBodyBytes:               envInt64Or("INSIGHT_MAX_BODY_BYTES", 1<<20), // 1 MiB
		AnthropicAPIKey:            strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")),
		GeminiAPIKey:               strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		OpenAIAPIKey:               strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		PrimaryModel:               envOr("INSIGHT_PRIMARY_MODEL", "claude-sonnet-4-5"),
		FallbackModel:              envOr("INSIGHT_FALLBACK_MODEL", "gemini-2.5-flash"),
		EmbeddingModel:             envOr("INSIGHT_EMBEDDING_MODEL", "text-embedding-3-small"),
		RetryBaseDelay:             envDurationOr("INSIGHT_RETRY_BASE_DELAY", 2*time.Second),
		RetryCapDelay:              envDurationOr("INSIGHT_RETRY_CAP_DELAY", 180*time.Second),
		RetryMaxAttempts:           envIntOr("INSIGHT_RETRY_MAX_ATTEMPTS", 5),
		BreakerFailureThreshold:    envIntOr("INSIGHT_BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:            envDurationOr("INSIGHT_BREAKER_COOLDOWN", 5*time.Minute),
		CoherenceThreshold:         envFloat64Or("INSIGHT_COHERENCE_THRESHOLD", 0.70),
		MinTopicChunks:             envIntOr("INSIGHT_MIN_TOPIC_CHUNKS", 2),
		MaxTopicChunks:             envIntOr("INSIGHT_MAX_TOPIC_CHUNKS", 6),
		MaxTopicDuration:           envDurationOr("INSIGHT_MAX_TOPIC_DURATION", 120*time.Second),
		MaxWindowSize:              envIntOr("INSIGHT_MAX_WINDOW_SIZE", 10),
		MinTranscriptLength:        envIntOr("INSIGHT_MIN_TRANSCRIPT_LENGTH", 15),
		SessionIdleTimeout:         envDurationOr("INSIGHT_SESSION_IDLE_TIMEOUT", 10*time.Minute),
		AnswerConfidenceThreshold:  envFloat64Or("INSIGHT_ANSWER_CONFIDENCE_THRESHOLD", 0.70),
		AnswerMaxSources:           envIntOr("INSIGHT_ANSWER_MAX_SOURCES", 5),
		DedupSimilarityThreshold:   envFloat64Or("INSIGHT_DEDUP_SIMILARITY_THRESHOLD", 0.85),
		ClarificationConfidence:    envFloat64Or("INSIGHT_CLARIFICATION_CONFIDENCE", 0.90),
		CompletenessAlertThreshold: envFloat64Or("INSIGHT_COMPLETENESS_ALERT_THRESHOLD", 0.5),
		SearchBaseURL:              envOr("INSIGHT_SEARCH_BASE_URL", ""),
		SearchAPIKey:               envOr("INSIGHT_SEARCH_API_KEY", ""),
		PostgresDSN:                envOr("INSIGHT_POSTGRES_DSN", ""),
		WSWriteTimeout:             envDurationOr("INSIGHT_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:          envDurationOr("INSIGHT_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:                envDurationOr("INSIGHT_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:             envDurationOr("INSIGHT_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod:        envDurationOr("INSIGHT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("INSIGHT_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("INSIGHT_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_MAX_BODY_BYTES must be > 0")
	}
	if cfg.AnthropicAPIKey == "" && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("at least one of ANTHROPIC_API_KEY or GEMINI_API_KEY must be set")
	}
	if cfg.PrimaryModel == "" {
		return Config{}, fmt.Errorf("INSIGHT_PRIMARY_MODEL must not be empty")
	}
	if cfg.RetryBaseDelay <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_RETRY_BASE_DELAY must be > 0")
	}
	if cfg.RetryCapDelay < cfg.RetryBaseDelay {
		return Config{}, fmt.Errorf("INSIGHT_RETRY_CAP_DELAY must be >= INSIGHT_RETRY_BASE_DELAY")
	}
	if cfg.RetryMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_RETRY_MAX_ATTEMPTS must be > 0")
	}
	if cfg.BreakerFailureThreshold <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_BREAKER_FAILURE_THRESHOLD must be > 0")
	}
	if cfg.BreakerCooldown <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_BREAKER_COOLDOWN must be > 0")
	}
	if cfg.CoherenceThreshold <= 0 || cfg.CoherenceThreshold > 1 {
		return Config{}, fmt.Errorf("INSIGHT_COHERENCE_THRESHOLD must be in (0, 1]")
	}
	if cfg.MinTopicChunks <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_MIN_TOPIC_CHUNKS must be > 0")
	}
	if cfg.MaxTopicChunks < cfg.MinTopicChunks {
		return Config{}, fmt.Errorf("INSIGHT_MAX_TOPIC_CHUNKS must be >= INSIGHT_MIN_TOPIC_CHUNKS")
	}
	if cfg.MaxTopicDuration <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_MAX_TOPIC_DURATION must be > 0")
	}
	if cfg.MaxWindowSize <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_MAX_WINDOW_SIZE must be > 0")
	}
	if cfg.MinTranscriptLength <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_MIN_TRANSCRIPT_LENGTH must be > 0")
	}
	if cfg.SessionIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_SESSION_IDLE_TIMEOUT must be > 0")
	}
	if cfg.AnswerConfidenceThreshold <= 0 || cfg.AnswerConfidenceThreshold > 1 {
		return Config{}, fmt.Errorf("INSIGHT_ANSWER_CONFIDENCE_THRESHOLD must be in (0, 1]")
	}
	if cfg.AnswerMaxSources <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_ANSWER_MAX_SOURCES must be > 0")
	}
	if cfg.DedupSimilarityThreshold <= 0 || cfg.DedupSimilarityThreshold > 1 {
		return Config{}, fmt.Errorf("INSIGHT_DEDUP_SIMILARITY_THRESHOLD must be in (0, 1]")
	}
	if cfg.ClarificationConfidence <= 0 || cfg.ClarificationConfidence > 1 {
		return Config{}, fmt.Errorf("INSIGHT_CLARIFICATION_CONFIDENCE must be in (0, 1]")
	}
	if cfg.CompletenessAlertThreshold <= 0 || cfg.CompletenessAlertThreshold > 1 {
		return Config{}, fmt.Errorf("INSIGHT_COMPLETENESS_ALERT_THRESHOLD must be in (0, 1]")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("INSIGHT_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("INSIGHT_API_KEYS must be set when INSIGHT_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
