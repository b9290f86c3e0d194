package types

// CompletionRequest is the provider call contract used by the cascade. Prompt
// content is assembled by the caller; providers only translate and transport.
type CompletionRequest struct {
	// Model is the caller's preferred model for the primary provider. The
	// cascade translates it to the fallback's equivalent on failover.
	Model string `json:"model"`

	System      string   `json:"system,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`

	// JSONSchema, when set, requests structured output conforming to the
	// schema. Providers that cannot enforce it still receive it as guidance;
	// callers must tolerate malformed output either way.
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

// CompletionResponse is the normalized provider response.
type CompletionResponse struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Text     string `json:"text"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}
