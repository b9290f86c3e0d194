package anthropic

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/recallio/insight-engine/pkg/core"
)

// anthropicError is the error envelope returned by the API.
type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseError maps an Anthropic error response onto the engine's error kinds.
// Overload and service-unavailable trigger immediate failover upstream;
// rate limits are retried in place.
func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	var anthErr anthropicError
	message := string(body)
	if err := json.Unmarshal(body, &anthErr); err == nil && anthErr.Error.Message != "" {
		message = anthErr.Error.Message
	}

	switch {
	case anthErr.Error.Type == "overloaded_error",
		resp.StatusCode == 529,
		resp.StatusCode == http.StatusServiceUnavailable:
		return core.NewOverloadedError(p.Name(), message)
	case anthErr.Error.Type == "rate_limit_error",
		resp.StatusCode == http.StatusTooManyRequests:
		return core.NewRateLimitError(p.Name(), message, retryAfterSeconds(resp))
	case anthErr.Error.Type == "invalid_request_error",
		resp.StatusCode == http.StatusBadRequest:
		return core.NewInvalidRequestError(message)
	default:
		return core.NewProviderError(p.Name(), &statusError{status: resp.StatusCode, message: message})
	}
}

func retryAfterSeconds(resp *http.Response) int {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}

type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return "status " + strconv.Itoa(e.status) + ": " + e.message
}
