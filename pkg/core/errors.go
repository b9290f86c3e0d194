package core

import (
	"errors"
	"fmt"
)

// Error is the engine's typed error. Every failure that crosses a component
// boundary is wrapped in one so callers can branch on Kind instead of string
// matching.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
	Underlying error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// ErrorKind categorizes errors.
type ErrorKind string

const (
	// KindProviderOverloaded: the upstream signalled overload or transient
	// unavailability. The cascade falls back to the next provider immediately.
	KindProviderOverloaded ErrorKind = "provider_overloaded"

	// KindProviderRateLimited: retried against the same provider with backoff.
	KindProviderRateLimited ErrorKind = "provider_rate_limited"

	// KindAllProvidersExhausted: terminal for one request; the session continues.
	KindAllProvidersExhausted ErrorKind = "all_providers_exhausted"

	// KindMalformedResponse: the provider returned non-parseable structured
	// output. Recovered locally via best-effort extraction, never fatal to a
	// segment.
	KindMalformedResponse ErrorKind = "malformed_provider_response"

	// KindSessionClosed: ingestion rejected for a closed or unknown-closed session.
	KindSessionClosed ErrorKind = "session_closed"

	// KindDeliveryUnavailable: the outbound channel refused a message. The
	// message is dropped and processing continues.
	KindDeliveryUnavailable ErrorKind = "delivery_unavailable"

	// KindInvalidRequest: caller error, not retryable.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindProvider: any other provider-side failure.
	KindProvider ErrorKind = "provider_error"
)

// IsRetryable reports whether the same call may be retried against the same
// provider. Only rate limits are; overload and everything else falls over to
// the next provider instead.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindProviderRateLimited
}

// KindOf extracts the ErrorKind from err, unwrapping as needed. Unknown errors
// map to KindProvider.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProvider
}

// NewOverloadedError creates a provider-overloaded error.
func NewOverloadedError(provider, message string) *Error {
	return &Error{Kind: KindProviderOverloaded, Provider: provider, Message: message}
}

// NewRateLimitError creates a rate-limit error with an optional retry-after hint.
func NewRateLimitError(provider, message string, retryAfter int) *Error {
	e := &Error{Kind: KindProviderRateLimited, Provider: provider, Message: message}
	if retryAfter > 0 {
		e.RetryAfter = &retryAfter
	}
	return e
}

// NewExhaustedError creates the terminal error for one cascade invocation.
func NewExhaustedError(message string, underlying error) *Error {
	return &Error{Kind: KindAllProvidersExhausted, Message: message, Underlying: underlying}
}

// NewMalformedResponseError creates a malformed-response error.
func NewMalformedResponseError(provider, message string) *Error {
	return &Error{Kind: KindMalformedResponse, Provider: provider, Message: message}
}

// NewSessionClosedError creates a session-closed rejection.
func NewSessionClosedError(sessionID string) *Error {
	return &Error{Kind: KindSessionClosed, Message: fmt.Sprintf("session %s is closed", sessionID)}
}

// NewDeliveryUnavailableError wraps a delivery failure.
func NewDeliveryUnavailableError(underlying error) *Error {
	return &Error{Kind: KindDeliveryUnavailable, Message: "outbound channel unavailable", Underlying: underlying}
}

// NewInvalidRequestError creates a caller error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

// NewProviderError wraps an uncategorized provider failure.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Kind:       KindProvider,
		Provider:   provider,
		Message:    fmt.Sprintf("%v", underlying),
		Underlying: underlying,
	}
}
