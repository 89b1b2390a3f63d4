// Package errors defines unified error types for LLM gateway operations.
// All provider-specific errors are mapped to these standard error types.
package errors

import (
	"fmt"
	"net/http"
)

// LLMError represents a standardized error from an LLM provider.
// It contains all necessary information for error handling, logging, and client response.
type LLMError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Retryable  bool   `json:"-"`

	// Kind classifies the error on the three axes the router's retry,
	// fallback and breaker logic key off of. Zero value is KindOther.
	Kind Kind `json:"kind"`

	// RetryAfterHint is an optional provider-advertised backoff, honored by
	// the router in place of the configured retry_after when present.
	RetryAfterHint int `json:"retry_after_hint,omitempty"`

	// PotentiallyRetryable marks a ContentFiltered error as safe to retry
	// (e.g. a transient moderation false-positive) per spec §4.8.
	PotentiallyRetryable bool `json:"-"`
}

// Error implements the error interface.
func (e *LLMError) Error() string {
	return fmt.Sprintf("[%s] %s (provider=%s, model=%s, code=%d)",
		e.Type, e.Message, e.Provider, e.Model, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *LLMError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Kind classifies an error along the axes the router's retry/fallback/breaker
// logic needs: is it retryable, is it fatal for the deployment that produced
// it, and which fallback category (if any) it routes to. See spec §4.8.
type Kind int

const (
	KindOther Kind = iota
	KindAuthentication
	KindModelNotFound
	KindInvalidRequest
	KindRateLimit
	KindProviderUnavailable
	KindNetwork
	KindTimeout
	KindContextLengthExceeded
	KindContentFiltered
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindModelNotFound:
		return "model_not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindRateLimit:
		return "rate_limit"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindContextLengthExceeded:
		return "context_length_exceeded"
	case KindContentFiltered:
		return "content_filtered"
	case KindCancelled:
		return "cancelled"
	default:
		return "other"
	}
}

// FallbackCategory names one of the four fallback table categories (§4.4), or
// "" if the kind never triggers a fallback lookup.
type FallbackCategory string

const (
	FallbackGeneral        FallbackCategory = "general"
	FallbackContextWindow  FallbackCategory = "context_window"
	FallbackContentPolicy  FallbackCategory = "content_policy"
	FallbackRateLimit      FallbackCategory = "rate_limit"
	FallbackNone           FallbackCategory = ""
)

// Retryable reports whether this error kind feeds the retry budget (§4.8).
// RateLimit is retryable only when a retry_after hint was supplied or the
// caller's configured retry_after applies; the router treats it as retryable
// unconditionally and relies on retry_after/RetryAfterHint for pacing.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindProviderUnavailable, KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}

// FatalForDeployment reports whether this error kind must open the breaker
// immediately and must never be retried against the same deployment (§4.2,
// §4.8).
func (k Kind) FatalForDeployment() bool {
	switch k {
	case KindAuthentication, KindModelNotFound, KindInvalidRequest:
		return true
	default:
		return false
	}
}

// SkipDeployment reports whether this error kind bypasses retries on the
// current model entirely and breaks straight to the fallback layer without
// affecting the deployment's breaker/health (§4.2, §4.8).
func (k Kind) SkipDeployment() bool {
	switch k {
	case KindContextLengthExceeded, KindContentFiltered:
		return true
	default:
		return false
	}
}

// FallbackCategory returns the fallback table category this kind triggers.
func (k Kind) FallbackCategory() FallbackCategory {
	switch k {
	case KindContextLengthExceeded:
		return FallbackContextWindow
	case KindContentFiltered:
		return FallbackContentPolicy
	case KindRateLimit:
		return FallbackRateLimit
	case KindCancelled:
		return FallbackNone
	default:
		return FallbackGeneral
	}
}

// Common error types as constants for consistency.
const (
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeNotFound           = "not_found_error"
	TypeTimeout            = "timeout_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
	TypeContextLength      = "context_length_exceeded"
	TypeContentPolicy      = "content_policy_violation"
	TypeCancelled          = "cancelled"
)

// NewAuthenticationError creates an authentication error (401).
func NewAuthenticationError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
		Type:       TypeAuthentication,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
		Kind:       KindAuthentication,
	}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimit,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
		Kind:       KindRateLimit,
	}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeInvalidRequest,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
		Kind:       KindInvalidRequest,
	}
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusNotFound,
		Message:    message,
		Type:       TypeNotFound,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
		Kind:       KindModelNotFound,
	}
}

// NewTimeoutError creates a timeout error (408).
func NewTimeoutError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusRequestTimeout,
		Message:    message,
		Type:       TypeTimeout,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
		Kind:       KindTimeout,
	}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
		Kind:       KindProviderUnavailable,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternalError,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
		Kind:       KindOther,
	}
}

// NewContextLengthExceededError creates a context-window error.
func NewContextLengthExceededError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeContextLength,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
		Kind:       KindContextLengthExceeded,
	}
}

// NewContentFilteredError creates a content-policy error. potentiallyRetryable
// marks it safe to retry against the same deployment per spec §4.8's hint.
func NewContentFilteredError(provider, model, message string, potentiallyRetryable bool) *LLMError {
	return &LLMError{
		StatusCode:           http.StatusBadRequest,
		Message:              message,
		Type:                 TypeContentPolicy,
		Provider:             provider,
		Model:                model,
		Retryable:            potentiallyRetryable,
		Kind:                 KindContentFiltered,
		PotentiallyRetryable: potentiallyRetryable,
	}
}

// NewCancelledError creates a cancellation error. It is never retried and
// never triggers a fallback.
func NewCancelledError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: 499,
		Message:    message,
		Type:       TypeCancelled,
		Provider:   provider,
		Model:      model,
		Retryable:  false,
		Kind:       KindCancelled,
	}
}

// NewNetworkError creates a network-failure error (retryable, not fatal).
func NewNetworkError(provider, model, message string) *LLMError {
	return &LLMError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeServiceUnavailable,
		Provider:   provider,
		Model:      model,
		Retryable:  true,
		Kind:       KindNetwork,
	}
}

// IsCooldownRequired determines if a deployment should be cooled down based on error.
// Rate limits, auth errors, timeouts, and not found errors trigger cooldown.
// Other 4xx errors do not trigger cooldown as they are likely client errors.
func IsCooldownRequired(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		switch statusCode {
		case http.StatusTooManyRequests, // 429
			http.StatusUnauthorized,   // 401
			http.StatusRequestTimeout, // 408
			http.StatusNotFound:       // 404
			return true
		default:
			return false
		}
	}
	// All 5xx errors trigger cooldown
	return statusCode >= 500
}
