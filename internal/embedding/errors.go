package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go"
)

// Validation errors: programming or configuration mistakes, never retried.
var (
	ErrInvalidModel      = errors.New("unrecognized embedding model")
	ErrBatchTooLarge     = errors.New("batch exceeds provider limit")
	ErrEmptyInput        = errors.New("no non-blank input texts")
	ErrMissingAPIKey     = errors.New("OPENAI_API_KEY environment variable not set")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// RateLimitError is a provider rate-limit response (HTTP 429). RetryAfter
// carries the provider's hint when one was present; retrying callers must
// honor it over generic backoff.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "rate limited: " + e.Message
}

// APIError is a non-429 provider error response. Only 5xx statuses are
// retryable.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("embedding api error (status %d): %s", e.StatusCode, e.Message)
}

// NetworkError covers timeouts and transport failures; always retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "embedding network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether err is a transient failure worth retrying:
// network errors, rate limiting, or a 5xx provider response.
func Retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return false
}

// classifyError maps transport and provider failures onto this package's
// error types so callers never see duck-typed provider responses.
func classifyError(err error) error {
	var rlErr *RateLimitError
	var provErr *APIError
	var netErr *NetworkError
	if errors.As(err, &rlErr) || errors.As(err, &provErr) || errors.As(err, &netErr) {
		return err // already classified
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return &RateLimitError{
				RetryAfter: parseRetryAfter(apiErr.Response),
				Message:    err.Error(),
			}
		default:
			return &APIError{StatusCode: apiErr.StatusCode, Message: err.Error()}
		}
	}
	if errors.Is(err, context.Canceled) {
		// Caller-driven cancellation, not a provider failure.
		return err
	}
	return &NetworkError{Err: err}
}

// parseRetryAfter extracts a Retry-After hint (seconds form) from a response.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
