package embedding

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryDelay_ExponentialWithCap(t *testing.T) {
	noJitter := func() time.Duration { return 0 }
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		got := nextRetryDelay(tc.attempt, &NetworkError{Err: errors.New("timeout")}, noJitter)
		assert.Equal(t, tc.want, got, "attempt %d", tc.attempt)
	}
}

func TestNextRetryDelay_JitterAdded(t *testing.T) {
	jitter := func() time.Duration { return 250 * time.Millisecond }
	got := nextRetryDelay(0, &NetworkError{Err: errors.New("timeout")}, jitter)
	assert.Equal(t, time.Second+250*time.Millisecond, got)
}

func TestNextRetryDelay_RetryAfterHintWins(t *testing.T) {
	jitter := func() time.Duration { return 999 * time.Millisecond }
	err := &RateLimitError{RetryAfter: 30 * time.Second}
	assert.Equal(t, 30*time.Second, nextRetryDelay(0, err, jitter))
	// Without a hint, a rate limit falls back to exponential backoff.
	assert.Equal(t, time.Second+999*time.Millisecond, nextRetryDelay(0, &RateLimitError{}, jitter))
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"network", &NetworkError{Err: errors.New("timeout")}, true},
		{"rate limit", &RateLimitError{}, true},
		{"server error", &APIError{StatusCode: 500}, true},
		{"bad gateway", &APIError{StatusCode: 502}, true},
		{"client error", &APIError{StatusCode: 400}, false},
		{"unauthorized", &APIError{StatusCode: 401}, false},
		{"invalid model", ErrInvalidModel, false},
		{"empty input", ErrEmptyInput, false},
		{"wrapped network", &NetworkError{Err: context.DeadlineExceeded}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestClassifyError_PassthroughAndCancellation(t *testing.T) {
	rl := &RateLimitError{RetryAfter: time.Second}
	assert.Equal(t, error(rl), classifyError(rl))

	assert.ErrorIs(t, classifyError(context.Canceled), context.Canceled)

	var netErr *NetworkError
	assert.ErrorAs(t, classifyError(errors.New("connection refused")), &netErr)
}

func TestParseRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "30")
	assert.Equal(t, 30*time.Second, parseRetryAfter(resp))

	resp.Header.Set("Retry-After", "soon")
	assert.Equal(t, time.Duration(0), parseRetryAfter(resp))

	assert.Equal(t, time.Duration(0), parseRetryAfter(nil))
	assert.Equal(t, time.Duration(0), parseRetryAfter(&http.Response{Header: http.Header{}}))
}
