package embedding

import (
	"context"
	"errors"
	"time"
)

const (
	baseRetryDelay = time.Second
	maxRetryDelay  = 10 * time.Second
)

// EmbedWithRetry calls Embed, retrying transient failures up to maxRetries
// times. Non-retryable failures propagate immediately. The delay before each
// retry honors a provider Retry-After hint when the last error carried one,
// and falls back to capped exponential backoff with jitter otherwise. After
// exhausting retries the last observed error is returned.
//
// Retries block the calling goroutine for the full delay; there is no
// background retry queue.
func (c *Client) EmbedWithRetry(ctx context.Context, req Request, maxRetries int) (*BatchResult, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, nextRetryDelay(attempt-1, lastErr, c.jitter)); err != nil {
				return nil, err
			}
		}

		res, err := c.Embed(ctx, req.Texts, req.Model)
		if err == nil {
			return res, nil
		}
		if !Retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// nextRetryDelay decides how long to wait after the given zero-based failed
// attempt. Pure except for the injected jitter source: a Retry-After hint on
// the last error wins outright; otherwise min(1s<<attempt, 10s) plus jitter.
func nextRetryDelay(attempt int, lastErr error, jitter func() time.Duration) time.Duration {
	var rl *RateLimitError
	if errors.As(lastErr, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	delay := maxRetryDelay
	if attempt < 8 {
		delay = baseRetryDelay << attempt
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	if jitter != nil {
		delay += jitter()
	}
	return delay
}
