package httpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxJitter   = 1 * time.Second
)

// StatusError is a non-retryable HTTP error response.
type StatusError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("httpc: status %d: %s", e.StatusCode, e.Message)
}

// RetryClient posts JSON payloads with exponential backoff and jitter.
// Retries happen on network failures, HTTP 429 and 5xx; any other
// non-success status fails immediately with the server's error message.
type RetryClient struct {
	// HTTPClient is the underlying client. Defaults to the shared Client.
	HTTPClient *http.Client

	// MaxAttempts is the total number of attempts. Defaults to 5.
	MaxAttempts int

	// BaseDelay is the backoff unit: attempt n waits BaseDelay * 2^n.
	// Defaults to 1s.
	BaseDelay time.Duration

	// MaxJitter is the upper bound of the random delay added to each
	// backoff. Defaults to 1s.
	MaxJitter time.Duration

	// Logger for retry warnings. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c *RetryClient) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return Client
}

func (c *RetryClient) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (c *RetryClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// backoff returns the delay before retry number attempt (0-based).
func (c *RetryClient) backoff(attempt int) time.Duration {
	base := c.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	jitter := c.MaxJitter
	if jitter <= 0 {
		jitter = DefaultMaxJitter
	}
	return base*(1<<attempt) + time.Duration(rand.Int63n(int64(jitter)))
}

// Post sends payload as application/json to url and returns the response
// body. Headers are optional extra request headers.
func (c *RetryClient) Post(ctx context.Context, url string, payload []byte, headers map[string]string) ([]byte, error) {
	attempts := c.maxAttempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			c.logger().Warn("retrying request",
				"url", url,
				"attempt", attempt+1,
				"delay", delay,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("httpc: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client().Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("httpc: request failed: %w", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("httpc: read response: %w", readErr)
			}
			return body, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
			continue
		default:
			return nil, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
		}
	}

	if lastErr == nil {
		lastErr = errors.New("httpc: no attempts made")
	}
	return nil, fmt.Errorf("httpc: giving up after %d attempts: %w", attempts, lastErr)
}

// errorMessage extracts a human-readable message from an error body.
// APIs in the Google/OpenAI style wrap it as {"error":{"message":...}}.
func errorMessage(body []byte) string {
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	if len(body) == 0 {
		return "no response body"
	}
	return string(body)
}
