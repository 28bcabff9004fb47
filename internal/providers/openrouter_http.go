package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// doRequest posts to OpenRouter, retrying transient failures. It returns the
// number of attempts made.
func (c *OpenRouterClient) doRequest(ctx context.Context, path string, orReq *openRouterRequest) (*openRouterResponse, int, error) {
	var lastErr error
	attempt := 0
	for ; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt, err
		}

		// A retried request must differ from the failed one or upstream
		// caches answer 413/422 again.
		if attempt > 0 {
			injectNonce(orReq, attempt)
		}

		bodyBytes, err := json.Marshal(orReq)
		if err != nil {
			return nil, attempt + 1, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, attempt + 1, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/quire")
		req.Header.Set("X-Title", "Quire")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.sleepWithJitter(ctx, attempt, 0)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			c.sleepWithJitter(ctx, attempt, 0)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			rle := &RateLimitError{
				Message:    fmt.Sprintf("OpenRouter rate limited: %s", truncate(string(respBody), 200)),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
				StatusCode: resp.StatusCode,
			}
			lastErr = rle
			c.sleepWithJitter(ctx, attempt, rle.RetryAfter)
			continue
		}
		if shouldRetry(resp.StatusCode) {
			lastErr = fmt.Errorf("OpenRouter error (status %d): %s", resp.StatusCode, truncate(string(respBody), 500))
			c.sleepWithJitter(ctx, attempt, 0)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, attempt + 1, fmt.Errorf("OpenRouter error (status %d): %s", resp.StatusCode, truncate(string(respBody), 500))
		}

		var orResp openRouterResponse
		if err := json.Unmarshal(respBody, &orResp); err != nil {
			return nil, attempt + 1, fmt.Errorf("failed to unmarshal response: %w", err)
		}

		retryable, err := shouldRetryResponse(&orResp)
		if retryable {
			lastErr = err
			c.sleepWithJitter(ctx, attempt, 0)
			continue
		}
		if err != nil {
			return nil, attempt + 1, err
		}
		return &orResp, attempt + 1, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, attempt, err
	}
	return nil, attempt, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// shouldRetry returns true for status codes that should be retried.
func shouldRetry(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	default:
		return statusCode >= 500
	}
}

// shouldRetryResponse inspects a 200 response. It reports whether the body
// describes a transient failure, and returns a terminal error for the rest.
func shouldRetryResponse(resp *openRouterResponse) (bool, error) {
	if resp.Error != nil {
		code := fmt.Sprintf("%v", resp.Error.Code)
		switch code {
		case "overloaded", "rate_limit_exceeded", "503", "502", "500":
			return true, fmt.Errorf("OpenRouter API error (retryable): %s", resp.Error.Message)
		}
		return false, fmt.Errorf("OpenRouter API error (%s): %s", code, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return true, fmt.Errorf("empty choices in response (model=%s, id=%s)", resp.Model, resp.ID)
	}
	return false, nil
}

// injectNonce appends a unique comment to the last user message's text.
func injectNonce(req *openRouterRequest, attempt int) {
	nonce := uuid.New().String()[:16]
	comment := fmt.Sprintf("\n<!-- retry_%d_id: %s -->", attempt, nonce)

	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		switch content := req.Messages[i].Content.(type) {
		case string:
			req.Messages[i].Content = content + comment
		case []openRouterContent:
			for j := range content {
				if content[j].Type == "text" {
					content[j].Text += comment
					break
				}
			}
		}
		return
	}
}

// sleepWithJitter backs off exponentially from the base delay, or for
// floor when the server asked for longer.
func (c *OpenRouterClient) sleepWithJitter(ctx context.Context, attempt int, floor time.Duration) {
	if attempt+1 >= c.maxRetries {
		return
	}
	delay := c.retryDelay * time.Duration(1<<attempt)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	// -20% to +30%
	delay = time.Duration(float64(delay) * (0.8 + 0.5*rand.Float64()))
	if floor > delay {
		delay = floor
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
