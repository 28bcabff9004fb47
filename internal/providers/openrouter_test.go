package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func openRouterReply(content string) map[string]any {
	return map[string]any{
		"id":    "gen-1",
		"model": "google/gemini-2.5-flash",
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
			"cost":              0.0012,
		},
	}
}

func TestOpenRouterClient_Chat(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(openRouterReply("Hello"))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "Hi"}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if !result.Success || result.Content != "Hello" {
			t.Errorf("result = %+v", result)
		}
		if result.TotalTokens != 18 {
			t.Errorf("TotalTokens = %d, want 18", result.TotalTokens)
		}
		if result.CostUSD != 0.0012 {
			t.Errorf("CostUSD = %v", result.CostUSD)
		}
		if result.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", result.Attempts)
		}
	})

	t.Run("page image sent as data url", func(t *testing.T) {
		var received openRouterRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw struct {
				Messages []struct {
					Role    string              `json:"role"`
					Content []openRouterContent `json:"content"`
				} `json:"messages"`
				ResponseFormat *openRouterResponseFormat `json:"response_format"`
			}
			if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
				t.Errorf("decode: %v", err)
			}
			received.ResponseFormat = raw.ResponseFormat
			if len(raw.Messages) != 1 || len(raw.Messages[0].Content) != 2 {
				t.Errorf("unexpected messages: %+v", raw.Messages)
			} else if url := raw.Messages[0].Content[1].ImageURL.URL; !strings.HasPrefix(url, "data:image/png;base64,") {
				t.Errorf("unexpected image url prefix: %.40s", url)
			}
			json.NewEncoder(w).Encode(openRouterReply(`{"ok":true}`))
		}))
		defer server.Close()

		png := []byte("\x89PNG\r\n\x1a\nrest")
		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "extract", Images: [][]byte{png}}},
			ResponseFormat: &ResponseFormat{
				Type:       "json_schema",
				JSONSchema: json.RawMessage(`{"name":"t","schema":{"type":"object"}}`),
			},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if received.ResponseFormat == nil || received.ResponseFormat.Type != "json_schema" {
			t.Errorf("response_format not forwarded: %+v", received.ResponseFormat)
		}
		if string(result.ParsedJSON) != `{"ok":true}` {
			t.Errorf("ParsedJSON = %s", result.ParsedJSON)
		}
	})

	t.Run("retries server errors with nonce", func(t *testing.T) {
		var calls atomic.Int32
		var secondBody string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			var req openRouterRequest
			json.NewDecoder(r.Body).Decode(&req)
			secondBody, _ = req.Messages[0].Content.(string)
			json.NewEncoder(w).Encode(openRouterReply("ok"))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL, RetryDelay: time.Millisecond})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "hello"}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", result.Attempts)
		}
		if !strings.Contains(secondBody, "retry_1_id") {
			t.Errorf("expected nonce in retried message, got %q", secondBody)
		}
	})

	t.Run("client error is not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"bad key"}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL, RetryDelay: time.Millisecond})
		result, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
		if err == nil {
			t.Fatal("expected error")
		}
		if calls.Load() != 1 {
			t.Errorf("calls = %d, want 1", calls.Load())
		}
		if result.Success || result.ErrorType != "http_error" {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("rate limit surfaces retry after", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL, MaxRetries: 1})
		result, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("expected RateLimitError, got %T: %v", err, err)
		}
		if rle.RetryAfter != 7*time.Second {
			t.Errorf("RetryAfter = %v", rle.RetryAfter)
		}
		if result.ErrorType != "rate_limit" {
			t.Errorf("ErrorType = %q", result.ErrorType)
		}
	})

	t.Run("api error in body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":{"message":"content filtered","code":"content_filter"}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL, RetryDelay: time.Millisecond})
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
		if err == nil || !strings.Contains(err.Error(), "content filtered") {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestMessageText(t *testing.T) {
	got, err := messageText([]any{
		map[string]any{"type": "text", "text": "a"},
		map[string]any{"type": "text", "text": "b"},
	})
	if err != nil || got != "ab" {
		t.Fatalf("messageText() = %q, %v", got, err)
	}
}
