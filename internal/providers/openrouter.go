package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"

	openRouterDefaultModel = "google/gemini-2.5-flash"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	HTTPClient   *http.Client

	MaxRetries int           // attempts per request (default: 3)
	RetryDelay time.Duration // base backoff between attempts (default: 1s)
}

// OpenRouterClient implements LLMClient over the OpenRouter chat API.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	maxRetries   int
	retryDelay   time.Duration
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = openRouterDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 180 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		client:       httpClient,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// Model returns the default model.
func (c *OpenRouterClient) Model() string {
	return c.defaultModel
}

// Chat sends a chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	orReq := openRouterRequest{
		Model:       model,
		Messages:    make([]openRouterMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Usage:       &openRouterUsageRequest{Include: true},
	}
	for _, m := range req.Messages {
		orReq.Messages = append(orReq.Messages, toOpenRouterMessage(m))
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OpenRouterName,
		ModelUsed: model,
	}

	rf, err := adaptedResponseFormat(model, req.ResponseFormat)
	if err != nil {
		result.ErrorType = "schema"
		result.ErrorMessage = err.Error()
		return result, err
	}
	orReq.ResponseFormat = rf

	orResp, attempts, err := c.doRequest(ctx, "/chat/completions", &orReq)
	result.Attempts = attempts
	result.TotalTime = time.Since(start)
	if err != nil {
		result.ErrorType = "http_error"
		result.ErrorMessage = err.Error()
		if rle, ok := IsRateLimitError(err); ok {
			result.ErrorType = "rate_limit"
			result.RetryAfter = rle.RetryAfter
		}
		return result, err
	}

	content, err := messageText(orResp.Choices[0].Message.Content)
	if err != nil {
		result.ErrorType = "content_marshal_error"
		result.ErrorMessage = err.Error()
		return result, err
	}

	result.Success = true
	result.Content = content
	if orResp.Model != "" {
		result.ModelUsed = orResp.Model
	}
	result.PromptTokens = orResp.Usage.PromptTokens
	result.CompletionTokens = orResp.Usage.CompletionTokens
	result.TotalTokens = orResp.Usage.TotalTokens
	result.ReasoningTokens = orResp.Usage.CompletionTokensDetails.ReasoningTokens
	result.CostUSD = orResp.Usage.Cost
	if result.CostUSD == 0 {
		result.CostUSD = orResp.Usage.NativeTotalCost
	}
	result.ExecutionTime = time.Since(start)
	result.TotalTime = result.ExecutionTime

	if req.ResponseFormat != nil && content != "" {
		if parsed, err := parseStructuredJSON(content); err == nil {
			result.ParsedJSON = parsed
		}
	}
	return result, nil
}

func toOpenRouterMessage(m Message) openRouterMessage {
	if len(m.Images) == 0 {
		return openRouterMessage{Role: m.Role, Content: m.Content}
	}
	content := []openRouterContent{{Type: "text", Text: m.Content}}
	for _, img := range m.Images {
		content = append(content, openRouterContent{
			Type: "image_url",
			ImageURL: &openRouterImageURL{
				URL: "data:" + imageMediaType(img) + ";base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}
	return openRouterMessage{Role: m.Role, Content: content}
}

// messageText flattens a response message's content, which is either a
// string or an array of parts.
func messageText(content any) (string, error) {
	switch c := content.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	case []any:
		var text string
		for _, part := range c {
			if m, ok := part.(map[string]any); ok && m["type"] == "text" {
				if s, ok := m["text"].(string); ok {
					text += s
				}
			}
		}
		if text != "" {
			return text, nil
		}
	}
	b, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal content: %w", err)
	}
	return string(b), nil
}

var _ LLMClient = (*OpenRouterClient)(nil)
