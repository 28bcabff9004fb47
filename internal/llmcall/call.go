// Package llmcall records every LLM call for traceability. Each call is
// stored with its prompt key and content hash, token usage and outcome in an
// append-only JSON Lines file next to the run's checkpoint.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/quire/internal/providers"
)

// Stage names the pipeline step that made a call.
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageDetection  Stage = "detection"
	StageRewrite    Stage = "rewrite"
)

// Call represents a recorded LLM API call.
type Call struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`
	QueueMs   int       `json:"queue_ms,omitempty"`

	// Context references
	RunID  string `json:"run_id,omitempty"`
	Stage  Stage  `json:"stage"`
	Page   int    `json:"page,omitempty"`
	UnitID string `json:"unit_id,omitempty"`

	// Prompt traceability
	PromptKey string `json:"prompt_key"`
	PromptCID string `json:"prompt_cid,omitempty"`

	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`

	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	Attempts     int     `json:"attempts,omitempty"`

	Response string `json:"response,omitempty"`

	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	RunID  string
	Stage  Stage
	Page   int
	UnitID string

	PromptKey string
	PromptCID string

	// Pointer to distinguish "not set" from "set to 0".
	Temperature *float64

	// OmitResponse drops the response body, which for extraction calls is
	// already persisted in the checkpoint.
	OmitResponse bool
}

// FromChatResult creates a Call from a ChatResult.
// Returns nil if result is nil.
func FromChatResult(result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := &Call{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		LatencyMs:    int(result.ExecutionTime.Milliseconds()),
		QueueMs:      int(result.QueueTime.Milliseconds()),
		RunID:        opts.RunID,
		Stage:        opts.Stage,
		Page:         opts.Page,
		UnitID:       opts.UnitID,
		PromptKey:    opts.PromptKey,
		PromptCID:    opts.PromptCID,
		Provider:     result.Provider,
		Model:        result.ModelUsed,
		Temperature:  opts.Temperature,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		CostUSD:      result.CostUSD,
		Attempts:     result.Attempts,
		Success:      result.Success,
	}
	if !opts.OmitResponse {
		call.Response = result.Content
	}
	if !result.Success {
		call.ErrorType = result.ErrorType
		call.Error = result.ErrorMessage
	}
	return call
}
