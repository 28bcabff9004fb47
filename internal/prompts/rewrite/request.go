package rewrite

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/quire/internal/providers"
	"github.com/jackzampolin/quire/internal/types"
)

// Input contains the data needed for one rewrite request.
type Input struct {
	Unit       types.Unit
	Referenced types.Unit

	SystemPromptOverride string
	UserPromptOverride   string
}

// BuildRequest creates the rewrite chat request.
func BuildRequest(input Input) (*providers.ChatRequest, error) {
	systemPrompt := input.SystemPromptOverride
	if systemPrompt == "" {
		systemPrompt = SystemPrompt()
	}
	userPrompt, err := UserPrompt(UserPromptData{
		ID:          input.Unit.ID.String(),
		Question:    input.Unit.QuestionText,
		Answer:      input.Unit.AnswerText,
		RefID:       input.Referenced.ID.String(),
		RefQuestion: input.Referenced.QuestionText,
		RefAnswer:   input.Referenced.AnswerText,
	}, input.UserPromptOverride)
	if err != nil {
		return nil, err
	}

	jsonSchema, _ := json.Marshal(RewriteSchema["json_schema"])
	return &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: &providers.ResponseFormat{Type: "json_schema", JSONSchema: jsonSchema},
		Temperature:    0.1,
		MaxTokens:      8192,
	}, nil
}

// ParseResult parses the model's JSON into a Result. A result that claims a
// rewrite but returns an empty question is rejected.
func ParseResult(raw json.RawMessage) (*Result, error) {
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse rewrite result: %w", err)
	}
	if result.NeedsResolution && strings.TrimSpace(result.RewrittenQuestion) == "" {
		return nil, fmt.Errorf("rewrite result has empty rewritten_question")
	}
	return &result, nil
}
