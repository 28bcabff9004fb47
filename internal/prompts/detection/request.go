package detection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/providers"
	"github.com/jackzampolin/quire/internal/types"
)

// Input contains the data needed for one detection request.
type Input struct {
	Unit types.Unit

	SystemPromptOverride string
	UserPromptOverride   string
}

// BuildRequest creates the detection chat request for a unit.
func BuildRequest(input Input) (*providers.ChatRequest, error) {
	systemPrompt := input.SystemPromptOverride
	if systemPrompt == "" {
		systemPrompt = SystemPrompt()
	}
	userPrompt, err := UserPrompt(UserPromptData{
		ID:       input.Unit.ID.String(),
		Question: input.Unit.QuestionText,
		Answer:   input.Unit.AnswerText,
	}, input.UserPromptOverride)
	if err != nil {
		return nil, err
	}

	jsonSchema, _ := json.Marshal(DetectionSchema["json_schema"])
	return &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		ResponseFormat: &providers.ResponseFormat{Type: "json_schema", JSONSchema: jsonSchema},
		Temperature:    0,
		MaxTokens:      2048,
	}, nil
}

// ParseResult parses the model's JSON into a Result.
func ParseResult(raw json.RawMessage) (*Result, error) {
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse detection result: %w", err)
	}
	return &result, nil
}

// Targets returns the identifiers of essential references in order of
// appearance, skipping references without a parsable identifier and
// duplicates.
func (r *Result) Targets() []ident.Identifier {
	var out []ident.Identifier
	for _, ref := range r.References {
		if !ref.IsEssential || ref.ID == nil {
			continue
		}
		id, err := ident.Parse(strings.ToLower(strings.TrimSpace(*ref.ID)))
		if err != nil {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen.Equal(id) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, id)
		}
	}
	return out
}
