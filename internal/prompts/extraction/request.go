package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/providers"
	"github.com/jackzampolin/quire/internal/types"
)

// Input contains the data needed for one page extraction request.
type Input struct {
	Page       int
	TotalPages int
	Image      []byte
	Context    types.ContinuationContext

	// SystemPromptOverride and UserPromptOverride replace the embedded
	// prompts when non-empty.
	SystemPromptOverride string
	UserPromptOverride   string
}

// BuildRequest creates the vision chat request for a page.
func BuildRequest(input Input) (*providers.ChatRequest, error) {
	systemPrompt := input.SystemPromptOverride
	if systemPrompt == "" {
		systemPrompt = SystemPrompt()
	}

	data := UserPromptData{Page: input.Page, TotalPages: input.TotalPages}
	if cc := input.Context; cc.Page > 0 && !cc.LastIdentifier.IsZero() {
		data.HasContext = true
		data.PreviousPage = cc.Page
		data.Summary = cc.SummaryText()
		data.LastIdentifier = cc.LastIdentifier.String()
	}
	userPrompt, err := UserPrompt(data, input.UserPromptOverride)
	if err != nil {
		return nil, err
	}

	return &providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt, Images: [][]byte{input.Image}},
		},
		ResponseFormat: buildResponseFormat(),
		Temperature:    0.1,
		MaxTokens:      8192,
	}, nil
}

// ParseResult parses the model's JSON into a Result.
func ParseResult(raw json.RawMessage) (*Result, error) {
	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse extraction result: %w", err)
	}
	return &result, nil
}

// Fragments flattens the result into page fragments in reading order. Each
// part becomes one fragment labelled with its printed identifier and part.
func (r *Result) Fragments(page int) []types.Fragment {
	var frags []types.Fragment
	for _, q := range r.Questions {
		qid := ""
		if q.QuestionID != nil {
			qid = strings.ToLower(strings.TrimSpace(*q.QuestionID))
		}
		for _, p := range q.Parts {
			frag := types.Fragment{
				Label:                 label(qid, p.PartID),
				QuestionText:          strings.TrimSpace(p.QuestionLatex),
				AnswerText:            strings.TrimSpace(p.AnswerLatex),
				Page:                  page,
				ContinuesNextPage:     p.ContinuesNextPage,
				ContinuedFromPrevious: p.ContinuedFromPrevious,
			}
			for _, f := range p.Figures {
				ref := types.FigureRef{ID: f.FigureID, Page: page, Kind: f.Kind}
				if f.Description != nil {
					ref.Caption = *f.Description
				}
				frag.Figures = append(frag.Figures, ref)
			}
			frags = append(frags, frag)
		}
	}
	return frags
}

// label joins a question identifier and part letter, lowercased to the
// canonical identifier form. A part with no question identifier is returned
// alone as a hint, e.g. "(b)".
func label(qid string, partID *string) string {
	if partID == nil || strings.TrimSpace(*partID) == "" {
		return qid
	}
	part, ok := ident.ParsePartHint(*partID)
	if !ok {
		// Unrecognised part label; keep it verbatim so the stitcher can
		// flag it.
		return strings.ToLower(strings.TrimSpace(qid + *partID))
	}
	if qid == "" {
		return "(" + string(part) + ")"
	}
	if id, err := ident.Parse(qid); err == nil && id.Part() == 0 {
		return id.WithPart(part).String()
	}
	return qid + string(part)
}

func buildResponseFormat() *providers.ResponseFormat {
	jsonSchema, _ := json.Marshal(ExtractionSchema["json_schema"])
	return &providers.ResponseFormat{
		Type:       "json_schema",
		JSONSchema: jsonSchema,
	}
}
