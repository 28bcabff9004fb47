package llm

import (
	"context"
	"fmt"

	"github.com/jackzampolin/quire/internal/document"
	"github.com/jackzampolin/quire/internal/llmcall"
	"github.com/jackzampolin/quire/internal/prompts/extraction"
	"github.com/jackzampolin/quire/internal/types"
)

// Extractor asks a vision model for the fragments on a page.
type Extractor struct {
	base
}

// NewExtractor creates an Extractor.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{base: newBase(cfg)}
}

// Extract returns the page's fragments in reading order.
func (e *Extractor) Extract(ctx context.Context, page document.Page, cc types.ContinuationContext) ([]types.Fragment, error) {
	ps := e.resolvePrompts(extraction.SystemPromptKey, extraction.UserPromptKey, extraction.SystemPrompt(), extraction.UserPromptTemplate())
	req, err := extraction.BuildRequest(extraction.Input{
		Page:                 page.Number,
		TotalPages:           page.Total,
		Image:                page.Image,
		Context:              cc,
		SystemPromptOverride: ps.system,
		UserPromptOverride:   ps.user,
	})
	if err != nil {
		return nil, err
	}

	raw, err := e.chatJSON(ctx, req, llmcall.RecordOptions{
		Stage:        llmcall.StageExtraction,
		Page:         page.Number,
		PromptKey:    ps.key,
		PromptCID:    ps.cid,
		OmitResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract page %d: %w", page.Number, err)
	}
	result, err := extraction.ParseResult(raw)
	if err != nil {
		return nil, fmt.Errorf("extract page %d: %w", page.Number, err)
	}
	frags := result.Fragments(page.Number)
	e.logger.Debug("page extracted", "page", page.Number, "fragments", len(frags))
	return frags, nil
}
