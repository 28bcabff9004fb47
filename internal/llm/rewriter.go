package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackzampolin/quire/internal/llmcall"
	"github.com/jackzampolin/quire/internal/prompts/rewrite"
	"github.com/jackzampolin/quire/internal/resolve"
	"github.com/jackzampolin/quire/internal/types"
)

// Rewriter asks a model to inline a referenced unit into a unit.
type Rewriter struct {
	base
}

// NewRewriter creates a Rewriter.
func NewRewriter(cfg Config) *Rewriter {
	return &Rewriter{base: newBase(cfg)}
}

// Rewrite returns the self-contained text of unit. The answer is replaced
// only when the model reports modifying it.
func (r *Rewriter) Rewrite(ctx context.Context, unit, referenced types.Unit) (resolve.Rewrite, error) {
	ps := r.resolvePrompts(rewrite.SystemPromptKey, rewrite.UserPromptKey, rewrite.SystemPrompt(), rewrite.UserPromptTemplate())
	req, err := rewrite.BuildRequest(rewrite.Input{
		Unit:                 unit,
		Referenced:           referenced,
		SystemPromptOverride: ps.system,
		UserPromptOverride:   ps.user,
	})
	if err != nil {
		return resolve.Rewrite{}, err
	}

	raw, err := r.chatJSON(ctx, req, llmcall.RecordOptions{
		Stage:     llmcall.StageRewrite,
		UnitID:    unit.ID.String(),
		PromptKey: ps.key,
		PromptCID: ps.cid,
	})
	if err != nil {
		return resolve.Rewrite{}, fmt.Errorf("rewrite %s with %s: %w", unit.ID, referenced.ID, err)
	}
	result, err := rewrite.ParseResult(raw)
	if err != nil {
		return resolve.Rewrite{}, fmt.Errorf("rewrite %s with %s: %w", unit.ID, referenced.ID, err)
	}
	if !result.NeedsResolution {
		return resolve.Rewrite{NeedsResolution: false}, nil
	}

	out := resolve.Rewrite{
		NeedsResolution: true,
		Question:        strings.TrimSpace(result.RewrittenQuestion),
		Answer:          unit.AnswerText,
	}
	if result.AnswerWasModified && strings.TrimSpace(result.RewrittenAnswer) != "" {
		out.Answer = strings.TrimSpace(result.RewrittenAnswer)
	}
	return out, nil
}

var _ resolve.Rewriter = (*Rewriter)(nil)
