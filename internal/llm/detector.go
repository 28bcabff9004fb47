package llm

import (
	"context"
	"fmt"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/llmcall"
	"github.com/jackzampolin/quire/internal/prompts/detection"
	"github.com/jackzampolin/quire/internal/resolve"
	"github.com/jackzampolin/quire/internal/types"
)

// Detector asks a model which other units a unit depends on.
type Detector struct {
	base
}

// NewDetector creates a Detector.
func NewDetector(cfg Config) *Detector {
	return &Detector{base: newBase(cfg)}
}

// Detect returns the identifiers of the unit's essential references.
func (d *Detector) Detect(ctx context.Context, unit types.Unit) ([]ident.Identifier, error) {
	ps := d.resolvePrompts(detection.SystemPromptKey, detection.UserPromptKey, detection.SystemPrompt(), detection.UserPromptTemplate())
	req, err := detection.BuildRequest(detection.Input{
		Unit:                 unit,
		SystemPromptOverride: ps.system,
		UserPromptOverride:   ps.user,
	})
	if err != nil {
		return nil, err
	}

	raw, err := d.chatJSON(ctx, req, llmcall.RecordOptions{
		Stage:     llmcall.StageDetection,
		UnitID:    unit.ID.String(),
		PromptKey: ps.key,
		PromptCID: ps.cid,
	})
	if err != nil {
		return nil, fmt.Errorf("detect references for %s: %w", unit.ID, err)
	}
	result, err := detection.ParseResult(raw)
	if err != nil {
		return nil, err
	}
	targets := result.Targets()
	if len(targets) > 0 {
		d.logger.Debug("references detected", "unit", unit.ID.String(), "targets", len(targets))
	}
	return targets, nil
}

var _ resolve.Detector = (*Detector)(nil)
