// Package llm adapts an LLM provider to the extraction, detection and
// rewrite collaborators the pipeline and resolver depend on.
package llm

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackzampolin/quire/internal/llmcall"
	"github.com/jackzampolin/quire/internal/prompts"
	"github.com/jackzampolin/quire/internal/prompts/detection"
	"github.com/jackzampolin/quire/internal/prompts/extraction"
	"github.com/jackzampolin/quire/internal/prompts/rewrite"
	"github.com/jackzampolin/quire/internal/providers"
)

// RegisterPrompts registers every embedded prompt the adapters use.
func RegisterPrompts(r *prompts.Resolver) {
	extraction.RegisterPrompts(r)
	detection.RegisterPrompts(r)
	rewrite.RegisterPrompts(r)
}

// Config is shared by every adapter.
type Config struct {
	Client providers.LLMClient
	// Model overrides the client's default model when set.
	Model string
	// Prompts supplies override templates. Nil uses the embedded prompts.
	Prompts  *prompts.Resolver
	Recorder *llmcall.Recorder
	Logger   *slog.Logger
}

type base struct {
	client   providers.LLMClient
	model    string
	prompts  *prompts.Resolver
	recorder *llmcall.Recorder
	logger   *slog.Logger
}

func newBase(cfg Config) base {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return base{
		client:   cfg.Client,
		model:    cfg.Model,
		prompts:  cfg.Prompts,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
	}
}

// promptSet is the pair of templates used for one call.
type promptSet struct {
	system, user string // override text, empty for embedded
	key, cid     string
}

// resolvePrompts returns override text for the system and user keys, and
// the content hash recorded with calls. defaults are the embedded texts.
func (b base) resolvePrompts(systemKey, userKey, systemDefault, userDefault string) promptSet {
	ps := promptSet{key: userKey}
	sysText, userText := systemDefault, userDefault
	if b.prompts != nil {
		if p, err := b.prompts.Resolve(systemKey); err == nil && p.IsOverride {
			ps.system, sysText = p.Text, p.Text
		}
		if p, err := b.prompts.Resolve(userKey); err == nil && p.IsOverride {
			ps.user, userText = p.Text, p.Text
		}
	}
	ps.cid = prompts.CID(sysText + "\n" + userText)
	return ps
}

// chatJSON runs a structured request, recording every attempt.
func (b base) chatJSON(ctx context.Context, req *providers.ChatRequest, opts llmcall.RecordOptions) (json.RawMessage, error) {
	if req.Model == "" {
		req.Model = b.model
	}
	temp := req.Temperature
	opts.Temperature = &temp
	raw, _, err := providers.ChatJSON(ctx, b.client, req, b.logger, func(result *providers.ChatResult) {
		b.recorder.Record(result, opts)
	})
	return raw, err
}
