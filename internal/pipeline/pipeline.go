// Package pipeline drives a document through extraction, stitching,
// checkpointing and reference resolution.
//
// Pages are processed strictly in order. After each page the fragment store,
// continuation context and committed page are saved, so an interrupted run
// resumes at the page after the last committed one and produces the same
// units as an uninterrupted run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/quire/internal/checkpoint"
	"github.com/jackzampolin/quire/internal/document"
	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/llmcall"
	"github.com/jackzampolin/quire/internal/resolve"
	"github.com/jackzampolin/quire/internal/stitch"
	"github.com/jackzampolin/quire/internal/store"
	"github.com/jackzampolin/quire/internal/types"
)

// Extractor returns the fragments on one page.
type Extractor interface {
	Extract(ctx context.Context, page document.Page, cc types.ContinuationContext) ([]types.Fragment, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, page document.Page, cc types.ContinuationContext) ([]types.Fragment, error)

func (f ExtractorFunc) Extract(ctx context.Context, page document.Page, cc types.ContinuationContext) ([]types.Fragment, error) {
	return f(ctx, page, cc)
}

// Sink receives the finished document.
type Sink interface {
	Emit(ctx context.Context, run *Result) error
}

// DecideFunc chooses whether to resume a saved run.
type DecideFunc func(existing *checkpoint.RunState) (checkpoint.Decision, error)

// Config configures an Orchestrator.
type Config struct {
	Extractor Extractor
	Renderer  document.Renderer

	// Resolver runs reference resolution after the last page. Nil skips it.
	Resolver *resolve.Resolver

	// Checkpoints persists run state. Nil runs without a state file.
	Checkpoints *checkpoint.Manager
	// Decide is asked when a saved run exists. Nil resumes.
	Decide                   DecideFunc
	AllowFingerprintMismatch bool

	Policy stitch.Policy
	Sink   Sink

	// Recorder, when set, is stamped with the run ID.
	Recorder *llmcall.Recorder
	// Model is reported in the result metadata.
	Model string

	// OnPage is called after each page is committed.
	OnPage func(page, total int)

	Logger *slog.Logger
}

// Orchestrator runs the pipeline for one document.
type Orchestrator struct {
	extractor Extractor
	renderer  document.Renderer
	resolver  *resolve.Resolver
	mgr       *checkpoint.Manager
	decide    DecideFunc
	allowFP   bool
	stitcher  *stitch.Stitcher
	sink      Sink
	recorder  *llmcall.Recorder
	model     string
	onPage    func(page, total int)
	logger    *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Extractor == nil {
		return nil, errors.New("pipeline: extractor is required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("pipeline: renderer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Decide == nil {
		cfg.Decide = func(*checkpoint.RunState) (checkpoint.Decision, error) {
			return checkpoint.DecisionResume, nil
		}
	}
	return &Orchestrator{
		extractor: cfg.Extractor,
		renderer:  cfg.Renderer,
		resolver:  cfg.Resolver,
		mgr:       cfg.Checkpoints,
		decide:    cfg.Decide,
		allowFP:   cfg.AllowFingerprintMismatch,
		stitcher:  stitch.New(stitch.Options{Policy: cfg.Policy, Logger: cfg.Logger}),
		sink:      cfg.Sink,
		recorder:  cfg.Recorder,
		model:     cfg.Model,
		onPage:    cfg.OnPage,
		logger:    cfg.Logger,
	}, nil
}

// Result is the finished document.
type Result struct {
	RunID  string
	Source *document.Source
	Model  string

	// Units in identifier order.
	Units  []types.Unit
	Ledger []types.LedgerEntry
	Cycles [][]ident.Identifier

	ResolutionEnabled bool
	// ResumedFrom is the last page committed by an earlier run, 0 if fresh.
	ResumedFrom    int
	PagesProcessed int
	FragmentCount  int
	CompletedAt    time.Time
}

// Anomalies counts the anomalies attached to the result's units by kind.
func (r *Result) Anomalies() map[types.ErrorKind]int {
	counts := make(map[types.ErrorKind]int)
	for _, u := range r.Units {
		for _, a := range u.Anomalies {
			counts[a.Kind]++
		}
	}
	return counts
}

// Run processes src from the first uncommitted page to the end, resolves
// references and hands the result to the sink. The state file is cleared
// only after everything succeeded.
func (o *Orchestrator) Run(ctx context.Context, src *document.Source) (*Result, error) {
	resolutionEnabled := o.resolver != nil
	log := o.logger.With("source", src.Name)

	sess := checkpoint.NewSession(o.mgr, src.Fingerprint, src.PageCount, checkpoint.SessionOptions{
		AllowFingerprintMismatch: o.allowFP,
		Logger:                   o.logger,
	})
	phase, err := sess.Begin()
	if err != nil {
		return nil, err
	}

	st := store.New()
	var cc types.ContinuationContext
	if phase == checkpoint.PhaseAwaitingResumeDecision {
		existing := sess.Existing()
		decision, err := o.decide(existing)
		if err != nil {
			return nil, err
		}
		state, err := sess.Decide(decision)
		if err != nil {
			return nil, err
		}
		if state != nil {
			if st, err = store.Restore(state.FragmentStore); err != nil {
				return nil, fmt.Errorf("failed to restore fragment store: %w", err)
			}
			cc = state.ContinuationContext.Clone()
			if state.ResolutionEnabled != resolutionEnabled {
				log.Warn("resolution setting differs from the saved run; using the current setting",
					"saved", state.ResolutionEnabled, "current", resolutionEnabled)
			}
		}
	}
	o.recorder.SetRunID(sess.RunID())

	result := &Result{
		RunID:             sess.RunID(),
		Source:            src,
		Model:             o.model,
		ResolutionEnabled: resolutionEnabled,
		ResumedFrom:       sess.Committed(),
	}
	if result.ResumedFrom > 0 {
		log.Info("resuming", "next_page", result.ResumedFrom+1, "total_pages", src.PageCount)
	}

	for page := sess.Committed() + 1; page <= src.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cc, err = o.processPage(ctx, src, page, st, cc); err != nil {
			return nil, err
		}
		if err := sess.Commit(&checkpoint.RunState{
			SourcePath:          src.Path,
			LastCommittedPage:   page,
			FragmentStore:       st.Snapshot(),
			ContinuationContext: cc,
			ResolutionEnabled:   resolutionEnabled,
		}); err != nil {
			return nil, fmt.Errorf("failed to commit page %d: %w", page, err)
		}
		result.PagesProcessed++
		if o.onPage != nil {
			o.onPage(page, src.PageCount)
		}
	}

	units := append(st.Units(), o.stitcher.Finalize(st.PendingContinuations())...)
	units = stitch.Dedupe(units)
	result.FragmentCount = st.FragmentCount()

	if o.resolver != nil {
		res, err := o.resolver.ResolveAll(ctx, units)
		if err != nil {
			return nil, fmt.Errorf("reference resolution failed: %w", err)
		}
		units = res.Units
		result.Ledger = res.Ledger
		result.Cycles = res.Cycles
	}
	ident.SortBy(units, func(u types.Unit) ident.Identifier { return u.ID })
	result.Units = units
	result.CompletedAt = time.Now().UTC()

	if o.sink != nil {
		if err := o.sink.Emit(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to emit results: %w", err)
		}
	}
	if err := sess.Finish(); err != nil {
		return nil, err
	}

	log.Info("run complete",
		"run_id", result.RunID,
		"units", len(result.Units),
		"pages_processed", result.PagesProcessed,
		"rewritten", len(result.Ledger),
		"cycles", len(result.Cycles))
	return result, nil
}

// processPage renders, extracts and stitches one page, returning the
// context for the next page.
func (o *Orchestrator) processPage(ctx context.Context, src *document.Source, page int, st *store.Store, cc types.ContinuationContext) (types.ContinuationContext, error) {
	log := o.logger.With("page", page)

	image, err := o.renderer.Render(ctx, src, page)
	if err != nil {
		return cc, err
	}
	frags, err := o.extractor.Extract(ctx, document.Page{Number: page, Total: src.PageCount, Image: image}, cc)
	if err != nil {
		return cc, err
	}

	pending := st.PendingContinuations()
	if err := st.Append(page, frags); err != nil {
		return cc, err
	}
	out, err := o.stitcher.Reconcile(cc, pending, page, frags)
	if err != nil {
		return cc, err
	}
	if err := st.Record(page, out.Units, out.Carry); err != nil {
		return cc, err
	}

	log.Info("page consolidated",
		"fragments", len(frags),
		"units", len(out.Units),
		"carried", len(out.Carry))
	return out.Context, nil
}
