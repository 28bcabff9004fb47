// Package resolve makes every unit self-contained by inlining the units it
// references.
//
// References form a graph keyed by identifier. Units are resolved leaves
// first, one topological layer at a time; units inside a layer are
// independent and run concurrently on a bounded pool. A cycle is broken in a
// single pass: each member is rewritten against the other members' text as
// it was before resolution started, and ends in the
// resolved_with_cycle_warning state.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/types"
)

// Rewrite is a rewriter's answer for one (unit, referenced unit) pair.
type Rewrite struct {
	NeedsResolution bool
	Question        string
	Answer          string
}

// Rewriter inlines the content of referenced into unit.
type Rewriter interface {
	Rewrite(ctx context.Context, unit, referenced types.Unit) (Rewrite, error)
}

// RewriterFunc adapts a function to Rewriter.
type RewriterFunc func(ctx context.Context, unit, referenced types.Unit) (Rewrite, error)

func (f RewriterFunc) Rewrite(ctx context.Context, unit, referenced types.Unit) (Rewrite, error) {
	return f(ctx, unit, referenced)
}

// Config configures a Resolver.
type Config struct {
	Detector Detector
	// Fallback is consulted when Detector fails. Nil makes detection
	// failures fatal.
	Fallback Detector
	Rewriter Rewriter
	Workers  int
	Logger   *slog.Logger
}

// Resolver runs the reference resolution pass.
type Resolver struct {
	detector Detector
	fallback Detector
	rewriter Rewriter
	workers  int
	logger   *slog.Logger
}

// New creates a Resolver. A nil Detector falls back to PatternDetector.
func New(cfg Config) (*Resolver, error) {
	if cfg.Rewriter == nil {
		return nil, errors.New("resolve: rewriter is required")
	}
	if cfg.Detector == nil {
		cfg.Detector = PatternDetector{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Resolver{
		detector: cfg.Detector,
		fallback: cfg.Fallback,
		rewriter: cfg.Rewriter,
		workers:  cfg.Workers,
		logger:   cfg.Logger,
	}, nil
}

// Result is the outcome of a resolution pass.
type Result struct {
	// Units in input order with their final text and state.
	Units []types.Unit
	// Ledger has one entry per unit the rewriter was consulted for, in
	// identifier order.
	Ledger []types.LedgerEntry
	// Cycles lists each reference cycle that was broken.
	Cycles [][]ident.Identifier
}

// ResolveAll resolves every unit that is not already in a terminal state.
// Terminal units are left untouched and serve as resolved targets, so
// running the pass again over its own output changes nothing.
func (r *Resolver) ResolveAll(ctx context.Context, units []types.Unit) (*Result, error) {
	work := types.CloneUnits(units)
	ids := make([]ident.Identifier, len(work))
	for i, u := range work {
		ids[i] = u.ID
		if u.State == types.StateInProgress {
			work[i].State = types.StateUnresolved
		}
	}
	g := NewGraph(ids)

	if err := r.detectAll(ctx, g, work); err != nil {
		return nil, err
	}

	result := &Result{}
	before := types.CloneUnits(work)
	consulted := make([]bool, len(work))

	for depth, layer := range g.Layers() {
		r.logger.Debug("resolving layer", "layer", depth, "components", len(layer))
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(r.workers)
		for _, comp := range layer {
			if len(comp) > 1 {
				result.Cycles = append(result.Cycles, componentIDs(g, comp))
			}
			eg.Go(func() error {
				return r.resolveComponent(egCtx, g, comp, work, before, consulted)
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
	}

	for i := range work {
		if !consulted[i] {
			continue
		}
		result.Ledger = append(result.Ledger, types.LedgerEntry{
			Identifier:     work[i].ID,
			BeforeQuestion: before[i].QuestionText,
			AfterQuestion:  work[i].QuestionText,
			BeforeAnswer:   before[i].AnswerText,
			AfterAnswer:    work[i].AnswerText,
			State:          work[i].State,
			References:     work[i].References,
			Anomalies:      work[i].Anomalies,
		})
	}
	ident.SortBy(result.Ledger, func(e types.LedgerEntry) ident.Identifier { return e.Identifier })
	result.Units = work

	r.logger.Info("reference resolution complete",
		"units", len(work),
		"rewritten", len(result.Ledger),
		"cycles", len(result.Cycles))
	return result, nil
}

// detectAll runs detection for every unresolved unit and builds the edges.
func (r *Resolver) detectAll(ctx context.Context, g *Graph, work []types.Unit) error {
	found := make([][]ident.Identifier, len(work))
	fellBack := make([]error, len(work))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.workers)
	for i := range work {
		if work[i].State.Terminal() {
			continue
		}
		eg.Go(func() error {
			refs, err := r.detector.Detect(egCtx, work[i])
			if err != nil {
				if r.fallback == nil || egCtx.Err() != nil {
					return fmt.Errorf("detect references for %s: %w", work[i].ID, err)
				}
				fellBack[i] = err
				refs, err = r.fallback.Detect(egCtx, work[i])
				if err != nil {
					return fmt.Errorf("fallback detection for %s: %w", work[i].ID, err)
				}
			}
			found[i] = refs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i := range work {
		if fellBack[i] != nil {
			work[i].AddAnomaly(types.Anomaly{
				Kind:     types.KindDetectionFallback,
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("reference detection failed, used pattern matching: %v", fellBack[i]),
				Page:     work[i].PageRange.First(),
			})
			r.logger.Warn("reference detection fell back to patterns", "identifier", work[i].ID.String(), "error", fellBack[i])
		}
		for _, ref := range found[i] {
			j, ok := g.Lookup(ref)
			if !ok {
				work[i].AddAnomaly(types.Anomaly{
					Kind:     types.KindDanglingReference,
					Severity: types.SeverityWarning,
					Message:  fmt.Sprintf("references %s, which is not in the document", ref),
					Page:     work[i].PageRange.First(),
					Related:  []string{ref.String()},
				})
				r.logger.Warn("dangling reference", "identifier", work[i].ID.String(), "target", ref.String())
				continue
			}
			if g.AddEdge(i, j) {
				work[i].References = append(work[i].References, ref)
			}
		}
	}
	return nil
}

// resolveComponent rewrites the members of one strongly connected
// component. Targets outside the component are already final; targets
// inside it are read from their pre-resolution snapshot.
func (r *Resolver) resolveComponent(ctx context.Context, g *Graph, comp []int, work, before []types.Unit, consulted []bool) error {
	ident.SortBy(comp, g.Node)
	inComp := make(map[int]bool, len(comp))
	for _, v := range comp {
		inComp[v] = true
	}
	cyclic := len(comp) > 1

	for _, v := range comp {
		if work[v].State.Terminal() {
			continue
		}
		edges := g.Edges(v)
		if len(edges) == 0 {
			work[v].State = types.StateNoReferences
			continue
		}

		work[v].State = types.StateInProgress
		unit := work[v]
		changed := false
		for _, w := range edges {
			target := work[w]
			if inComp[w] {
				target = before[w]
			}
			rw, err := r.rewriter.Rewrite(ctx, unit, target)
			if err != nil {
				return fmt.Errorf("rewrite %s against %s: %w", unit.ID, target.ID, err)
			}
			if !rw.NeedsResolution {
				continue
			}
			unit.QuestionText = strings.TrimSpace(rw.Question)
			unit.AnswerText = strings.TrimSpace(rw.Answer)
			changed = true
		}
		consulted[v] = true

		switch {
		case cyclic:
			unit.State = types.StateCycleResolved
			others := make([]string, 0, len(comp)-1)
			for _, w := range comp {
				if w != v {
					others = append(others, g.Node(w).String())
				}
			}
			unit.AddAnomaly(types.Anomaly{
				Kind:     types.KindResolutionCycle,
				Severity: types.SeverityWarning,
				Message:  fmt.Sprintf("reference cycle with %s broken using pre-resolution text", strings.Join(others, ", ")),
				Page:     unit.PageRange.First(),
				Related:  others,
			})
			r.logger.Warn("broke reference cycle", "identifier", unit.ID.String(), "members", others)
		case changed:
			unit.State = types.StateResolved
		default:
			unit.State = types.StateNoReferences
		}
		work[v] = unit
	}
	return nil
}

func componentIDs(g *Graph, comp []int) []ident.Identifier {
	out := make([]ident.Identifier, len(comp))
	for i, v := range comp {
		out[i] = g.Node(v)
	}
	ident.Sort(out)
	return out
}
