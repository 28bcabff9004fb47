// Package stitch turns per-page fragments into consolidated units, merging
// questions that run across a page boundary.
//
// Reconcile is a pure function of its inputs: the continuation context and
// pending continuations handed over from page N-1 and the fragments
// extracted from page N. The orchestrator persists its outputs, so replaying
// a page after a restart produces the same units.
package stitch

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/types"
)

// ErrAmbiguousContinuation is matched by a *ConsolidationError raised when
// more than one continuation is pending at a page boundary.
var ErrAmbiguousContinuation = errors.New("ambiguous continuation")

// Policy decides what Reconcile does with more than one pending continuation.
type Policy string

const (
	// PolicyHalt stops the page with a *ConsolidationError.
	PolicyHalt Policy = "halt"
	// PolicyIsolate finalizes every pending continuation as its own unit,
	// flagged for review, and merges nothing into them.
	PolicyIsolate Policy = "isolate"
)

// ParsePolicy converts a config string to a Policy. Unknown values halt.
func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == PolicyIsolate {
		return PolicyIsolate
	}
	return PolicyHalt
}

// ConsolidationError reports a page that could not be stitched.
type ConsolidationError struct {
	Kind        types.ErrorKind
	Page        int
	Identifiers []string
}

func (e *ConsolidationError) Error() string {
	return fmt.Sprintf("ambiguous continuation on page %d: %d continuations pending (%s)",
		e.Page, len(e.Identifiers), strings.Join(e.Identifiers, ", "))
}

func (e *ConsolidationError) Unwrap() error {
	if e.Kind == types.KindAmbiguousContinuation {
		return ErrAmbiguousContinuation
	}
	return nil
}

// Options configures a Stitcher.
type Options struct {
	Policy Policy
	Logger *slog.Logger
}

// Stitcher merges fragments across page boundaries.
type Stitcher struct {
	policy Policy
	logger *slog.Logger
}

// New creates a Stitcher.
func New(opts Options) *Stitcher {
	if opts.Policy == "" {
		opts.Policy = PolicyHalt
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Stitcher{policy: opts.Policy, logger: opts.Logger}
}

// Outcome is the result of reconciling one page.
type Outcome struct {
	// Units completed on this page, in page order.
	Units []types.Unit
	// Context to hand to the next page.
	Context types.ContinuationContext
	// Carry holds fragments that continue onto the next page.
	Carry []types.Fragment
}

// Reconcile consolidates the fragments of page against the context and
// pending continuations left by the previous page.
func (s *Stitcher) Reconcile(cc types.ContinuationContext, pending []types.Fragment, page int, frags []types.Fragment) (Outcome, error) {
	log := s.logger.With("page", page)
	var out Outcome

	var match *types.Fragment
	switch len(pending) {
	case 0:
	case 1:
		p := pending[0].Clone()
		match = &p
	default:
		labels := pendingLabels(pending)
		if s.policy != PolicyIsolate {
			return Outcome{}, &ConsolidationError{
				Kind:        types.KindAmbiguousContinuation,
				Page:        page,
				Identifiers: labels,
			}
		}
		log.Warn("isolating ambiguous continuations", "pending", labels)
		for _, p := range pending {
			u := unitFrom(p)
			u.AddAnomaly(types.Anomaly{
				Kind:     types.KindAmbiguousContinuation,
				Severity: types.SeverityReview,
				Message:  fmt.Sprintf("%d continuations pending before page %d; none merged", len(pending), page),
				Page:     page,
				Related:  labels,
			})
			out.Units = append(out.Units, u)
		}
	}

	if len(frags) == 0 {
		if match != nil {
			out.Carry = []types.Fragment{*match}
		}
		out.Context = cc.Clone()
		out.Context.Page = page
		return out, nil
	}

	last := cc.LastIdentifier
	var summary []ident.Identifier
	var leading []types.Unit

	for i, raw := range frags {
		f := raw.Clone()
		f.Page = page
		f.FirstPage = 0
		label := strings.TrimSpace(f.Label)
		if i == 0 && label == "" {
			// an unlabelled fragment at the top of a page can only be a continuation
			f.ContinuedFromPrevious = true
		}

		var id ident.Identifier
		if f.ContinuedFromPrevious {
			id = continuationID(label, cc, match)
			if printed, err := ident.Parse(label); err == nil && !id.IsZero() && !printed.Base().Equal(id.Base()) {
				f.Anomalies = append(f.Anomalies, types.Anomaly{
					Kind:     types.KindRelabelledContinuation,
					Severity: types.SeverityReview,
					Message:  fmt.Sprintf("continuation on page %d labelled %q was attributed to %s", page, label, id),
					Page:     page,
					Related:  []string{label, id.String()},
				})
				f.NeedsReview = true
				log.Warn("relabelled continuation", "label", label, "identifier", id.String())
			}
			switch {
			case match != nil && !id.IsZero() && id.Equal(match.ID):
				f = merge(*match, f)
				match = nil
			case match != nil:
				u := unitFrom(*match)
				u.AddAnomaly(types.Anomaly{
					Kind:     types.KindPartMismatch,
					Severity: types.SeverityWarning,
					Message:  fmt.Sprintf("continuation on page %d is labelled %q, not %s; kept separate", page, f.Label, match.ID),
					Page:     page,
					Related:  []string{f.Label},
				})
				log.Warn("continuation does not match pending question", "pending", match.ID.String(), "label", f.Label)
				leading = append(leading, u)
				match = nil
			default:
				f.Anomalies = append(f.Anomalies, types.Anomaly{
					Kind:     types.KindOrphanContinuation,
					Severity: types.SeverityReview,
					Message:  fmt.Sprintf("fragment on page %d continues a question that is not pending", page),
					Page:     page,
				})
				f.NeedsReview = true
				log.Warn("orphan continuation", "label", f.Label)
			}
		} else {
			id = labelID(label, last)
		}

		if id.IsZero() {
			id = ident.Placeholder(page, i+1)
			f.Anomalies = append(f.Anomalies, types.Anomaly{
				Kind:     types.KindMalformedIdentifier,
				Severity: types.SeverityReview,
				Message:  fmt.Sprintf("could not derive an identifier from label %q", f.Label),
				Page:     page,
				Related:  []string{f.Label},
			})
			f.NeedsReview = true
			log.Warn("malformed identifier", "label", f.Label, "placeholder", id.String())
		}
		f.ID = id

		if f.ContinuesNextPage {
			out.Carry = append(out.Carry, f)
		} else {
			out.Units = append(out.Units, unitFrom(f))
		}
		if !f.ID.IsPlaceholder() {
			last = f.ID
			summary = append(summary, f.ID)
		}
	}

	if match != nil {
		u := unitFrom(*match)
		u.AddAnomaly(types.Anomaly{
			Kind:     types.KindUnterminatedContinuation,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("expected a continuation on page %d", page),
			Page:     page,
		})
		log.Warn("continuation not found", "pending", match.ID.String())
		leading = append(leading, u)
	}
	out.Units = append(leading, out.Units...)

	out.Context = types.ContinuationContext{
		Page:           page,
		LastIdentifier: last,
		Summary:        summary,
	}
	return out, nil
}

// Finalize turns continuations still pending at the end of the document into
// units carrying a structural warning. More than one pending continuation is
// also flagged ambiguous for review.
func (s *Stitcher) Finalize(pending []types.Fragment) []types.Unit {
	var labels []string
	if len(pending) > 1 {
		labels = pendingLabels(pending)
	}
	var units []types.Unit
	for _, p := range pending {
		u := unitFrom(p)
		u.AddAnomaly(types.Anomaly{
			Kind:     types.KindUnterminatedContinuation,
			Severity: types.SeverityWarning,
			Message:  "document ended while the question was still continuing",
			Page:     p.Page,
		})
		if labels != nil {
			u.AddAnomaly(types.Anomaly{
				Kind:     types.KindAmbiguousContinuation,
				Severity: types.SeverityReview,
				Message:  fmt.Sprintf("%d continuations pending at end of document; none merged", len(pending)),
				Page:     p.Page,
				Related:  labels,
			})
		}
		s.logger.Warn("unterminated continuation at end of document", "identifier", p.ID.String(), "page", p.Page)
		units = append(units, u)
	}
	return units
}

// continuationID derives the identifier of a fragment that continues the
// previous page. Its base comes from the previous page's context, never from
// the fragment's own label: a continuing part is sometimes tagged with a
// later question number printed on the same page. Only the label's part
// letter is kept.
func continuationID(label string, cc types.ContinuationContext, match *types.Fragment) ident.Identifier {
	printed, perr := ident.Parse(label)
	var part byte
	switch {
	case label == "":
	case perr == nil:
		part = printed.Part()
	default:
		p, ok := ident.ParsePartHint(label)
		if !ok {
			return ident.Identifier{}
		}
		part = p
	}

	base := cc.LastIdentifier
	if base.IsZero() || base.IsPlaceholder() {
		if match == nil {
			// nothing to attribute against
			if perr == nil {
				return printed
			}
			return ident.Identifier{}
		}
		base = match.ID
	}
	if part == 0 {
		if match != nil {
			return match.ID
		}
		return ident.Identifier{}
	}
	return base.Base().WithPart(part)
}

// labelID derives the identifier of an ordinary fragment. A bare part letter
// takes its base from the most recent identifier.
func labelID(label string, last ident.Identifier) ident.Identifier {
	if label == "" {
		return ident.Identifier{}
	}
	if id, err := ident.Parse(label); err == nil {
		return id
	}
	if part, ok := ident.ParsePartHint(label); ok && !last.IsZero() && !last.IsPlaceholder() {
		return last.Base().WithPart(part)
	}
	return ident.Identifier{}
}

func merge(p, f types.Fragment) types.Fragment {
	anomalies := append(p.Anomalies[:len(p.Anomalies):len(p.Anomalies)], f.Anomalies...)
	return types.Fragment{
		Label:                 p.Label,
		ID:                    p.ID,
		QuestionText:          JoinText(p.QuestionText, f.QuestionText),
		AnswerText:            JoinText(p.AnswerText, f.AnswerText),
		Page:                  f.Page,
		FirstPage:             p.StartPage(),
		ContinuesNextPage:     f.ContinuesNextPage,
		ContinuedFromPrevious: p.ContinuedFromPrevious,
		Figures:               unionFigures(p.Figures, f.Figures),
		NeedsReview:           p.NeedsReview || f.NeedsReview,
		Anomalies:             anomalies,
	}
}

func unitFrom(f types.Fragment) types.Unit {
	f = f.Clone()
	return types.Unit{
		ID:           f.ID,
		QuestionText: strings.TrimSpace(f.QuestionText),
		AnswerText:   strings.TrimSpace(f.AnswerText),
		PageRange:    types.PageRange{f.StartPage(), f.Page},
		Figures:      f.Figures,
		State:        types.StateUnresolved,
		NeedsReview:  f.NeedsReview,
		Anomalies:    f.Anomalies,
	}
}

func pendingLabels(pending []types.Fragment) []string {
	labels := make([]string, len(pending))
	for i, p := range pending {
		if !p.ID.IsZero() {
			labels[i] = p.ID.String()
		} else {
			labels[i] = p.Label
		}
	}
	return labels
}
