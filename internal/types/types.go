// Package types provides the document model shared by the store, stitcher,
// resolver, checkpoint and export packages.
// It depends only on ident to avoid import cycles.
package types

import (
	"slices"
	"strings"

	"github.com/jackzampolin/quire/internal/ident"
)

// ResolutionState tracks a unit through the reference resolution pass.
type ResolutionState string

const (
	StateUnresolved    ResolutionState = "unresolved"
	StateInProgress    ResolutionState = "in_progress"
	StateResolved      ResolutionState = "resolved"
	StateNoReferences  ResolutionState = "no_references"
	StateCycleResolved ResolutionState = "resolved_with_cycle_warning"
)

// ParseResolutionState converts a string to a ResolutionState.
// Returns StateUnresolved if the string is not recognized.
func ParseResolutionState(s string) ResolutionState {
	switch ResolutionState(s) {
	case StateInProgress, StateResolved, StateNoReferences, StateCycleResolved:
		return ResolutionState(s)
	default:
		return StateUnresolved
	}
}

// Terminal reports whether the resolver is done with a unit in this state.
func (s ResolutionState) Terminal() bool {
	switch s {
	case StateResolved, StateNoReferences, StateCycleResolved:
		return true
	}
	return false
}

// FigureRef points at a figure, table or graph printed on a page.
type FigureRef struct {
	ID      string `json:"id"`
	Page    int    `json:"page"`
	Kind    string `json:"kind,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// Fragment is one candidate question/answer pair as extracted from a single
// page. Label is the identifier exactly as printed ("2.18a", "(b)", or empty
// for an unlabelled continuation). ID is filled in by the stitcher once the
// label has been resolved against the continuation context.
type Fragment struct {
	Label                 string           `json:"label"`
	ID                    ident.Identifier `json:"id,omitzero"`
	QuestionText          string           `json:"question_text"`
	AnswerText            string           `json:"answer_text"`
	Page                  int              `json:"page"`
	FirstPage             int              `json:"first_page,omitempty"`
	ContinuesNextPage     bool             `json:"continues_next_page"`
	ContinuedFromPrevious bool             `json:"continued_from_previous"`
	Figures               []FigureRef      `json:"figures,omitempty"`
	NeedsReview           bool             `json:"needs_review,omitempty"`
	Anomalies             []Anomaly        `json:"anomalies,omitempty"`
}

// StartPage is the first page this fragment's text came from.
func (f Fragment) StartPage() int {
	if f.FirstPage > 0 {
		return f.FirstPage
	}
	return f.Page
}

// Clone returns a deep copy.
func (f Fragment) Clone() Fragment {
	f.Figures = slices.Clone(f.Figures)
	f.Anomalies = cloneAnomalies(f.Anomalies)
	return f
}

// PageRange is the inclusive [first, last] page span of a unit.
type PageRange [2]int

func (r PageRange) First() int { return r[0] }
func (r PageRange) Last() int  { return r[1] }

// Unit is a consolidated, self-contained question/answer pair.
type Unit struct {
	ID           ident.Identifier   `json:"identifier"`
	QuestionText string             `json:"question_text"`
	AnswerText   string             `json:"answer_text"`
	PageRange    PageRange          `json:"page_range"`
	Figures      []FigureRef        `json:"figures,omitempty"`
	State        ResolutionState    `json:"resolution_state"`
	References   []ident.Identifier `json:"references,omitempty"`
	NeedsReview  bool               `json:"needs_review,omitempty"`
	Anomalies    []Anomaly          `json:"anomalies,omitempty"`
}

// Clone returns a deep copy.
func (u Unit) Clone() Unit {
	u.Figures = slices.Clone(u.Figures)
	u.References = slices.Clone(u.References)
	u.Anomalies = cloneAnomalies(u.Anomalies)
	return u
}

// AddAnomaly attaches a recovered anomaly. Review-severity anomalies also
// raise the review flag.
func (u *Unit) AddAnomaly(a Anomaly) {
	u.Anomalies = append(u.Anomalies, a)
	if a.Severity == SeverityReview {
		u.NeedsReview = true
	}
}

// CloneUnits deep-copies a unit slice.
func CloneUnits(units []Unit) []Unit {
	if units == nil {
		return nil
	}
	out := make([]Unit, len(units))
	for i, u := range units {
		out[i] = u.Clone()
	}
	return out
}

// CloneFragments deep-copies a fragment slice.
func CloneFragments(frags []Fragment) []Fragment {
	if frags == nil {
		return nil
	}
	out := make([]Fragment, len(frags))
	for i, f := range frags {
		out[i] = f.Clone()
	}
	return out
}

// ContinuationContext is what page N hands to page N+1: the last full
// identifier seen and the ordered identifiers that appeared on page N.
type ContinuationContext struct {
	Page           int                `json:"page"`
	LastIdentifier ident.Identifier   `json:"last_identifier,omitzero"`
	Summary        []ident.Identifier `json:"summary,omitempty"`
}

// SummaryText renders the summary as a comma separated list for prompts.
func (c ContinuationContext) SummaryText() string {
	parts := make([]string, len(c.Summary))
	for i, id := range c.Summary {
		parts[i] = id.String()
	}
	return strings.Join(parts, ", ")
}

// Clone returns a deep copy.
func (c ContinuationContext) Clone() ContinuationContext {
	c.Summary = slices.Clone(c.Summary)
	return c
}

// LedgerEntry records what the resolver changed for one unit.
type LedgerEntry struct {
	Identifier     ident.Identifier   `json:"identifier"`
	BeforeQuestion string             `json:"before_question"`
	AfterQuestion  string             `json:"after_question"`
	BeforeAnswer   string             `json:"before_answer"`
	AfterAnswer    string             `json:"after_answer"`
	State          ResolutionState    `json:"resolution_state"`
	References     []ident.Identifier `json:"references,omitempty"`
	Anomalies      []Anomaly          `json:"anomalies,omitempty"`
}

// Changed reports whether the rewrite altered either text.
func (e LedgerEntry) Changed() bool {
	return e.BeforeQuestion != e.AfterQuestion || e.BeforeAnswer != e.AfterAnswer
}
