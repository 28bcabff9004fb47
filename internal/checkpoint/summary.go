package checkpoint

import (
	"fmt"
	"path/filepath"
	"time"
)

// Summary is a human-oriented view of a saved state.
type Summary struct {
	Source            string    `json:"source" yaml:"source"`
	RunID             string    `json:"run_id" yaml:"run_id"`
	Progress          string    `json:"progress" yaml:"progress"`
	LastCommittedPage int       `json:"last_committed_page" yaml:"last_committed_page"`
	TotalPages        int       `json:"total_pages" yaml:"total_pages"`
	PercentComplete   float64   `json:"percent_complete" yaml:"percent_complete"`
	Fragments         int       `json:"fragments" yaml:"fragments"`
	Units             int       `json:"units" yaml:"units"`
	Pending           int       `json:"pending_continuations" yaml:"pending_continuations"`
	LastIdentifier    string    `json:"last_identifier,omitempty" yaml:"last_identifier,omitempty"`
	ResolutionEnabled bool      `json:"resolution_enabled" yaml:"resolution_enabled"`
	WrittenAt         time.Time `json:"written_at" yaml:"written_at"`
}

// Summarize builds a Summary of state.
func Summarize(state *RunState) Summary {
	pct := 0.0
	if state.TotalPages > 0 {
		pct = float64(state.LastCommittedPage) / float64(state.TotalPages) * 100
	}
	sum := Summary{
		Source:            filepath.Base(state.SourcePath),
		RunID:             state.RunID,
		Progress:          fmt.Sprintf("%d/%d (%.1f%%)", state.LastCommittedPage, state.TotalPages, pct),
		LastCommittedPage: state.LastCommittedPage,
		TotalPages:        state.TotalPages,
		PercentComplete:   pct,
		LastIdentifier:    state.ContinuationContext.LastIdentifier.String(),
		ResolutionEnabled: state.ResolutionEnabled,
		WrittenAt:         state.WrittenAt,
	}
	for _, rec := range state.FragmentStore.Pages {
		sum.Fragments += len(rec.Fragments)
		sum.Units += len(rec.Units)
	}
	if n := len(state.FragmentStore.Pages); n > 0 {
		sum.Pending = len(state.FragmentStore.Pages[n-1].Pending)
	}
	return sum
}
