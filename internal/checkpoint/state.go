// Package checkpoint persists the run state that lets an interrupted run
// resume at the page after the last committed one.
//
// The state file is a single indented JSON document per output directory.
// It is replaced atomically on every save, so on disk it is either a
// complete, valid state or absent.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/quire/internal/store"
	"github.com/jackzampolin/quire/internal/types"
)

// StateVersion is the schema version of the state file.
const StateVersion = 1

var (
	// ErrCorruptState is returned by Read for a state file that cannot be
	// parsed or fails validation.
	ErrCorruptState = errors.New("corrupt run state")
	// ErrFingerprintMismatch is returned when a saved state belongs to a
	// different document.
	ErrFingerprintMismatch = errors.New("document fingerprint mismatch")
	// ErrIllegalTransition is returned when a Session method is called in a
	// phase that does not allow it.
	ErrIllegalTransition = errors.New("illegal run state transition")
)

// RunState is everything needed to resume a run.
type RunState struct {
	Version             int                       `json:"version"`
	RunID               string                    `json:"run_id"`
	SourcePath          string                    `json:"source_path,omitempty"`
	DocumentFingerprint string                    `json:"document_fingerprint"`
	TotalPages          int                       `json:"total_pages"`
	LastCommittedPage   int                       `json:"last_committed_page"`
	FragmentStore       store.Snapshot            `json:"fragment_store"`
	ContinuationContext types.ContinuationContext `json:"continuation_context"`
	ResolutionEnabled   bool                      `json:"resolution_enabled"`
	WrittenAt           time.Time                 `json:"written_at"`
}

// Validate checks the state's internal consistency.
func (s *RunState) Validate() error {
	switch {
	case s.Version != StateVersion:
		return fmt.Errorf("unsupported version %d", s.Version)
	case s.DocumentFingerprint == "":
		return errors.New("missing document fingerprint")
	case s.TotalPages <= 0:
		return fmt.Errorf("invalid total pages %d", s.TotalPages)
	case s.LastCommittedPage < 0 || s.LastCommittedPage > s.TotalPages:
		return fmt.Errorf("last committed page %d outside 0..%d", s.LastCommittedPage, s.TotalPages)
	case s.FragmentStore.LastPage != s.LastCommittedPage:
		return fmt.Errorf("fragment store ends at page %d, state at %d", s.FragmentStore.LastPage, s.LastCommittedPage)
	}
	if err := s.FragmentStore.Validate(); err != nil {
		return err
	}
	return nil
}

// Complete reports whether every page has been committed.
func (s *RunState) Complete() bool {
	return s.LastCommittedPage == s.TotalPages
}

// Validate checks that state belongs to the document with fingerprint.
func Validate(state *RunState, fingerprint string) error {
	if state == nil {
		return errors.New("no run state")
	}
	if state.DocumentFingerprint != fingerprint {
		return fmt.Errorf("%w: state has %s, document is %s",
			ErrFingerprintMismatch, shortFingerprint(state.DocumentFingerprint), shortFingerprint(fingerprint))
	}
	return nil
}

// Matches reports whether state belongs to the document with fingerprint.
func Matches(state *RunState, fingerprint string) bool {
	return Validate(state, fingerprint) == nil
}

func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
