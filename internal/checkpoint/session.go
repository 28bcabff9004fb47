package checkpoint

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Phase is where a run is in its checkpoint lifecycle.
//
//	NoState -> Fresh
//	NoState -> AwaitingResumeDecision -> Resuming | RestartingFresh
//	Fresh | Resuming | RestartingFresh | Committed -> Committed(N)
//	Committed(last page) -> Cleared
type Phase string

const (
	PhaseNoState                Phase = "no_state"
	PhaseFresh                  Phase = "fresh"
	PhaseAwaitingResumeDecision Phase = "awaiting_resume_decision"
	PhaseResuming               Phase = "resuming"
	PhaseRestartingFresh        Phase = "restarting_fresh"
	PhaseCommitted              Phase = "committed"
	PhaseCleared                Phase = "cleared"
)

// Decision is the answer to "a previous run exists; resume it?".
type Decision int

const (
	DecisionResume Decision = iota
	DecisionRestart
)

func (d Decision) String() string {
	if d == DecisionResume {
		return "resume"
	}
	return "restart"
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// AllowFingerprintMismatch lets a resume proceed against a state saved
	// for a different fingerprint.
	AllowFingerprintMismatch bool
	Logger                   *slog.Logger
}

// Session drives the checkpoint lifecycle of one run. A nil Manager gives
// a session that tracks phases without touching disk.
type Session struct {
	mgr           *Manager
	fingerprint   string
	totalPages    int
	allowMismatch bool
	logger        *slog.Logger

	phase     Phase
	committed int
	runID     string
	existing  *RunState
}

// NewSession creates a session for the document with fingerprint.
func NewSession(mgr *Manager, fingerprint string, totalPages int, opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		mgr:           mgr,
		fingerprint:   fingerprint,
		totalPages:    totalPages,
		allowMismatch: opts.AllowFingerprintMismatch,
		logger:        opts.Logger,
		phase:         PhaseNoState,
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// Committed returns the last committed page.
func (s *Session) Committed() int { return s.committed }

// RunID identifies this run across resumes.
func (s *Session) RunID() string { return s.runID }

// Existing returns the state found by Begin, if any.
func (s *Session) Existing() *RunState { return s.existing }

// Begin looks for a saved state. It moves to Fresh when there is none and
// to AwaitingResumeDecision otherwise.
func (s *Session) Begin() (Phase, error) {
	if s.phase != PhaseNoState {
		return s.phase, s.illegal("begin")
	}
	var state *RunState
	if s.mgr != nil {
		var err error
		if state, err = s.mgr.Load(); err != nil {
			return s.phase, err
		}
	}
	if state == nil {
		s.phase = PhaseFresh
		s.runID = uuid.New().String()
		return s.phase, nil
	}
	s.existing = state
	s.phase = PhaseAwaitingResumeDecision
	return s.phase, nil
}

// Decide applies the resume decision. Resuming returns the saved state;
// a fingerprint mismatch refuses to resume unless the session allows it, and
// leaves the session awaiting a decision. Restarting clears the saved state
// and returns nil.
func (s *Session) Decide(d Decision) (*RunState, error) {
	if s.phase != PhaseAwaitingResumeDecision {
		return nil, s.illegal("decide " + d.String())
	}

	switch d {
	case DecisionResume:
		if err := Validate(s.existing, s.fingerprint); err != nil {
			if !s.allowMismatch {
				return nil, err
			}
			s.logger.Warn("resuming despite fingerprint mismatch", "error", err)
		}
		if s.existing.TotalPages != s.totalPages {
			return nil, fmt.Errorf("%w: saved run has %d pages, document has %d",
				ErrFingerprintMismatch, s.existing.TotalPages, s.totalPages)
		}
		s.phase = PhaseResuming
		s.committed = s.existing.LastCommittedPage
		s.runID = s.existing.RunID
		if s.runID == "" {
			s.runID = uuid.New().String()
		}
		s.logger.Info("resuming run", "run_id", s.runID, "last_committed_page", s.committed, "total_pages", s.totalPages)
		return s.existing, nil
	default:
		if s.mgr != nil {
			if err := s.mgr.Clear(); err != nil {
				return nil, err
			}
		}
		s.phase = PhaseRestartingFresh
		s.committed = 0
		s.runID = uuid.New().String()
		s.existing = nil
		s.logger.Info("starting fresh; previous run state discarded", "run_id", s.runID)
		return nil, nil
	}
}

// Commit persists state for the next page. Pages must be committed one at a
// time in order; re-committing the last page is allowed so the final
// checkpoint can be refreshed.
func (s *Session) Commit(state *RunState) error {
	switch s.phase {
	case PhaseFresh, PhaseResuming, PhaseRestartingFresh, PhaseCommitted:
	default:
		return s.illegal("commit")
	}
	page := state.LastCommittedPage
	if page != s.committed+1 && page != s.committed {
		return fmt.Errorf("%w: commit page %d after page %d", ErrIllegalTransition, page, s.committed)
	}
	state.RunID = s.runID
	state.DocumentFingerprint = s.fingerprint
	state.TotalPages = s.totalPages
	if s.mgr != nil {
		if err := s.mgr.Save(state); err != nil {
			return err
		}
	}
	s.committed = page
	s.phase = PhaseCommitted
	return nil
}

// Finish clears the state after the last page is committed and resolution
// has completed.
func (s *Session) Finish() error {
	if s.phase == PhaseResuming && s.committed == s.totalPages {
		// resumed a run whose pages were all committed
		s.phase = PhaseCommitted
	}
	if s.phase != PhaseCommitted || s.committed != s.totalPages {
		return fmt.Errorf("%w: finish in phase %s at page %d of %d", ErrIllegalTransition, s.phase, s.committed, s.totalPages)
	}
	if s.mgr != nil {
		if err := s.mgr.Clear(); err != nil {
			return err
		}
	}
	s.phase = PhaseCleared
	return nil
}

func (s *Session) illegal(op string) error {
	return fmt.Errorf("%w: %s in phase %s", ErrIllegalTransition, op, s.phase)
}
