package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSession_Fresh(t *testing.T) {
	m := newTestManager(t)
	s := NewSession(m, "fp", 2, SessionOptions{})

	phase, err := s.Begin()
	require.NoError(t, err)
	require.Equal(t, PhaseFresh, phase)
	require.NotEmpty(t, s.RunID())

	require.NoError(t, s.Commit(testState(t, "fp", 2, 1)))
	require.Equal(t, PhaseCommitted, s.Phase())
	require.NoError(t, s.Commit(testState(t, "fp", 2, 2)))

	saved, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, 2, saved.LastCommittedPage)
	require.Equal(t, s.RunID(), saved.RunID)

	require.NoError(t, s.Finish())
	require.Equal(t, PhaseCleared, s.Phase())
	saved, err = m.Load()
	require.NoError(t, err)
	require.Nil(t, saved)
}

func TestSession_Resume(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(testState(t, "fp", 250, 47)))

	s := NewSession(m, "fp", 250, SessionOptions{})
	phase, err := s.Begin()
	require.NoError(t, err)
	require.Equal(t, PhaseAwaitingResumeDecision, phase)
	require.Equal(t, 47, s.Existing().LastCommittedPage)

	state, err := s.Decide(DecisionResume)
	require.NoError(t, err)
	require.Equal(t, PhaseResuming, s.Phase())
	require.Equal(t, 47, state.LastCommittedPage)
	require.Equal(t, "run-1", s.RunID())

	err = s.Commit(testState(t, "fp", 250, 49))
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.NoError(t, s.Commit(testState(t, "fp", 250, 48)))
	require.Equal(t, 48, s.Committed())
}

func TestSession_FingerprintMismatch(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(testState(t, "fp-old", 10, 3)))

	t.Run("refuses resume", func(t *testing.T) {
		s := NewSession(m, "fp-new", 10, SessionOptions{})
		_, err := s.Begin()
		require.NoError(t, err)

		_, err = s.Decide(DecisionResume)
		require.ErrorIs(t, err, ErrFingerprintMismatch)
		require.Equal(t, PhaseAwaitingResumeDecision, s.Phase())

		saved, err := m.Load()
		require.NoError(t, err)
		require.NotNil(t, saved, "mismatched state must not be discarded")
	})

	t.Run("override", func(t *testing.T) {
		s := NewSession(m, "fp-new", 10, SessionOptions{AllowFingerprintMismatch: true})
		_, err := s.Begin()
		require.NoError(t, err)
		state, err := s.Decide(DecisionResume)
		require.NoError(t, err)
		require.Equal(t, 3, state.LastCommittedPage)
	})
}

func TestSession_Restart(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(testState(t, "fp", 10, 3)))

	s := NewSession(m, "fp", 10, SessionOptions{})
	_, err := s.Begin()
	require.NoError(t, err)

	state, err := s.Decide(DecisionRestart)
	require.NoError(t, err)
	require.Nil(t, state)
	require.Equal(t, PhaseRestartingFresh, s.Phase())
	require.Equal(t, 0, s.Committed())
	require.NotEqual(t, "run-1", s.RunID())

	saved, err := m.Load()
	require.NoError(t, err)
	require.Nil(t, saved)
}

func TestSession_IllegalTransitions(t *testing.T) {
	s := NewSession(nil, "fp", 3, SessionOptions{})

	_, err := s.Decide(DecisionResume)
	require.ErrorIs(t, err, ErrIllegalTransition)
	require.ErrorIs(t, s.Commit(testState(t, "fp", 3, 1)), ErrIllegalTransition)

	_, err = s.Begin()
	require.NoError(t, err)
	_, err = s.Begin()
	require.ErrorIs(t, err, ErrIllegalTransition)

	require.NoError(t, s.Commit(testState(t, "fp", 3, 1)))
	require.ErrorIs(t, s.Finish(), ErrIllegalTransition)
}

func TestSession_WithoutManager(t *testing.T) {
	s := NewSession(nil, "fp", 1, SessionOptions{})
	phase, err := s.Begin()
	require.NoError(t, err)
	require.Equal(t, PhaseFresh, phase)
	require.NoError(t, s.Commit(testState(t, "fp", 1, 1)))
	require.NoError(t, s.Finish())
}
