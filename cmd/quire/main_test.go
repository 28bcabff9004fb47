package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/quire/internal/checkpoint"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/llmcall"
	"github.com/jackzampolin/quire/internal/providers"
	"github.com/jackzampolin/quire/internal/stitch"
	"github.com/jackzampolin/quire/internal/store"
	"github.com/jackzampolin/quire/internal/types"
)

func savedState(t *testing.T, path string, total, committed int) {
	t.Helper()
	s := store.New()
	for p := 1; p <= committed; p++ {
		id := ident.MustParse(fmt.Sprintf("1.%d", p))
		require.NoError(t, s.Append(p, []types.Fragment{{Label: id.String(), QuestionText: "q", Page: p}}))
		require.NoError(t, s.Record(p, []types.Unit{{ID: id, QuestionText: "q", PageRange: types.PageRange{p, p}, State: types.StateUnresolved}}, nil))
	}
	state := &checkpoint.RunState{
		RunID:               "run-1",
		SourcePath:          "/books/analysis.pdf",
		DocumentFingerprint: "sha256:abc",
		TotalPages:          total,
		LastCommittedPage:   committed,
		FragmentStore:       s.Snapshot(),
	}
	require.NoError(t, checkpoint.NewManager(path, nil).Save(state))
}

func TestDecideFunc(t *testing.T) {
	state := &checkpoint.RunState{SourcePath: "/books/analysis.pdf", TotalPages: 10, LastCommittedPage: 2}

	t.Run("flags are exclusive", func(t *testing.T) {
		_, err := decideFunc(true, true, nil, nil)
		require.Error(t, err)
	})

	t.Run("flags answer without asking", func(t *testing.T) {
		var out bytes.Buffer
		decide, err := decideFunc(true, false, strings.NewReader(""), &out)
		require.NoError(t, err)
		d, err := decide(state)
		require.NoError(t, err)
		require.Equal(t, checkpoint.DecisionResume, d)

		decide, err = decideFunc(false, true, strings.NewReader(""), &out)
		require.NoError(t, err)
		d, err = decide(state)
		require.NoError(t, err)
		require.Equal(t, checkpoint.DecisionRestart, d)
		require.Empty(t, out.String())
	})

	tests := []struct {
		answer  string
		want    checkpoint.Decision
		wantErr bool
	}{
		{answer: "", want: checkpoint.DecisionResume},
		{answer: "y\n", want: checkpoint.DecisionResume},
		{answer: "No\n", want: checkpoint.DecisionRestart},
		{answer: "maybe\n", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("answer %q", tt.answer), func(t *testing.T) {
			var out bytes.Buffer
			decide, err := decideFunc(false, false, strings.NewReader(tt.answer), &out)
			require.NoError(t, err)
			d, err := decide(state)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, d)
			require.Contains(t, out.String(), "analysis.pdf: 2/10 (20.0%)")
		})
	}
}

func TestBuildStatus(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		st, err := buildStatus(t.TempDir())
		require.NoError(t, err)
		require.Nil(t, st.Checkpoint)
		require.Nil(t, st.Calls)
		require.Zero(t, st.Questions)
	})

	t.Run("saved run with call log", func(t *testing.T) {
		dir := t.TempDir()
		out, err := home.NewOutput(dir)
		require.NoError(t, err)
		savedState(t, out.CheckpointPath(), 10, 1)

		rec, err := llmcall.NewRecorder(llmcall.RecorderConfig{Path: out.CallLogPath()})
		require.NoError(t, err)
		rec.RecordCall(&llmcall.Call{RunID: "run-1", Stage: llmcall.StageExtraction, Success: true, InputTokens: 10})
		rec.RecordCall(&llmcall.Call{RunID: "run-1", Stage: llmcall.StageExtraction, InputTokens: 5})
		require.NoError(t, rec.Close())

		st, err := buildStatus(dir)
		require.NoError(t, err)
		require.NotNil(t, st.Checkpoint)
		require.Equal(t, "1/10 (10.0%)", st.Checkpoint.Progress)
		require.NotNil(t, st.Calls)
		require.Equal(t, 2, st.Calls.Calls)
		require.Equal(t, 1, st.Calls.Failed)
		require.Equal(t, 15, st.Calls.InputTokens)
	})

	t.Run("corrupt state", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, home.CheckpointFileName), []byte("{not json"), 0o644))
		st, err := buildStatus(dir)
		require.NoError(t, err)
		require.Nil(t, st.Checkpoint)
		require.Contains(t, st.CheckpointError, "corrupt")
	})
}

func TestRunTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.jsonl")
	rec, err := llmcall.NewRecorder(llmcall.RecorderConfig{Path: path})
	require.NoError(t, err)
	rec.RecordCall(&llmcall.Call{RunID: "old", Stage: llmcall.StageExtraction, Success: true})
	rec.RecordCall(&llmcall.Call{RunID: "new", Stage: llmcall.StageRewrite, Success: true})
	rec.RecordCall(&llmcall.Call{RunID: "new", Stage: llmcall.StageDetection, Success: true})
	require.NoError(t, rec.Close())

	totals, err := runTotals(path, "new")
	require.NoError(t, err)
	require.Equal(t, 2, totals.Calls)
	require.Equal(t, 1, totals.ByStage[llmcall.StageRewrite])
}

func TestApplyExtractFlags(t *testing.T) {
	saved := extractFlags
	t.Cleanup(func() { extractFlags = saved })

	extractFlags.dpi = 150
	extractFlags.policy = "isolate"
	extractFlags.noResolve = true
	extractFlags.provider = "openai"
	cfg, err := applyExtractFlags(*config.DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, 150, cfg.Pipeline.DPI)
	require.Equal(t, "isolate", cfg.Pipeline.AmbiguityPolicy)
	require.Equal(t, stitch.PolicyIsolate, stitch.ParsePolicy(cfg.Pipeline.AmbiguityPolicy))
	require.False(t, cfg.Pipeline.ResolveReferences)
	require.Equal(t, "openai", cfg.Defaults.ExtractionProvider)
	require.Equal(t, "openrouter", cfg.Defaults.ResolutionProvider)

	extractFlags.detection = "telepathy"
	_, err = applyExtractFlags(*config.DefaultConfig())
	require.Error(t, err)
}

func TestBuildResolver(t *testing.T) {
	reg := providers.NewRegistry(nil)
	reg.Register("openrouter", providers.NewMockClient())

	for _, mode := range []string{config.DetectionLLM, config.DetectionPattern, config.DetectionLLMPattern} {
		t.Run(mode, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Pipeline.Detection = mode
			r, err := buildResolver(cfg, reg.Bound, nil, nil, nil)
			require.NoError(t, err)
			require.NotNil(t, r)
		})
	}

	t.Run("missing provider", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Defaults.ResolutionProvider = "nowhere"
		_, err := buildResolver(cfg, reg.Bound, nil, nil, nil)
		require.ErrorContains(t, err, "resolution provider")
	})
}

func TestExplainRunError(t *testing.T) {
	mgr := checkpoint.NewManager(filepath.Join(t.TempDir(), "state.json"), nil)
	cerr := &stitch.ConsolidationError{Kind: types.KindAmbiguousContinuation, Page: 3, Identifiers: []string{"2.1", "2.2"}}

	err := explainRunError(fmt.Errorf("page 3: %w", cerr), mgr)
	require.ErrorIs(t, err, stitch.ErrAmbiguousContinuation)
	require.Contains(t, err.Error(), "saved up to page 2")

	err = explainRunError(cerr, nil)
	require.NotContains(t, err.Error(), "saved")
	require.Contains(t, err.Error(), "--policy isolate")

	err = explainRunError(context.Canceled, mgr)
	require.ErrorIs(t, err, context.Canceled)
	require.Contains(t, err.Error(), "resume")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	rootCmd.SetArgs([]string{"config", "init", path})
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	require.Contains(t, out.String(), "wrote "+path)

	mgr, err := config.NewManager(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig().Pipeline, mgr.Get().Pipeline)

	rootCmd.SetArgs([]string{"config", "init", path})
	require.Error(t, rootCmd.ExecuteContext(context.Background()))
}
