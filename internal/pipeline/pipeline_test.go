package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/jackzampolin/quire/internal/checkpoint"
	"github.com/jackzampolin/quire/internal/document"
	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/resolve"
	"github.com/jackzampolin/quire/internal/stitch"
	"github.com/jackzampolin/quire/internal/types"
)

var idComparer = cmp.Comparer(ident.Identifier.Equal)

// bookPages generates deterministic fragments: every page has question
// "<p>.1"; every fifth page also starts "<p>.2", which runs onto the next
// page; every seventh page's first question cites the previous page's.
func bookPages(page int, _ types.ContinuationContext) []types.Fragment {
	var frags []types.Fragment
	if page > 1 && (page-1)%5 == 0 {
		frags = append(frags, types.Fragment{
			QuestionText:          "and conclude.",
			AnswerText:            "Done.",
			ContinuedFromPrevious: true,
		})
	}
	q := fmt.Sprintf("Question text %d.", page)
	if page%7 == 0 {
		q = fmt.Sprintf("Using question %d.1, continue.", page-1)
	}
	frags = append(frags, types.Fragment{
		Label:        fmt.Sprintf("%d.1", page),
		QuestionText: q,
		AnswerText:   fmt.Sprintf("Answer %d.", page),
	})
	if page%5 == 0 {
		frags = append(frags, types.Fragment{
			Label:             fmt.Sprintf("%d.2", page),
			QuestionText:      "Prove the bound",
			ContinuesNextPage: true,
		})
	}
	return frags
}

// scriptedExtractor serves bookPages, counts requests per page and fails
// once it is asked for failAt.
type scriptedExtractor struct {
	mu       sync.Mutex
	requests map[int]int
	failAt   int
	pages    func(int, types.ContinuationContext) []types.Fragment
}

func newExtractor(failAt int) *scriptedExtractor {
	return &scriptedExtractor{requests: make(map[int]int), failAt: failAt, pages: bookPages}
}

func (e *scriptedExtractor) Extract(_ context.Context, page document.Page, cc types.ContinuationContext) ([]types.Fragment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests[page.Number]++
	if page.Number == e.failAt {
		return nil, errors.New("extraction service unavailable")
	}
	if want := fmt.Sprintf("page %d", page.Number); string(page.Image) != want {
		return nil, fmt.Errorf("got image %q, want %q", page.Image, want)
	}
	return e.pages(page.Number, cc), nil
}

var pageRenderer = document.RendererFunc(func(_ context.Context, _ *document.Source, page int) ([]byte, error) {
	return []byte(fmt.Sprintf("page %d", page)), nil
})

type captureSink struct {
	runs []*Result
}

func (s *captureSink) Emit(_ context.Context, run *Result) error {
	s.runs = append(s.runs, run)
	return nil
}

func inlineRewriter() resolve.Rewriter {
	return resolve.RewriterFunc(func(_ context.Context, unit, ref types.Unit) (resolve.Rewrite, error) {
		q := strings.ReplaceAll(unit.QuestionText, "question "+ref.ID.String(), "["+ref.QuestionText+"]")
		return resolve.Rewrite{NeedsResolution: true, Question: q, Answer: unit.AnswerText}, nil
	})
}

func newResolver(t *testing.T) *resolve.Resolver {
	t.Helper()
	r, err := resolve.New(resolve.Config{Rewriter: inlineRewriter(), Workers: 2})
	require.NoError(t, err)
	return r
}

func source(pages int) *document.Source {
	return &document.Source{Path: "/books/analysis.pdf", Name: "analysis.pdf", Fingerprint: "sha256:book", PageCount: pages}
}

func run(t *testing.T, cfg Config, src *document.Source) (*Result, error) {
	t.Helper()
	if cfg.Renderer == nil {
		cfg.Renderer = pageRenderer
	}
	o, err := New(cfg)
	require.NoError(t, err)
	return o.Run(context.Background(), src)
}

func TestRun_Uninterrupted(t *testing.T) {
	dir := t.TempDir()
	mgr := checkpoint.NewManager(filepath.Join(dir, ".checkpoint.json"), nil)
	ex := newExtractor(0)
	sink := &captureSink{}

	res, err := run(t, Config{Extractor: ex, Resolver: newResolver(t), Checkpoints: mgr, Sink: sink}, source(12))
	require.NoError(t, err)
	require.Len(t, sink.runs, 1)
	require.Equal(t, 12, res.PagesProcessed)
	require.Equal(t, 0, res.ResumedFrom)

	// 12 "<p>.1" units plus 5.2 and 10.2 merged with their continuations
	require.Len(t, res.Units, 14)
	byID := make(map[string]types.Unit)
	for _, u := range res.Units {
		byID[u.ID.String()] = u
	}
	merged := byID["5.2"]
	require.Equal(t, "Prove the bound and conclude.", merged.QuestionText)
	require.Equal(t, types.PageRange{5, 6}, merged.PageRange)

	cited := byID["7.1"]
	require.Equal(t, "Using [Question text 6.], continue.", cited.QuestionText)
	require.Equal(t, types.StateResolved, cited.State)
	require.Len(t, res.Ledger, 1)

	for i := 1; i < len(res.Units); i++ {
		require.Negative(t, ident.Compare(res.Units[i-1].ID, res.Units[i].ID))
	}

	_, err = mgr.Read()
	require.Error(t, err, "state file should be cleared after a complete run")
}

func TestRun_ResumeMatchesUninterrupted(t *testing.T) {
	const total, crashAt = 250, 48

	baseline, err := run(t, Config{Extractor: newExtractor(0), Resolver: newResolver(t)}, source(total))
	require.NoError(t, err)

	mgr := checkpoint.NewManager(filepath.Join(t.TempDir(), ".checkpoint.json"), nil)
	_, err = run(t, Config{Extractor: newExtractor(crashAt), Resolver: newResolver(t), Checkpoints: mgr}, source(total))
	require.Error(t, err)

	state, err := mgr.Read()
	require.NoError(t, err)
	require.Equal(t, crashAt-1, state.LastCommittedPage)
	require.Equal(t, "47/250 (18.8%)", checkpoint.Summarize(state).Progress)

	ex := newExtractor(0)
	resumed, err := run(t, Config{Extractor: ex, Resolver: newResolver(t), Checkpoints: mgr}, source(total))
	require.NoError(t, err)
	require.Equal(t, crashAt-1, resumed.ResumedFrom)

	for page := 1; page <= total; page++ {
		want := 0
		if page >= crashAt {
			want = 1
		}
		require.Equal(t, want, ex.requests[page], "requests for page %d", page)
	}

	if diff := cmp.Diff(baseline.Units, resumed.Units, idComparer, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("resumed units differ from uninterrupted run (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(baseline.Ledger, resumed.Ledger, idComparer, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("resumed ledger differs (-want +got):\n%s", diff)
	}
}

func TestRun_RestartDecision(t *testing.T) {
	mgr := checkpoint.NewManager(filepath.Join(t.TempDir(), ".checkpoint.json"), nil)
	_, err := run(t, Config{Extractor: newExtractor(4), Checkpoints: mgr}, source(6))
	require.Error(t, err)

	ex := newExtractor(0)
	var asked *checkpoint.RunState
	res, err := run(t, Config{
		Extractor:   ex,
		Checkpoints: mgr,
		Decide: func(existing *checkpoint.RunState) (checkpoint.Decision, error) {
			asked = existing
			return checkpoint.DecisionRestart, nil
		},
	}, source(6))
	require.NoError(t, err)
	require.NotNil(t, asked)
	require.Equal(t, 3, asked.LastCommittedPage)
	require.Equal(t, 0, res.ResumedFrom)
	for page := 1; page <= 6; page++ {
		require.Equal(t, 1, ex.requests[page])
	}
}

func TestRun_FingerprintMismatch(t *testing.T) {
	mgr := checkpoint.NewManager(filepath.Join(t.TempDir(), ".checkpoint.json"), nil)
	_, err := run(t, Config{Extractor: newExtractor(3), Checkpoints: mgr}, source(5))
	require.Error(t, err)

	other := source(5)
	other.Fingerprint = "sha256:other-edition"
	_, err = run(t, Config{Extractor: newExtractor(0), Checkpoints: mgr}, other)
	require.ErrorIs(t, err, checkpoint.ErrFingerprintMismatch)

	state, err := mgr.Read()
	require.NoError(t, err, "refused resume must keep the saved state")
	require.Equal(t, 2, state.LastCommittedPage)

	ex := newExtractor(0)
	res, err := run(t, Config{Extractor: ex, Checkpoints: mgr, AllowFingerprintMismatch: true}, other)
	require.NoError(t, err)
	require.Equal(t, 2, res.ResumedFrom)
	require.Zero(t, ex.requests[1])
}

func TestRun_AmbiguousContinuationHalts(t *testing.T) {
	mgr := checkpoint.NewManager(filepath.Join(t.TempDir(), ".checkpoint.json"), nil)
	ex := newExtractor(0)
	ex.pages = func(page int, _ types.ContinuationContext) []types.Fragment {
		switch page {
		case 1:
			return []types.Fragment{{Label: "1.1", QuestionText: "q"}}
		case 2:
			return []types.Fragment{
				{Label: "2.1", QuestionText: "first", ContinuesNextPage: true},
				{Label: "2.2", QuestionText: "second", ContinuesNextPage: true},
			}
		default:
			return []types.Fragment{{QuestionText: "rest", ContinuedFromPrevious: true}}
		}
	}

	_, err := run(t, Config{Extractor: ex, Checkpoints: mgr}, source(3))
	require.ErrorIs(t, err, stitch.ErrAmbiguousContinuation)
	var cerr *stitch.ConsolidationError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, 3, cerr.Page)
	require.Equal(t, []string{"2.1", "2.2"}, cerr.Identifiers)

	state, err := mgr.Read()
	require.NoError(t, err)
	require.Equal(t, 2, state.LastCommittedPage)

	res, err := run(t, Config{Extractor: ex, Checkpoints: mgr, Policy: stitch.PolicyIsolate}, source(3))
	require.NoError(t, err)
	review := 0
	for _, u := range res.Units {
		if u.NeedsReview {
			review++
		}
	}
	require.Equal(t, 3, review, "both pending continuations and the orphan are flagged")
}

func TestRun_ResolutionSettingChangeWarns(t *testing.T) {
	mgr := checkpoint.NewManager(filepath.Join(t.TempDir(), ".checkpoint.json"), nil)
	_, err := run(t, Config{Extractor: newExtractor(3), Checkpoints: mgr}, source(4))
	require.Error(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	res, err := run(t, Config{Extractor: newExtractor(0), Checkpoints: mgr, Resolver: newResolver(t), Logger: logger}, source(4))
	require.NoError(t, err)
	require.True(t, res.ResolutionEnabled)
	require.Contains(t, buf.String(), "resolution setting differs")
}

func TestRun_WithoutCheckpoints(t *testing.T) {
	var pages []int
	res, err := run(t, Config{
		Extractor: newExtractor(0),
		OnPage:    func(page, total int) { pages = append(pages, page) },
	}, source(3))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, pages)
	require.Len(t, res.Units, 3)
	require.Empty(t, res.Ledger)
	require.Equal(t, types.StateUnresolved, res.Units[0].State)
}

func TestRun_Cancelled(t *testing.T) {
	o, err := New(Config{Extractor: newExtractor(0), Renderer: pageRenderer})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Run(ctx, source(3))
	require.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Renderer: pageRenderer})
	require.Error(t, err)
	_, err = New(Config{Extractor: newExtractor(0)})
	require.Error(t, err)
}
