package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jackzampolin/quire/internal/checkpoint"
	"github.com/jackzampolin/quire/internal/llmcall"
	"github.com/jackzampolin/quire/internal/pipeline"
	"github.com/jackzampolin/quire/internal/types"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Width(26)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type row struct {
	label string
	value string
	warn  bool
}

func section(title string, rows []row) string {
	lines := []string{titleStyle.Render(title)}
	for _, r := range rows {
		value := r.value
		if r.warn {
			value = warnStyle.Render(value)
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(r.label), value))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// RunSummary describes a finished extraction.
type RunSummary struct {
	RunID             string                  `json:"run_id" yaml:"run_id"`
	Source            string                  `json:"source" yaml:"source"`
	Pages             int                     `json:"pages" yaml:"pages"`
	ResumedFrom       int                     `json:"resumed_from,omitempty" yaml:"resumed_from,omitempty"`
	Fragments         int                     `json:"fragments" yaml:"fragments"`
	Questions         int                     `json:"questions" yaml:"questions"`
	NeedsReview       int                     `json:"needs_review" yaml:"needs_review"`
	ResolutionEnabled bool                    `json:"resolution_enabled" yaml:"resolution_enabled"`
	Rewritten         int                     `json:"rewritten" yaml:"rewritten"`
	Changed           int                     `json:"changed" yaml:"changed"`
	Cycles            int                     `json:"cycles" yaml:"cycles"`
	Anomalies         map[types.ErrorKind]int `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
	Calls             *llmcall.Totals         `json:"llm_calls,omitempty" yaml:"llm_calls,omitempty"`
	Outputs           []string                `json:"outputs" yaml:"outputs"`
	Elapsed           time.Duration           `json:"elapsed" yaml:"elapsed"`
}

// Summarize builds a RunSummary from a finished run.
func Summarize(run *pipeline.Result, calls *llmcall.Totals, outputs []string, elapsed time.Duration) RunSummary {
	sum := RunSummary{
		RunID:             run.RunID,
		Pages:             run.PagesProcessed,
		ResumedFrom:       run.ResumedFrom,
		Fragments:         run.FragmentCount,
		Questions:         len(run.Units),
		ResolutionEnabled: run.ResolutionEnabled,
		Rewritten:         len(run.Ledger),
		Cycles:            len(run.Cycles),
		Anomalies:         run.Anomalies(),
		Calls:             calls,
		Outputs:           outputs,
		Elapsed:           elapsed.Round(time.Millisecond),
	}
	if run.Source != nil {
		sum.Source = run.Source.Name
		sum.Pages = run.Source.PageCount
	}
	for _, u := range run.Units {
		if u.NeedsReview {
			sum.NeedsReview++
		}
	}
	for _, e := range run.Ledger {
		if e.Changed() {
			sum.Changed++
		}
	}
	return sum
}

// Render returns the text form of the summary.
func (s RunSummary) Render() string {
	rows := []row{
		{label: "Source", value: s.Source},
		{label: "Run", value: s.RunID},
		{label: "Pages", value: fmt.Sprint(s.Pages)},
	}
	if s.ResumedFrom > 0 {
		rows = append(rows, row{label: "Resumed after page", value: fmt.Sprint(s.ResumedFrom)})
	}
	rows = append(rows,
		row{label: "Fragments", value: fmt.Sprint(s.Fragments)},
		row{label: "Questions", value: fmt.Sprint(s.Questions)},
		row{label: "Needs review", value: fmt.Sprint(s.NeedsReview), warn: s.NeedsReview > 0},
	)
	if s.ResolutionEnabled {
		rows = append(rows,
			row{label: "Rewritten", value: fmt.Sprintf("%d (%d changed)", s.Rewritten, s.Changed)},
			row{label: "Reference cycles", value: fmt.Sprint(s.Cycles), warn: s.Cycles > 0},
		)
	} else {
		rows = append(rows, row{label: "Resolution", value: "disabled"})
	}
	for _, kind := range sortedKinds(s.Anomalies) {
		rows = append(rows, row{label: string(kind), value: fmt.Sprint(s.Anomalies[kind]), warn: true})
	}
	if s.Calls != nil {
		rows = append(rows, callRows(*s.Calls)...)
	}
	for _, p := range s.Outputs {
		rows = append(rows, row{label: "Wrote", value: p})
	}
	rows = append(rows, row{label: "Elapsed", value: s.Elapsed.String()})
	return section("Extraction complete", rows)
}

// Status describes an output directory between runs.
type Status struct {
	OutputDir  string              `json:"output_dir" yaml:"output_dir"`
	Checkpoint *checkpoint.Summary `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
	// CheckpointError is set when a state file exists but cannot be used.
	CheckpointError string          `json:"checkpoint_error,omitempty" yaml:"checkpoint_error,omitempty"`
	Calls           *llmcall.Totals `json:"llm_calls,omitempty" yaml:"llm_calls,omitempty"`
	Questions       int             `json:"questions,omitempty" yaml:"questions,omitempty"`
	NeedsReview     int             `json:"needs_review,omitempty" yaml:"needs_review,omitempty"`
}

// Render returns the text form of the status.
func (s Status) Render() string {
	rows := []row{{label: "Output", value: s.OutputDir}}
	switch {
	case s.CheckpointError != "":
		rows = append(rows, row{label: "Checkpoint", value: s.CheckpointError, warn: true})
	case s.Checkpoint != nil:
		cp := s.Checkpoint
		rows = append(rows,
			row{label: "Checkpoint", value: filepath.Base(cp.Source)},
			row{label: "Run", value: cp.RunID},
			row{label: "Progress", value: cp.Progress},
			row{label: "Units so far", value: fmt.Sprint(cp.Units)},
			row{label: "Pending", value: fmt.Sprint(cp.Pending)},
		)
		if cp.LastIdentifier != "" {
			rows = append(rows, row{label: "Last identifier", value: cp.LastIdentifier})
		}
		rows = append(rows, row{label: "Saved", value: cp.WrittenAt.Local().Format(time.DateTime)})
	default:
		rows = append(rows, row{label: "Checkpoint", value: "none"})
	}
	if s.Questions > 0 {
		rows = append(rows,
			row{label: "Exported questions", value: fmt.Sprint(s.Questions)},
			row{label: "Needs review", value: fmt.Sprint(s.NeedsReview), warn: s.NeedsReview > 0},
		)
	}
	if s.Calls != nil {
		rows = append(rows, callRows(*s.Calls)...)
	}
	return section("Status", rows)
}

func callRows(t llmcall.Totals) []row {
	rows := []row{
		{label: "LLM calls", value: fmt.Sprintf("%d (%d failed)", t.Calls, t.Failed), warn: t.Failed > 0},
		{label: "Tokens", value: fmt.Sprintf("%d in / %d out", t.InputTokens, t.OutputTokens)},
	}
	if t.CostUSD > 0 {
		rows = append(rows, row{label: "Cost", value: fmt.Sprintf("$%.4f", t.CostUSD)})
	}
	return rows
}

func sortedKinds(m map[types.ErrorKind]int) []types.ErrorKind {
	kinds := make([]types.ErrorKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// PromptInfo describes one prompt key as it will be resolved.
type PromptInfo struct {
	Key         string   `json:"key" yaml:"key"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Variables   []string `json:"variables,omitempty" yaml:"variables,omitempty"`
	CID         string   `json:"cid" yaml:"cid"`
	Override    bool     `json:"override" yaml:"override"`
}

// PromptList is the output of the prompts command.
type PromptList struct {
	OverrideDir string       `json:"override_dir,omitempty" yaml:"override_dir,omitempty"`
	Prompts     []PromptInfo `json:"prompts" yaml:"prompts"`
}

// Render returns the text form of the list.
func (l PromptList) Render() string {
	dir := l.OverrideDir
	if dir == "" {
		dir = "none"
	}
	rows := []row{{label: "Override dir", value: dir}}
	for _, p := range l.Prompts {
		source := "embedded"
		if p.Override {
			source = "override"
		}
		rows = append(rows, row{label: p.Key, value: fmt.Sprintf("%s  %s", p.CID, source), warn: p.Override})
	}
	return section("Prompts", rows)
}
