// Package export writes the finished document for the downstream
// formatting and evaluation tools.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"github.com/jackzampolin/quire/internal/ident"
	"github.com/jackzampolin/quire/internal/pipeline"
	"github.com/jackzampolin/quire/internal/types"
)

// File names written to the output directory.
const (
	UnitsFileName      = "extracted_qas.json"
	ResolutionFileName = "resolution_results.json"
)

// Metadata describes the run that produced an export.
type Metadata struct {
	SourcePDF         string    `json:"source_pdf"`
	ExtractionDate    time.Time `json:"extraction_date"`
	TotalQuestions    int       `json:"total_questions"`
	TotalPages        int       `json:"total_pages"`
	ModelUsed         string    `json:"model_used,omitempty"`
	RunID             string    `json:"run_id"`
	ResolutionEnabled bool      `json:"resolution_enabled"`
	NeedsReview       int       `json:"needs_review"`
}

// Question is one exported unit.
type Question struct {
	ID              string                `json:"id"`
	QuestionLatex   string                `json:"question_latex"`
	AnswerLatex     string                `json:"answer_latex"`
	Figures         []types.FigureRef     `json:"figures"`
	PageRange       types.PageRange       `json:"page_range"`
	ResolutionState types.ResolutionState `json:"resolution_state"`
	NeedsReview     bool                  `json:"needs_review,omitempty"`
	Anomalies       []types.Anomaly       `json:"anomalies,omitempty"`
}

// UnitsFile is the content of extracted_qas.json.
type UnitsFile struct {
	Metadata  Metadata   `json:"metadata"`
	Questions []Question `json:"questions"`
}

// ResolutionFile is the content of resolution_results.json.
type ResolutionFile struct {
	RunID   string              `json:"run_id"`
	Total   int                 `json:"total_rewritten"`
	Changed int                 `json:"total_changed"`
	Cycles  [][]string          `json:"cycles,omitempty"`
	Entries []types.LedgerEntry `json:"entries"`
}

// Writer writes exports into a directory.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a Writer for dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{dir: dir, logger: logger}
}

// UnitsPath returns the location of extracted_qas.json.
func (w *Writer) UnitsPath() string { return filepath.Join(w.dir, UnitsFileName) }

// ResolutionPath returns the location of resolution_results.json.
func (w *Writer) ResolutionPath() string { return filepath.Join(w.dir, ResolutionFileName) }

// Emit writes the units file and, when resolution ran, the ledger. Each
// file is replaced atomically.
func (w *Writer) Emit(ctx context.Context, run *pipeline.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	units := BuildUnitsFile(run)
	if err := writeJSON(w.UnitsPath(), units); err != nil {
		return err
	}
	w.logger.Info("wrote units", "path", w.UnitsPath(), "questions", len(units.Questions))

	if !run.ResolutionEnabled {
		return nil
	}
	ledger := BuildResolutionFile(run)
	if err := writeJSON(w.ResolutionPath(), ledger); err != nil {
		return err
	}
	w.logger.Info("wrote resolution ledger", "path", w.ResolutionPath(), "rewritten", ledger.Total, "changed", ledger.Changed)
	return nil
}

// BuildUnitsFile converts a run into the units file.
func BuildUnitsFile(run *pipeline.Result) UnitsFile {
	f := UnitsFile{
		Metadata: Metadata{
			ExtractionDate:    run.CompletedAt,
			TotalQuestions:    len(run.Units),
			ModelUsed:         run.Model,
			RunID:             run.RunID,
			ResolutionEnabled: run.ResolutionEnabled,
		},
		Questions: make([]Question, 0, len(run.Units)),
	}
	if run.Source != nil {
		f.Metadata.SourcePDF = run.Source.Name
		f.Metadata.TotalPages = run.Source.PageCount
	}
	for _, u := range run.Units {
		figures := u.Figures
		if figures == nil {
			figures = []types.FigureRef{}
		}
		if u.NeedsReview {
			f.Metadata.NeedsReview++
		}
		f.Questions = append(f.Questions, Question{
			ID:              u.ID.String(),
			QuestionLatex:   u.QuestionText,
			AnswerLatex:     u.AnswerText,
			Figures:         figures,
			PageRange:       u.PageRange,
			ResolutionState: u.State,
			NeedsReview:     u.NeedsReview,
			Anomalies:       u.Anomalies,
		})
	}
	return f
}

// BuildResolutionFile converts a run's ledger into the resolution file.
func BuildResolutionFile(run *pipeline.Result) ResolutionFile {
	f := ResolutionFile{
		RunID:   run.RunID,
		Total:   len(run.Ledger),
		Entries: run.Ledger,
	}
	if f.Entries == nil {
		f.Entries = []types.LedgerEntry{}
	}
	for _, e := range run.Ledger {
		if e.Changed() {
			f.Changed++
		}
	}
	for _, cycle := range run.Cycles {
		f.Cycles = append(f.Cycles, identifierStrings(cycle))
	}
	return f
}

func identifierStrings(ids []ident.Identifier) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadUnits loads a units file written by Emit.
func ReadUnits(path string) (*UnitsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f UnitsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return &f, nil
}

var _ pipeline.Sink = (*Writer)(nil)
