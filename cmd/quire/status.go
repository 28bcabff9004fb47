package main

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/checkpoint"
	"github.com/jackzampolin/quire/internal/export"
	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/llmcall"
	"github.com/jackzampolin/quire/internal/report"
)

var statusCmd = &cobra.Command{
	Use:   "status <output-dir>",
	Short: "Show saved progress, exports and LLM usage for an output directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormatFlag()
		if err != nil {
			return err
		}
		st, err := buildStatus(args[0])
		if err != nil {
			return err
		}
		return report.Write(cmd.OutOrStdout(), format, st)
	},
}

// buildStatus inspects an output directory without modifying it.
func buildStatus(dir string) (report.Status, error) {
	out, err := home.NewOutput(dir)
	if err != nil {
		return report.Status{}, err
	}
	st := report.Status{OutputDir: out.Path()}

	mgr := checkpoint.NewManager(out.CheckpointPath(), nil)
	state, err := mgr.Read()
	switch {
	case err == nil:
		sum := checkpoint.Summarize(state)
		st.Checkpoint = &sum
	case errors.Is(err, fs.ErrNotExist):
	case errors.Is(err, checkpoint.ErrCorruptState):
		st.CheckpointError = err.Error()
	default:
		return st, err
	}

	if fileExists(out.CallLogPath()) {
		totals, err := llmcall.Summarize(out.CallLogPath())
		if err != nil {
			return st, err
		}
		st.Calls = &totals
	}

	units, err := export.ReadUnits(export.NewWriter(out.Path(), nil).UnitsPath())
	switch {
	case err == nil:
		st.Questions = units.Metadata.TotalQuestions
		st.NeedsReview = units.Metadata.NeedsReview
	case !errors.Is(err, fs.ErrNotExist):
		return st, err
	}
	return st, nil
}
