package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/providers"
	"github.com/jackzampolin/quire/internal/report"
	"github.com/jackzampolin/quire/internal/svcctx"
	"github.com/jackzampolin/quire/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "quire",
	Short: "Consolidate and resolve question/answer sets from PDFs",
	Long: `Quire turns a PDF of numbered questions and answers into a clean,
ordered set of self-contained units.

The pipeline:
  - Renders each page and extracts Q&A fragments with a vision LLM
  - Stitches questions that run across page boundaries
  - Detects cross-references ("using the result of 3.2") and rewrites
    each question so it stands on its own
  - Checkpoints after every page so an interrupted run resumes where it stopped`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.quire/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "quire home directory (default: ~/.quire)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "text", "output format: text, yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(promptsCmd)
}

// newLogger logs to stderr so stdout stays clean for structured output.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
}

// loadServices builds the service container for commands that need
// configuration and providers.
func loadServices(cmd *cobra.Command) (*svcctx.Services, error) {
	logger := newLogger(cmd)
	slog.SetDefault(logger)

	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}

	path := cfgFile
	if path == "" && homeDir != "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	mgr, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}
	if used := mgr.ConfigFile(); used != "" {
		logger.Debug("loaded config", "path", used)
	}

	registry := providers.NewRegistryFromConfig(mgr.Get().ToProviderRegistryConfig(), logger)
	return &svcctx.Services{
		Config:   mgr,
		Registry: registry,
		Logger:   logger,
		Home:     h,
	}, nil
}

func outputFormatFlag() (report.OutputFormat, error) {
	format, err := report.ParseFormat(outputFormat)
	if err != nil {
		return "", fmt.Errorf("--output: %w", err)
	}
	return format, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
