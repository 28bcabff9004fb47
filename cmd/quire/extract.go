package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/quire/internal/checkpoint"
	"github.com/jackzampolin/quire/internal/config"
	"github.com/jackzampolin/quire/internal/document"
	"github.com/jackzampolin/quire/internal/export"
	"github.com/jackzampolin/quire/internal/home"
	"github.com/jackzampolin/quire/internal/llm"
	"github.com/jackzampolin/quire/internal/llmcall"
	"github.com/jackzampolin/quire/internal/pipeline"
	"github.com/jackzampolin/quire/internal/prompts"
	"github.com/jackzampolin/quire/internal/providers"
	"github.com/jackzampolin/quire/internal/report"
	"github.com/jackzampolin/quire/internal/resolve"
	"github.com/jackzampolin/quire/internal/stitch"
)

var extractFlags struct {
	outputDir           string
	provider            string
	resolutionProvider  string
	model               string
	dpi                 int
	workers             int
	policy              string
	detection           string
	noResolve           bool
	noCheckpoint        bool
	resume              bool
	forceRestart        bool
	overrideFingerprint bool
	keepPages           bool
}

var extractCmd = &cobra.Command{
	Use:   "extract <pdf>",
	Short: "Extract, stitch and resolve the questions in a PDF",
	Long: `Extract every question/answer pair from a PDF.

Pages are processed in order and the run state is saved after each one.
If a saved run exists for the output directory you are asked whether to
resume it; --resume and --force-restart answer up front.

Writes extracted_qas.json and, when resolution is enabled,
resolution_results.json to the output directory.

Examples:
  quire extract book.pdf
  quire extract book.pdf --output-dir out/book --no-resolve
  quire extract book.pdf --resume --policy isolate`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractFlags.outputDir, "output-dir", "", "output directory (default: <output_dir>/<pdf name>)")
	f.StringVar(&extractFlags.provider, "provider", "", "LLM provider for extraction (default: defaults.extraction_provider)")
	f.StringVar(&extractFlags.resolutionProvider, "resolution-provider", "", "LLM provider for detection and rewriting (default: defaults.resolution_provider)")
	f.StringVar(&extractFlags.model, "model", "", "override the extraction provider's model")
	f.IntVar(&extractFlags.dpi, "dpi", 0, "page render resolution (default: pipeline.dpi)")
	f.IntVar(&extractFlags.workers, "workers", 0, "concurrent rewrites (default: pipeline.resolution_workers)")
	f.StringVar(&extractFlags.policy, "policy", "", "ambiguous continuation policy: halt or isolate")
	f.StringVar(&extractFlags.detection, "detection", "", "reference detection: llm, pattern or llm+pattern")
	f.BoolVar(&extractFlags.noResolve, "no-resolve", false, "skip reference resolution")
	f.BoolVar(&extractFlags.noCheckpoint, "no-checkpoint", false, "do not save or resume run state")
	f.BoolVar(&extractFlags.resume, "resume", false, "resume a saved run without asking")
	f.BoolVar(&extractFlags.forceRestart, "force-restart", false, "discard a saved run without asking")
	f.BoolVar(&extractFlags.overrideFingerprint, "override-fingerprint", false, "resume even if the PDF differs from the saved run's")
	f.BoolVar(&extractFlags.keepPages, "keep-pages", false, "keep rendered page images after a successful run")
}

// applyExtractFlags returns a copy of cfg with command-line overrides.
func applyExtractFlags(cfg config.Config) (config.Config, error) {
	if extractFlags.provider != "" {
		cfg.Defaults.ExtractionProvider = extractFlags.provider
	}
	if extractFlags.resolutionProvider != "" {
		cfg.Defaults.ResolutionProvider = extractFlags.resolutionProvider
	}
	if extractFlags.dpi > 0 {
		cfg.Pipeline.DPI = extractFlags.dpi
	}
	if extractFlags.workers > 0 {
		cfg.Pipeline.ResolutionWorkers = extractFlags.workers
	}
	if extractFlags.policy != "" {
		cfg.Pipeline.AmbiguityPolicy = extractFlags.policy
	}
	if extractFlags.detection != "" {
		cfg.Pipeline.Detection = extractFlags.detection
	}
	if extractFlags.noResolve {
		cfg.Pipeline.ResolveReferences = false
	}
	if extractFlags.noCheckpoint {
		cfg.Pipeline.Checkpoints = false
	}
	return cfg, cfg.Validate()
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	started := time.Now()

	svcs, err := loadServices(cmd)
	if err != nil {
		return err
	}
	logger := svcs.Logger
	format, err := outputFormatFlag()
	if err != nil {
		return err
	}
	cfg, err := applyExtractFlags(*svcs.Config.Get())
	if err != nil {
		return err
	}
	decide, err := decideFunc(extractFlags.resume, extractFlags.forceRestart, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	src, err := document.Open(args[0])
	if err != nil {
		return err
	}
	outDir := extractFlags.outputDir
	if outDir == "" {
		outDir = filepath.Join(cfg.OutputDir, strings.TrimSuffix(src.Name, filepath.Ext(src.Name)))
	}
	out, err := home.NewOutput(outDir)
	if err != nil {
		return err
	}
	if err := out.EnsureExists(); err != nil {
		return err
	}
	logger = logger.With("source", src.Name)
	logger.Info("opened document", "pages", src.PageCount, "fingerprint", src.Fingerprint, "output", out.Path())

	// Provider changes in the config file take effect for the calls that
	// follow, through the registry's bound clients.
	if svcs.Config.ConfigFile() != "" {
		svcs.Config.OnChange(func(c *config.Config) {
			svcs.Registry.Reload(c.ToProviderRegistryConfig())
			logger.Info("configuration reloaded")
		})
		svcs.Config.WatchConfig()
	}

	var recorder *llmcall.Recorder
	if cfg.Pipeline.TraceLLMCalls {
		recorder, err = llmcall.NewRecorder(llmcall.RecorderConfig{Path: out.CallLogPath(), Logger: logger})
		if err != nil {
			return err
		}
		defer recorder.Close()
	}

	resolver := prompts.NewResolver(promptsDir(&cfg, svcs.Home), logger)
	llm.RegisterPrompts(resolver)

	extractClient, err := svcs.Registry.Bound(cfg.Defaults.ExtractionProvider)
	if err != nil {
		return fmt.Errorf("extraction provider: %w (is its API key set?)", err)
	}
	model := extractFlags.model
	if model == "" {
		if p, ok := cfg.GetLLMProvider(cfg.Defaults.ExtractionProvider); ok {
			model = p.Model
		}
	}
	extractor := llm.NewExtractor(llm.Config{
		Client:   extractClient,
		Model:    model,
		Prompts:  resolver,
		Recorder: recorder,
		Logger:   logger,
	})

	var refResolver *resolve.Resolver
	if cfg.Pipeline.ResolveReferences {
		refResolver, err = buildResolver(&cfg, svcs.Registry.Bound, resolver, recorder, logger)
		if err != nil {
			return err
		}
	}

	var mgr *checkpoint.Manager
	if cfg.Pipeline.Checkpoints {
		mgr = checkpoint.NewManager(out.CheckpointPath(), logger)
	}

	writer := export.NewWriter(out.Path(), logger)
	orch, err := pipeline.New(pipeline.Config{
		Extractor: extractor,
		Renderer: document.NewPdftoppmRenderer(document.PdftoppmConfig{
			DPI:      cfg.Pipeline.DPI,
			CacheDir: filepath.Join(out.DocumentPagesDir(src.Fingerprint), fmt.Sprintf("%ddpi", cfg.Pipeline.DPI)),
			Logger:   logger,
		}),
		Resolver:                 refResolver,
		Checkpoints:              mgr,
		Decide:                   decide,
		AllowFingerprintMismatch: extractFlags.overrideFingerprint,
		Policy:                   stitch.ParsePolicy(cfg.Pipeline.AmbiguityPolicy),
		Sink:                     writer,
		Recorder:                 recorder,
		Model:                    model,
		OnPage: func(page, total int) {
			logger.Info("page committed", "page", page, "total", total)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	run, err := orch.Run(ctx, src)
	if err != nil {
		return explainRunError(err, mgr)
	}

	var totals *llmcall.Totals
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Warn("failed to close call log", "error", err)
		}
		t, err := runTotals(out.CallLogPath(), run.RunID)
		if err != nil {
			logger.Warn("failed to read call log", "error", err)
		}
		totals = &t
	}
	if !extractFlags.keepPages {
		if err := out.ClearPages(); err != nil {
			logger.Warn("failed to clear page cache", "error", err)
		}
	}

	outputs := []string{writer.UnitsPath()}
	if run.ResolutionEnabled {
		outputs = append(outputs, writer.ResolutionPath())
	}
	return report.Write(cmd.OutOrStdout(), format, report.Summarize(run, totals, outputs, time.Since(started)))
}

// buildResolver wires the reference resolver to the resolution provider
// according to the configured detection mode.
func buildResolver(cfg *config.Config, lookup func(string) (providers.LLMClient, error), pr *prompts.Resolver, recorder *llmcall.Recorder, logger *slog.Logger) (*resolve.Resolver, error) {
	client, err := lookup(cfg.Defaults.ResolutionProvider)
	if err != nil {
		return nil, fmt.Errorf("resolution provider: %w (is its API key set?)", err)
	}
	llmCfg := llm.Config{
		Client:   client,
		Prompts:  pr,
		Recorder: recorder,
		Logger:   logger,
	}
	if p, ok := cfg.GetLLMProvider(cfg.Defaults.ResolutionProvider); ok {
		llmCfg.Model = p.Model
	}

	var detector resolve.Detector
	switch cfg.Pipeline.Detection {
	case config.DetectionPattern:
		detector = resolve.PatternDetector{}
	case config.DetectionLLMPattern:
		detector = resolve.Union(llm.NewDetector(llmCfg), resolve.PatternDetector{})
	default:
		detector = llm.NewDetector(llmCfg)
	}
	return resolve.New(resolve.Config{
		Detector: detector,
		Fallback: resolve.PatternDetector{},
		Rewriter: llm.NewRewriter(llmCfg),
		Workers:  cfg.Pipeline.ResolutionWorkers,
		Logger:   logger,
	})
}

// decideFunc answers the resume question from flags, or by asking on in.
func decideFunc(resume, restart bool, in io.Reader, out io.Writer) (pipeline.DecideFunc, error) {
	switch {
	case resume && restart:
		return nil, errors.New("--resume and --force-restart are mutually exclusive")
	case resume:
		return func(*checkpoint.RunState) (checkpoint.Decision, error) {
			return checkpoint.DecisionResume, nil
		}, nil
	case restart:
		return func(*checkpoint.RunState) (checkpoint.Decision, error) {
			return checkpoint.DecisionRestart, nil
		}, nil
	}
	return promptDecision(in, out), nil
}

// promptDecision asks whether to resume. An empty answer resumes.
func promptDecision(in io.Reader, out io.Writer) pipeline.DecideFunc {
	return func(existing *checkpoint.RunState) (checkpoint.Decision, error) {
		sum := checkpoint.Summarize(existing)
		fmt.Fprintf(out, "Found a saved run for %s: %s, %d units so far, saved %s\n",
			sum.Source, sum.Progress, sum.Units, sum.WrittenAt.Local().Format(time.DateTime))
		fmt.Fprint(out, "Resume it? [Y/n] ")

		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("failed to read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "", "y", "yes":
			return checkpoint.DecisionResume, nil
		case "n", "no":
			return checkpoint.DecisionRestart, nil
		default:
			return 0, fmt.Errorf("unrecognised answer %q", strings.TrimSpace(line))
		}
	}
}

// explainRunError adds what the user can do next to a failed run.
func explainRunError(err error, mgr *checkpoint.Manager) error {
	var cerr *stitch.ConsolidationError
	switch {
	case errors.As(err, &cerr) && mgr != nil:
		return fmt.Errorf("%w\nprogress is saved up to page %d; rerun with --policy isolate to keep the pending questions separate and flag them for review", err, cerr.Page-1)
	case errors.As(err, &cerr):
		return fmt.Errorf("%w\nrerun with --policy isolate to keep the pending questions separate and flag them for review", err)
	case errors.Is(err, checkpoint.ErrFingerprintMismatch):
		return fmt.Errorf("%w\nuse --force-restart to start over or --override-fingerprint to resume anyway", err)
	case errors.Is(err, context.Canceled) && mgr != nil:
		return fmt.Errorf("interrupted; state saved to %s, rerun the same command to resume: %w", mgr.Path(), err)
	}
	return err
}

// runTotals aggregates the calls the call log recorded for runID.
func runTotals(path, runID string) (llmcall.Totals, error) {
	calls, err := llmcall.ReadAll(path)
	var t llmcall.Totals
	for _, c := range calls {
		if c.RunID == runID {
			t.Add(c)
		}
	}
	return t, err
}
