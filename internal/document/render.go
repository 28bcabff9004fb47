package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
)

// DefaultDPI is the rendering resolution used when none is configured.
const DefaultDPI = 300

// Renderer turns one page of a source into a PNG image.
type Renderer interface {
	Render(ctx context.Context, src *Source, page int) ([]byte, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, src *Source, page int) ([]byte, error)

func (f RendererFunc) Render(ctx context.Context, src *Source, page int) ([]byte, error) {
	return f(ctx, src, page)
}

// PdftoppmConfig configures a PdftoppmRenderer.
type PdftoppmConfig struct {
	DPI int
	// CacheDir, when set, keeps rendered pages as page_NNNN.png so a resumed
	// run does not render them again.
	CacheDir string
	Attempts uint          // default 3
	Delay    time.Duration // default 500ms
	Logger   *slog.Logger

	// Command overrides the pdftoppm binary.
	Command string
}

// PdftoppmRenderer renders pages with pdftoppm (poppler-utils).
type PdftoppmRenderer struct {
	dpi      int
	cacheDir string
	attempts uint
	delay    time.Duration
	command  string
	logger   *slog.Logger
}

// NewPdftoppmRenderer creates a renderer.
func NewPdftoppmRenderer(cfg PdftoppmConfig) *PdftoppmRenderer {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 500 * time.Millisecond
	}
	if cfg.Command == "" {
		cfg.Command = "pdftoppm"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PdftoppmRenderer{
		dpi:      cfg.DPI,
		cacheDir: cfg.CacheDir,
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		command:  cfg.Command,
		logger:   cfg.Logger,
	}
}

// CachePath returns where a rendered page is kept.
func (r *PdftoppmRenderer) CachePath(page int) string {
	return filepath.Join(r.cacheDir, fmt.Sprintf("page_%04d.png", page))
}

// Render returns the PNG for page, rendering it if it is not cached.
func (r *PdftoppmRenderer) Render(ctx context.Context, src *Source, page int) ([]byte, error) {
	if page < 1 || page > src.PageCount {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, src.PageCount)
	}
	if r.cacheDir != "" {
		if data, err := os.ReadFile(r.CachePath(page)); err == nil && len(data) > 0 {
			return data, nil
		}
	}

	var data []byte
	err := retry.Do(
		func() error {
			var err error
			data, err = r.renderOnce(ctx, src.Path, page)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, exec.ErrNotFound) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("page render failed, retrying", "page", page, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", page, err)
	}

	if r.cacheDir != "" {
		if err := os.MkdirAll(r.cacheDir, 0o755); err != nil {
			r.logger.Warn("failed to create page cache", "dir", r.cacheDir, "error", err)
		} else if err := os.WriteFile(r.CachePath(page), data, 0o644); err != nil {
			r.logger.Warn("failed to cache page image", "page", page, "error", err)
		}
	}
	return data, nil
}

func (r *PdftoppmRenderer) renderOnce(ctx context.Context, pdfPath string, page int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "quire-page-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// -singlefile writes <prefix>.png with no page suffix
	prefix := filepath.Join(tmpDir, "page")
	pageStr := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, r.command,
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", strconv.Itoa(r.dpi),
		"-singlefile",
		pdfPath,
		prefix,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	data, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}
	return data, nil
}
