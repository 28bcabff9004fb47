package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultDirName is the default name for the quire home directory.
	DefaultDirName = ".quire"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// PromptsDirName holds user prompt overrides.
	PromptsDirName = "prompts"

	// CheckpointFileName is the run state kept in an output directory.
	CheckpointFileName = ".checkpoint.json"

	// CallLogFileName is the LLM call trace kept in an output directory.
	CallLogFileName = "llm_calls.jsonl"

	// PagesDirName caches rendered page images in an output directory.
	PagesDirName = "pages"
)

// Dir represents the quire home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.quire).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// PromptsPath returns the default prompt override directory.
func (d *Dir) PromptsPath() string {
	return filepath.Join(d.path, PromptsDirName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.PromptsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create prompts directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// Output is the layout of one extraction's output directory.
type Output struct {
	path string
}

// NewOutput returns the layout rooted at path, made absolute.
func NewOutput(path string) (*Output, error) {
	if path == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}
	return &Output{path: abs}, nil
}

// Path returns the output directory.
func (o *Output) Path() string {
	return o.path
}

// CheckpointPath returns the run state file.
func (o *Output) CheckpointPath() string {
	return filepath.Join(o.path, CheckpointFileName)
}

// CallLogPath returns the LLM call trace file.
func (o *Output) CallLogPath() string {
	return filepath.Join(o.path, CallLogFileName)
}

// PagesDir returns the rendered page cache.
func (o *Output) PagesDir() string {
	return filepath.Join(o.path, PagesDirName)
}

// DocumentPagesDir returns the page cache for one document. Caches are
// keyed by fingerprint so a reused output directory never serves images
// rendered from a different file.
func (o *Output) DocumentPagesDir(fingerprint string) string {
	key := strings.TrimPrefix(fingerprint, "sha256:")
	if len(key) > 16 {
		key = key[:16]
	}
	if key == "" {
		key = "unknown"
	}
	return filepath.Join(o.PagesDir(), key)
}

// EnsureExists creates the output directory and its page cache.
func (o *Output) EnsureExists() error {
	if err := os.MkdirAll(o.PagesDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// ClearPages removes every cached page image.
func (o *Output) ClearPages() error {
	if err := os.RemoveAll(o.PagesDir()); err != nil {
		return fmt.Errorf("failed to clear page cache: %w", err)
	}
	return nil
}
