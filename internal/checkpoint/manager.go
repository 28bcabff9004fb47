package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"
)

// Manager reads and writes the state file.
type Manager struct {
	path   string
	logger *slog.Logger

	// replaceable in tests
	writeFile func(path string, r io.Reader) error
	now       func() time.Time
}

// NewManager creates a manager for the state file at path.
func NewManager(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		path:      path,
		logger:    logger,
		writeFile: atomic.WriteFile,
		now:       time.Now,
	}
}

// Path returns the state file location.
func (m *Manager) Path() string {
	return m.path
}

// Save validates state, stamps WrittenAt and atomically replaces the state
// file.
func (m *Manager) Save(state *RunState) error {
	state.Version = StateVersion
	state.WrittenAt = m.now().UTC()
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid run state: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := m.writeFile(m.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	m.logger.Debug("saved run state", "path", m.path, "page", state.LastCommittedPage, "total", state.TotalPages)
	return nil
}

// Read loads the state file. It returns an error wrapping fs.ErrNotExist
// when there is no file and ErrCorruptState when the file is unusable.
func (m *Manager) Read() (*RunState, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}

	// The state file is meant to be inspected by hand; tolerate comments
	// and trailing commas left behind by an editor.
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	var state RunState
	if err := json.Unmarshal(standardized, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return &state, nil
}

// Load returns the saved state, or nil when there is none. A corrupt file is
// treated as absent and logged.
func (m *Manager) Load() (*RunState, error) {
	state, err := m.Read()
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case errors.Is(err, ErrCorruptState):
		m.logger.Warn("ignoring unusable run state", "path", m.path, "error", err)
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}
}

// Clear deletes the state file. A missing file is not an error.
func (m *Manager) Clear() error {
	if err := os.Remove(m.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear run state: %w", err)
	}
	m.logger.Debug("cleared run state", "path", m.path)
	return nil
}
