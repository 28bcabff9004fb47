// Package report formats run summaries and saved-state status for the CLI.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
)

// ParseFormat converts a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case "", OutputFormatText:
		return OutputFormatText, nil
	case OutputFormatYAML, OutputFormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format: %s (want text, yaml or json)", s)
	}
}

// Renderer is a value with a human-readable form.
type Renderer interface {
	Render() string
}

// Write writes data to w in the specified format. Text output requires
// data to implement Renderer.
func Write(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(data)
	case OutputFormatText:
		r, ok := data.(Renderer)
		if !ok {
			return fmt.Errorf("%T has no text form", data)
		}
		_, err := fmt.Fprintln(w, r.Render())
		return err
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}
