package config

import (
	"fmt"
	"time"

	"github.com/jackzampolin/quire/internal/stitch"
)

// Config holds quire configuration.
// Loaded from ./config.yaml or $HOME/.quire/config.yaml.
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	// OutputDir is used when extract is given no --output-dir.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	// PromptsDir holds <key>.tmpl prompt overrides.
	PromptsDir string `mapstructure:"prompts_dir" yaml:"prompts_dir"`
}

// LLMProviderCfg configures an LLM provider.
type LLMProviderCfg struct {
	Type           string `mapstructure:"type" yaml:"type"`       // "openrouter", "openai"
	Model          string `mapstructure:"model" yaml:"model"`     // Model name
	APIKey         string `mapstructure:"api_key" yaml:"api_key"` // API key (supports ${ENV_VAR} syntax)
	BaseURL        string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per minute, 0 for none
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg selects the providers used by each stage.
type DefaultsCfg struct {
	ExtractionProvider string `mapstructure:"extraction_provider" yaml:"extraction_provider"`
	ResolutionProvider string `mapstructure:"resolution_provider" yaml:"resolution_provider"`
}

// Detection modes.
const (
	DetectionLLM        = "llm"
	DetectionPattern    = "pattern"
	DetectionLLMPattern = "llm+pattern"
)

// PipelineCfg tunes a run.
type PipelineCfg struct {
	DPI               int    `mapstructure:"dpi" yaml:"dpi"`
	ResolveReferences bool   `mapstructure:"resolve_references" yaml:"resolve_references"`
	Checkpoints       bool   `mapstructure:"checkpoints" yaml:"checkpoints"`
	ResolutionWorkers int    `mapstructure:"resolution_workers" yaml:"resolution_workers"`
	Detection         string `mapstructure:"detection" yaml:"detection"`               // llm, pattern, llm+pattern
	AmbiguityPolicy   string `mapstructure:"ambiguity_policy" yaml:"ambiguity_policy"` // halt, isolate
	TraceLLMCalls     bool   `mapstructure:"trace_llm_calls" yaml:"trace_llm_calls"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:           "openrouter",
				Model:          "google/gemini-2.5-flash",
				APIKey:         "${OPENROUTER_API_KEY}",
				RateLimit:      60,
				MaxRetries:     7,
				TimeoutSeconds: 180,
				Enabled:        true,
			},
			"openai": {
				Type:           "openai",
				Model:          "gpt-4.1",
				APIKey:         "${OPENAI_API_KEY}",
				MaxRetries:     3,
				TimeoutSeconds: 180,
				Enabled:        false,
			},
		},
		Defaults: DefaultsCfg{
			ExtractionProvider: "openrouter",
			ResolutionProvider: "openrouter",
		},
		Pipeline: PipelineCfg{
			DPI:               300,
			ResolveReferences: true,
			Checkpoints:       true,
			ResolutionWorkers: 4,
			Detection:         DetectionLLM,
			AmbiguityPolicy:   string(stitch.PolicyHalt),
			TraceLLMCalls:     true,
		},
		OutputDir: "output",
	}
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled LLM providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// Timeout returns the provider request timeout, 0 for the client default.
func (p LLMProviderCfg) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Pipeline.Detection {
	case DetectionLLM, DetectionPattern, DetectionLLMPattern:
	default:
		return fmt.Errorf("pipeline.detection must be llm, pattern or llm+pattern, got %q", c.Pipeline.Detection)
	}
	switch stitch.Policy(c.Pipeline.AmbiguityPolicy) {
	case stitch.PolicyHalt, stitch.PolicyIsolate:
	default:
		return fmt.Errorf("pipeline.ambiguity_policy must be halt or isolate, got %q", c.Pipeline.AmbiguityPolicy)
	}
	if c.Pipeline.DPI <= 0 {
		return fmt.Errorf("pipeline.dpi must be positive, got %d", c.Pipeline.DPI)
	}
	if c.Pipeline.ResolutionWorkers <= 0 {
		return fmt.Errorf("pipeline.resolution_workers must be positive, got %d", c.Pipeline.ResolutionWorkers)
	}
	for name, p := range c.LLMProviders {
		switch p.Type {
		case "openrouter", "openai":
		default:
			return fmt.Errorf("llm_providers.%s: unknown type %q", name, p.Type)
		}
	}
	return nil
}
