package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	or, ok := cfg.GetLLMProvider("openrouter")
	if !ok {
		t.Fatal("expected default openrouter provider")
	}
	if or.APIKey != "${OPENROUTER_API_KEY}" {
		t.Errorf("expected openrouter API key placeholder, got %s", or.APIKey)
	}
	if _, ok := cfg.EnabledLLMProviders()["openai"]; ok {
		t.Error("openai should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")
		if result := ResolveEnvVars("${TEST_API_KEY}"); result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		if result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}"); result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		if result := ResolveEnvVars("literal-value"); result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "or-key-123")
	cfg := &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {Type: "openrouter", APIKey: "${TEST_OPENROUTER_KEY}", RateLimit: 30, TimeoutSeconds: 90, Enabled: true},
			"literal":    {Type: "openai", APIKey: "direct-key"},
		},
	}
	reg := cfg.ToProviderRegistryConfig()
	if got := reg.LLMProviders["openrouter"]; got.APIKey != "or-key-123" || got.RateLimit != 30 || got.Timeout != 90*time.Second {
		t.Errorf("openrouter = %+v", got)
	}
	if got := reg.LLMProviders["literal"].APIKey; got != "direct-key" {
		t.Errorf("expected direct-key, got %s", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"detection", func(c *Config) { c.Pipeline.Detection = "guess" }},
		{"policy", func(c *Config) { c.Pipeline.AmbiguityPolicy = "merge-first" }},
		{"dpi", func(c *Config) { c.Pipeline.DPI = 0 }},
		{"workers", func(c *Config) { c.Pipeline.ResolutionWorkers = -1 }},
		{"provider type", func(c *Config) { c.LLMProviders["x"] = LLMProviderCfg{Type: "mistral"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", `
pipeline:
  dpi: 150
  detection: pattern
output_dir: /tmp/quire-out
`)
		mgr, err := NewManager(path)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		cfg := mgr.Get()
		if cfg.Pipeline.DPI != 150 || cfg.Pipeline.Detection != "pattern" {
			t.Errorf("pipeline = %+v", cfg.Pipeline)
		}
		if !cfg.Pipeline.ResolveReferences {
			t.Error("unset keys should keep their defaults")
		}
		if cfg.OutputDir != "/tmp/quire-out" {
			t.Errorf("output_dir = %s", cfg.OutputDir)
		}
		if mgr.ConfigFile() != path {
			t.Errorf("ConfigFile() = %s", mgr.ConfigFile())
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", "pipeline:\n  dpi: 150\n")
		t.Setenv("QUIRE_PIPELINE_DPI", "200")
		t.Setenv("QUIRE_PIPELINE_AMBIGUITY_POLICY", "isolate")
		mgr, err := NewManager(path)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if got := mgr.Get().Pipeline.DPI; got != 200 {
			t.Errorf("dpi = %d, want 200", got)
		}
		if got := mgr.Get().Pipeline.AmbiguityPolicy; got != "isolate" {
			t.Errorf("ambiguity_policy = %s", got)
		}
	})

	t.Run("json with comments", func(t *testing.T) {
		path := writeConfig(t, "config.jsonc", `{
	// lower resolution for a quick pass
	"pipeline": {"dpi": 100, "checkpoints": false,},
}`)
		mgr, err := NewManager(path)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if cfg := mgr.Get(); cfg.Pipeline.DPI != 100 || cfg.Pipeline.Checkpoints {
			t.Errorf("pipeline = %+v", cfg.Pipeline)
		}
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		path := writeConfig(t, "config.yaml", "pipeline:\n  detection: psychic\n")
		if _, err := NewManager(path); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("failed to load written default: %v", err)
	}
	cfg := mgr.Get()
	want := DefaultConfig()
	if cfg.Pipeline != want.Pipeline || cfg.Defaults != want.Defaults {
		t.Errorf("round trip mismatch: %+v", cfg)
	}
	if got := cfg.LLMProviders["openrouter"]; got != want.LLMProviders["openrouter"] {
		t.Errorf("openrouter = %+v", got)
	}
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "config.yaml", "output_dir: out\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "config.yaml", "output_dir: out\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = mgr.Get().Pipeline.DPI
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "config.yaml", "pipeline:\n  resolution_workers: 2\n")
	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if got := mgr.Get().Pipeline.ResolutionWorkers; got != 2 {
		t.Errorf("initial value mismatch: expected 2, got %d", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Int32
	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(int32(cfg.Pipeline.ResolutionWorkers))
	})

	mgr.WatchConfig()
	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("pipeline:\n  resolution_workers: 8\n"), 0o644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Pipeline.ResolutionWorkers; got != 8 {
		t.Errorf("config not updated: expected 8, got %d", got)
	}
	if v := lastValue.Load(); v != 8 {
		t.Errorf("callback received wrong value: expected 8, got %d", v)
	}
}
