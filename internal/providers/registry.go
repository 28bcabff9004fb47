package providers

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Registry holds the configured LLM clients by name. It supports
// config-driven instantiation and hot reload, and is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]registryEntry
	logger  *slog.Logger
}

type registryEntry struct {
	client LLMClient
	cfg    LLMProviderConfig
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	LLMProviders map[string]LLMProviderConfig
}

// LLMProviderConfig mirrors config.LLMProviderCfg with the API key resolved.
type LLMProviderConfig struct {
	Type       string // "openrouter", "openai"
	Model      string
	APIKey     string
	BaseURL    string
	RateLimit  int // requests per minute; 0 disables client-side limiting
	MaxRetries int
	Timeout    time.Duration
	Enabled    bool
}

// NewRegistry creates a new empty provider registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients: make(map[string]registryEntry),
		logger:  logger,
	}
}

// NewRegistryFromConfig creates a registry with every enabled provider that
// has an API key.
func NewRegistryFromConfig(cfg RegistryConfig, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Reload(cfg)
	return r
}

// Register adds or replaces a client by name.
func (r *Registry) Register(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = registryEntry{client: client}
	r.logger.Info("registered LLM client", "name", name)
}

// Get returns a client by name.
func (r *Registry) Get(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("LLM provider not configured: %s", name)
	}
	return entry.client, nil
}

// List returns registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Reload reconciles the registry with cfg: disabled or keyless providers are
// removed, new ones are created, and changed ones are recreated.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		existing, hasExisting := r.clients[name]
		if hasExisting && existing.cfg == provCfg {
			want[name] = true
			continue
		}
		client, err := createLLMClient(provCfg)
		if err != nil {
			r.logger.Warn("skipping LLM provider", "name", name, "error", err)
			continue
		}
		want[name] = true
		r.clients[name] = registryEntry{client: client, cfg: provCfg}
		if hasExisting {
			r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type, "model", provCfg.Model)
		} else {
			r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type, "model", provCfg.Model)
		}
	}

	for name, entry := range r.clients {
		// Clients registered by hand have no config and are left alone.
		if entry.cfg.Type == "" || want[name] {
			continue
		}
		delete(r.clients, name)
		r.logger.Info("unregistered LLM client", "name", name)
	}
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMProviderConfig) (LLMClient, error) {
	var client LLMClient
	switch cfg.Type {
	case OpenRouterName:
		client = NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			Timeout:      cfg.Timeout,
		})
	case OpenAIName:
		client = NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			Timeout:      cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	if cfg.RateLimit > 0 {
		client = NewLimitedClient(client, cfg.RateLimit)
	}
	return client, nil
}

// Bound returns a client that looks name up on every call, so a Reload
// that replaces the provider takes effect for callers already holding it.
func (r *Registry) Bound(name string) (LLMClient, error) {
	if _, err := r.Get(name); err != nil {
		return nil, err
	}
	return &boundClient{registry: r, name: name}, nil
}

type boundClient struct {
	registry *Registry
	name     string
}

func (c *boundClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	client, err := c.registry.Get(c.name)
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, req)
}

func (c *boundClient) Name() string { return c.name }
