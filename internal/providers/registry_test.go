package providers

import (
	"context"
	"testing"
)

func TestRegistry_Reload(t *testing.T) {
	cfg := RegistryConfig{LLMProviders: map[string]LLMProviderConfig{
		"openrouter": {Type: OpenRouterName, Model: "google/gemini-2.5-flash", APIKey: "k1", Enabled: true},
		"openai":     {Type: OpenAIName, Model: "gpt-4.1", APIKey: "k2", Enabled: true, RateLimit: 60},
		"disabled":   {Type: OpenRouterName, APIKey: "k3", Enabled: false},
		"nokey":      {Type: OpenRouterName, Enabled: true},
		"bogus":      {Type: "carrier-pigeon", APIKey: "k4", Enabled: true},
	}}

	r := NewRegistryFromConfig(cfg, nil)
	names := r.List()
	if len(names) != 2 || names[0] != "openai" || names[1] != "openrouter" {
		t.Fatalf("List() = %v", names)
	}

	client, err := r.Get("openai")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, ok := client.(*LimitedClient); !ok {
		t.Errorf("rate-limited provider should be wrapped, got %T", client)
	}
	if _, err := r.Get("disabled"); err == nil {
		t.Error("disabled provider should not be registered")
	}

	before, _ := r.Get("openrouter")
	r.Reload(cfg)
	after, _ := r.Get("openrouter")
	if before != after {
		t.Error("unchanged provider should not be recreated")
	}

	cfg.LLMProviders["openrouter"] = LLMProviderConfig{Type: OpenRouterName, Model: "other/model", APIKey: "k1", Enabled: true}
	delete(cfg.LLMProviders, "openai")
	r.Reload(cfg)
	changed, _ := r.Get("openrouter")
	if changed == before {
		t.Error("changed provider should be recreated")
	}
	if _, err := r.Get("openai"); err == nil {
		t.Error("removed provider should be unregistered")
	}
}

func TestRegistry_ManualRegistrationSurvivesReload(t *testing.T) {
	r := NewRegistry(nil)
	mock := NewMockClient()
	r.Register("mock", mock)
	r.Reload(RegistryConfig{})

	got, err := r.Get("mock")
	if err != nil || got != mock {
		t.Fatalf("Get(mock) = %v, %v", got, err)
	}
}

func TestRegistry_Bound(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Bound("missing"); err == nil {
		t.Fatal("expected error for unknown provider")
	}

	first := NewMockClient()
	first.ResponseText = "first"
	r.Register("main", first)
	bound, err := r.Bound("main")
	if err != nil {
		t.Fatalf("Bound() error = %v", err)
	}
	if bound.Name() != "main" {
		t.Errorf("Name() = %s", bound.Name())
	}

	second := NewMockClient()
	second.ResponseText = "second"
	r.Register("main", second)

	res, err := bound.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Content != "second" {
		t.Errorf("bound client should follow the registry, got %q", res.Content)
	}
	if first.RequestCount() != 0 || second.RequestCount() != 1 {
		t.Errorf("requests: first=%d second=%d", first.RequestCount(), second.RequestCount())
	}
}
