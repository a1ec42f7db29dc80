package providers

import (
	"testing"

	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Agent.Provider = "openai"
	cfg.Agent.Model = "gpt-4o-mini"
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.DeepSeek.APIKey = "ds-test"
	cfg.Providers.DeepSeek.Model = "deepseek-chat"
	cfg.Providers.Models = map[string]string{
		"deepseek-chat":     "deepseek",
		"deepseek-reasoner": "deepseek",
	}
	return cfg
}

func TestRegistryBuildsConfiguredProviders(t *testing.T) {
	reg := NewRegistry(testConfig())

	names := reg.List()
	if len(names) != 2 || names[0] != "deepseek" || names[1] != "openai" {
		t.Fatalf("List() = %v", names)
	}

	p, err := reg.Get("deepseek")
	if err != nil {
		t.Fatalf("Get(deepseek): %v", err)
	}
	if p.DefaultModel() != "deepseek-chat" {
		t.Errorf("default model = %q", p.DefaultModel())
	}

	if _, err := reg.Get("groq"); err == nil {
		t.Error("Get(groq) should fail, no key configured")
	}
}

func TestRegistryRoutesByModelsTable(t *testing.T) {
	reg := NewRegistry(testConfig())

	p, err := reg.ForModel("deepseek-reasoner")
	if err != nil {
		t.Fatalf("ForModel: %v", err)
	}
	if p.Name() != "deepseek" {
		t.Errorf("provider = %q, want deepseek", p.Name())
	}

	// Unlisted model: default provider, no substring guessing.
	p, err = reg.ForModel("some-model-with-deepseek-in-the-name")
	if err != nil {
		t.Fatalf("ForModel fallback: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("fallback provider = %q, want openai", p.Name())
	}
}

func TestRegistryOllamaWithoutKey(t *testing.T) {
	cfg := config.Default()
	cfg.Providers.Ollama.APIBase = "http://localhost:11434/v1"
	cfg.Providers.Ollama.Model = "llama3.2"

	reg := NewRegistry(cfg)
	p, err := reg.Get("ollama")
	if err != nil {
		t.Fatalf("Get(ollama): %v", err)
	}
	if p.DefaultModel() != "llama3.2" {
		t.Errorf("default model = %q", p.DefaultModel())
	}
}

func TestRegistryReplace(t *testing.T) {
	reg := NewRegistry(testConfig())

	swapped := NewOpenAIProvider("openai", "sk-new", "http://example.test", "gpt-5")
	reg.Replace("openai", swapped)

	p, err := reg.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.DefaultModel() != "gpt-5" {
		t.Errorf("replacement not visible, model = %q", p.DefaultModel())
	}
}
