package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
)

// defaultAPIBase maps registry names to their public endpoints. A configured
// api_base always wins.
var defaultAPIBase = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"zhipu":      "https://open.bigmodel.cn/api/paas/v4",
	"ollama":     "http://localhost:11434/v1",
}

// registryNames is the construction order; it only affects List output.
var registryNames = []string{"openai", "openrouter", "deepseek", "groq", "zhipu", "ollama"}

// Registry holds the constructed providers, keyed by name. Replace swaps a
// provider atomically so in-flight calls finish on the instance they started
// with.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	cfg       *config.Config
}

// NewRegistry builds a registry from every configured backend. Backends
// without credentials are skipped; Ollama needs no key and is registered
// whenever its block is non-empty.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		cfg:       cfg,
	}
	for _, name := range registryNames {
		pc, _ := cfg.ProviderByName(name)
		if pc.APIKey == "" && !(name == "ollama" && (pc.APIBase != "" || pc.Model != "")) {
			continue
		}
		r.providers[name] = buildProvider(cfg, name, pc)
	}
	return r
}

func buildProvider(cfg *config.Config, name string, pc config.ProviderConfig) Provider {
	apiBase := pc.APIBase
	if apiBase == "" {
		apiBase = defaultAPIBase[name]
	}
	model := pc.Model
	if model == "" {
		model = cfg.Agent.Model
	}
	return NewOpenAIProvider(name, pc.APIKey, apiBase, model)
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// ForModel routes a model name through the explicit models table and returns
// the matching provider. Models absent from the table fall back to the
// default provider; there is no guessing from the model string.
func (r *Registry) ForModel(model string) (Provider, error) {
	return r.Get(r.cfg.ResolveProvider(model))
}

// Replace installs a provider under name, overwriting any previous instance.
func (r *Registry) Replace(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// List returns the registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
