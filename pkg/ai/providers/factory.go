package providers

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a provider from its configuration.
type Constructor func(cfg *ProviderConfig) (Provider, error)

// Factory maps provider names to constructors.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

var (
	defaultFactory *Factory
	factoryOnce    sync.Once
)

// GetFactory returns the process-wide factory with the built-in providers
// registered.
func GetFactory() *Factory {
	factoryOnce.Do(func() {
		defaultFactory = &Factory{constructors: make(map[string]Constructor)}
		defaultFactory.Register("gemini", NewGeminiProvider)
		defaultFactory.Register("openai", NewOpenAIProvider)
		defaultFactory.Register("ollama", NewOllamaProvider)
	})
	return defaultFactory
}

// Register adds or replaces a constructor. Mainly useful for tests.
func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[name] = ctor
}

// Create builds the provider named in cfg.Provider.
func (f *Factory) Create(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider config is nil")
	}
	f.mu.RLock()
	ctor, ok := f.constructors[cfg.Provider]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %v)", cfg.Provider, f.ListProviders())
	}
	return ctor(cfg)
}

// ListProviders returns the registered provider names, sorted.
func (f *Factory) ListProviders() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
