package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderRegistry keys bank adapters by provider code so one connector
// deployment can serve several ASPSPs.
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]ProviderService
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{providers: make(map[string]ProviderService)}
}

func (r *ProviderRegistry) Register(code string, provider ProviderService) error {
	if provider == nil {
		return fmt.Errorf("core: provider is nil")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("core: provider code is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[code]; exists {
		return fmt.Errorf("core: provider already registered: %s", code)
	}
	r.providers[code] = provider
	return nil
}

func (r *ProviderRegistry) Get(code string) (ProviderService, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, false
	}
	r.mu.RLock()
	provider, ok := r.providers[code]
	r.mu.RUnlock()
	return provider, ok
}

func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	codes := make([]string, 0, len(r.providers))
	for code := range r.providers {
		codes = append(codes, code)
	}
	r.mu.RUnlock()
	sort.Strings(codes)
	return codes
}
