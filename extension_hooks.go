package connector

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-psd2-connector/core"
)

// ProviderPack groups bank adapters that ship together, e.g. the brands of a
// banking group deployed behind one connector.
type ProviderPack struct {
	Name      string
	Providers map[string]core.ProviderService
}

// ExtensionHooks collects provider packs contributed by embedding
// applications before the service starts.
type ExtensionHooks struct {
	mu    sync.RWMutex
	packs map[string]ProviderPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		packs: map[string]ProviderPack{},
	}
}

func (h *ExtensionHooks) RegisterProviderPack(pack ProviderPack) error {
	if h == nil {
		return fmt.Errorf("connector: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("connector: provider pack name is required")
	}
	if len(pack.Providers) == 0 {
		return fmt.Errorf("connector: provider pack %q has no providers", name)
	}
	for code, provider := range pack.Providers {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("connector: provider pack %q has a blank provider code", name)
		}
		if provider == nil {
			return fmt.Errorf("connector: provider pack %q has a nil provider for %q", name, code)
		}
	}

	normalized := ProviderPack{
		Name:      name,
		Providers: make(map[string]core.ProviderService, len(pack.Providers)),
	}
	for code, provider := range pack.Providers {
		normalized.Providers[strings.TrimSpace(code)] = provider
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.packs[name]; exists {
		return fmt.Errorf("connector: provider pack %q already registered", name)
	}
	h.packs[name] = normalized
	return nil
}

// ProviderPacks returns the registered packs sorted by name.
func (h *ExtensionHooks) ProviderPacks() []ProviderPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ProviderPack, 0, len(h.packs))
	for _, pack := range h.packs {
		out = append(out, pack)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Apply registers every pack's providers into the registry. A provider code
// claimed by two packs surfaces as the registry's duplicate error.
func (h *ExtensionHooks) Apply(registry core.Registry) error {
	if h == nil {
		return fmt.Errorf("connector: extension hooks are nil")
	}
	if registry == nil {
		return fmt.Errorf("connector: provider registry is required")
	}
	for _, pack := range h.ProviderPacks() {
		codes := make([]string, 0, len(pack.Providers))
		for code := range pack.Providers {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			if err := registry.Register(code, pack.Providers[code]); err != nil {
				return fmt.Errorf("connector: pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}
