package hypervisor

import (
	"fmt"
	"sort"
	"sync"

	"nathanbeddoewebdev/vpsd/internal/services/auth"
	"nathanbeddoewebdev/vpsd/internal/util"
)

// Factory builds a task client for a provider using stored credentials.
// The returned client may additionally implement ActionClient and
// UsageClient.
type Factory func(store auth.Store) (TaskClient, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
)

// Register makes a provider available under name. It panics on an empty
// name, a nil factory or a duplicate registration.
func Register(name string, factory Factory) {
	normalizedName := util.NormalizeKey(name)
	if normalizedName == "" {
		panic("hypervisor: empty provider name")
	}
	if factory == nil {
		panic("hypervisor: nil factory")
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[normalizedName]; exists {
		panic(fmt.Sprintf("hypervisor: provider %q already registered", name))
	}
	registry[normalizedName] = factory
}

// Get builds the client for the named provider.
func Get(name string, store auth.Store) (TaskClient, error) {
	normalizedName := util.NormalizeKey(name)
	mu.RLock()
	factory, ok := registry[normalizedName]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("hypervisor: unknown provider %q", name)
	}
	return factory(store)
}

// Reset clears the registry. Intended for use in tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = map[string]Factory{}
}

// List returns the registered provider names in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
