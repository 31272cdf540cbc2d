package models

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cascademl/cascade/dist"
)

// BuilderFunc constructs a generator variant on the given replica.
type BuilderFunc func(ctx dist.Context) (Generator, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]BuilderFunc)
)

// Register makes a generator variant selectable by name. Concrete runs
// register their backbone sizes at init time; re-registering a name panics
// because it indicates two runs fighting over the same selector.
func Register(variant string, fn BuilderFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[variant]; exists {
		panic(fmt.Sprintf("models: variant %q registered twice", variant))
	}
	registry[variant] = fn
}

// Build constructs the named variant. An unknown selector is a config-time
// failure and names the variants that do exist.
func Build(variant string, ctx dist.Context) (Generator, error) {
	registryMu.RLock()
	fn, ok := registry[variant]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model variant %q (registered: %v)", variant, Variants())
	}
	return fn(ctx)
}

// Variants lists the registered selector names in sorted order.
func Variants() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
