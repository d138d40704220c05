package database

import (
	"context"
	"sort"
	"sync"
)

// Factory opens a connection pool for cfg.
type Factory func(ctx context.Context, cfg *Config) (DB, error)

var (
	registryMu sync.RWMutex
	registry   = map[Driver]Factory{}
)

// Register makes a driver available under each of the given names.
// Driver packages call it from init().
func Register(f Factory, names ...Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, n := range names {
		registry[n] = f
	}
}

// Lookup returns the factory registered under name.
func Lookup(name Driver) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Drivers lists the registered driver names in sorted order.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}
