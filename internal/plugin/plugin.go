// Package plugin holds the provider plugins that contribute resource kinds.
package plugin

import (
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/sweeper/pkg/resource"
)

// Plugin is the interface every provider plugin implements.
// Keep it simple: Name + Descriptors.
type Plugin interface {
	// Name returns the plugin identifier (e.g., "aws")
	Name() string

	// Descriptors returns the resource kinds the plugin can sweep.
	Descriptors() []resource.Descriptor
}

// Registry holds registered plugins.
var (
	registry = make(map[string]Plugin)
	mu       sync.RWMutex
)

// Register adds a plugin to the registry, replacing one with the same name.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

// Get returns a plugin by name.
func Get(name string) (Plugin, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// All returns all registered plugins, sorted by name.
func All() []Plugin {
	mu.RLock()
	defer mu.RUnlock()
	plugins := make([]Plugin, 0, len(registry))
	for _, p := range registry {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].Name() < plugins[j].Name() })
	return plugins
}

// Names returns all registered plugin names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all plugins from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Plugin)
}

// Kinds builds a resource registry from every registered plugin. A kind
// contributed twice, or an invalid descriptor, is a setup error.
func Kinds() (*resource.Registry, error) {
	reg := resource.NewRegistry()
	for _, p := range All() {
		if err := reg.RegisterAll(p.Descriptors()...); err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
	}
	return reg, nil
}
