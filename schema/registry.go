// Package schema provides a registry for managing resources in the
// application
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds all resources exposed by an engine. It is safe for
// concurrent use; resources themselves are immutable once registered.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]*Resource
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[string]*Resource),
	}
}

// Register adds a resource. Registering the same name twice is an error.
func (r *Registry) Register(resource *Resource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[resource.Name]; exists {
		return fmt.Errorf("resource %s is already registered", resource.Name)
	}
	r.resources[resource.Name] = resource
	return nil
}

// Get retrieves a resource by name
func (r *Registry) Get(name string) (*Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resource, exists := r.resources[name]
	return resource, exists
}

// Names returns the sorted names of all registered resources
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
