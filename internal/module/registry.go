package module

import (
	"sort"
	"sync"
)

// Loaded is an imported module and its lifecycle flags.
type Loaded struct {
	Source
	Module     Module
	Enabled    bool
	Persistent bool
}

// Registry tracks imported modules by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Loaded
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*Loaded{}}
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (*Loaded, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	return entry, ok
}

// Put stores entry under its source name, replacing any previous import.
func (r *Registry) Put(entry *Loaded) {
	if entry == nil || entry.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.Name] = entry
}

// Delete forgets name.
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Names returns every imported module name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enabled returns the names of enabled modules, sorted.
func (r *Registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, entry := range r.entries {
		if entry.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the number of imported modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
