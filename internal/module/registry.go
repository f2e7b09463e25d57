package module

import (
	"sort"
	"sync"
)

// Registry owns the set of live modules and hands out the Resolver closure.
type Registry struct {
	mu   sync.RWMutex
	mods map[string]Module
}

func NewRegistry() *Registry {
	return &Registry{mods: make(map[string]Module)}
}

func (r *Registry) Register(m Module) {
	r.mu.Lock()
	r.mods[m.ID()] = m
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (Module, bool) {
	r.mu.RLock()
	m, ok := r.mods[id]
	r.mu.RUnlock()
	return m, ok
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.mods))
	for id := range r.mods {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry) Resolver() Resolver {
	return r.Get
}
