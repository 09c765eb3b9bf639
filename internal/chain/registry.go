package chain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Entry binds a chain's metadata to the scanner that serves it.
type Entry struct {
	Meta    Meta
	Scanner Scanner
}

// Registry maps chain ids to entries. Lookups are case-insensitive.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

func (r *Registry) Register(meta Meta, sc Scanner) error {
	id := strings.ToUpper(strings.TrimSpace(meta.ID))
	if id == "" {
		return fmt.Errorf("chain: empty id")
	}
	if sc == nil {
		return fmt.Errorf("chain %s: nil scanner", id)
	}
	meta.ID = id
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[id]; dup {
		return fmt.Errorf("chain %s: already registered", id)
	}
	r.entries[id] = Entry{Meta: meta, Scanner: sc}
	return nil
}

func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToUpper(id)]
	return e, ok
}

func (r *Registry) Meta(id string) (Meta, bool) {
	e, ok := r.Get(id)
	return e.Meta, ok
}

// IDs returns registered chain ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
