package router

import (
	"fmt"

	"github.com/allaspectsdev/modelmux/internal/backend"
)

// Entry pairs a backend's descriptor with the handle used to call it.
type Entry struct {
	Descriptor Descriptor
	Backend    backend.Backend
}

// Registry is the immutable, ordered catalogue of backends. Declaration
// order is preserved and used as the selection tie-break.
type Registry struct {
	entries []Entry
	index   map[string]int
}

// NewRegistry builds a Registry from entries in declaration order. It
// rejects an empty list, duplicate ids, invalid descriptors and missing
// backend handles.
func NewRegistry(entries ...Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("registry: at least one backend is required")
	}

	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if err := e.Descriptor.validate(); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		if e.Backend == nil {
			return nil, fmt.Errorf("registry: backend %q has no handle", e.Descriptor.ID)
		}
		if _, dup := r.index[e.Descriptor.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate backend id %q", e.Descriptor.ID)
		}
		r.index[e.Descriptor.ID] = len(r.entries)
		r.entries = append(r.entries, Entry{Descriptor: e.Descriptor.clone(), Backend: e.Backend})
	}
	return r, nil
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Lookup returns the entry registered under id.
func (r *Registry) Lookup(id string) (Entry, bool) {
	i, ok := r.index[id]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Descriptors returns copies of every descriptor in declaration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor.clone()
	}
	return out
}

// IDs returns the backend ids in declaration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Descriptor.ID
	}
	return out
}
