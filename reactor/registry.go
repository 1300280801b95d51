package reactor

import (
	"slices"
	"sync"
)

// registry tracks every handle bound to a loop, from Open until its close
// completion has run.
type registry struct {
	data   map[uint64]Resource
	nextID uint64
	mu     sync.RWMutex
}

func newRegistry() *registry {
	return &registry{
		data:   make(map[uint64]Resource),
		nextID: 1, // 0 is the "unbound" marker
	}
}

// add registers res and returns its handle ID.
func (r *registry) add(res Resource) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.data[id] = res
	return id
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.data, id)
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// snapshot returns the registered resources ordered by ID, i.e. by the
// order in which they were opened.
func (r *registry) snapshot() []Resource {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.data))
	for id := range r.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Resource, len(ids))
	for i, id := range ids {
		out[i] = r.data[id]
	}
	r.mu.RUnlock()
	return out
}
