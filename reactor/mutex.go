package reactor

import (
	"sync"
)

// Mutex guards the small critical sections shared between producer
// goroutines and the loop. It is not re-entrant: a goroutine holding it must
// not call Lock again before Unlock. The zero value is ready to use.
type Mutex struct {
	mu sync.Mutex
}

// Lock acquires the mutex.
func (m *Mutex) Lock() {
	m.mu.Lock()
}

// Unlock releases the mutex.
func (m *Mutex) Unlock() {
	m.mu.Unlock()
}

// Do runs fn with the mutex held, releasing it even if fn panics.
func (m *Mutex) Do(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}
