//go:build linux || darwin

package reactor

import (
	"errors"
	"slices"
	"sync"
)

// initialFDs is the initial size of the fd-indexed callback table.
const initialFDs = 1024

// maxFDLimit is the maximum fd value supported by the callback table.
const maxFDLimit = 100000000

// IOEvents is a set of readiness conditions on a file descriptor.
type IOEvents uint32

const (
	// EventRead indicates the file descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the file descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the file descriptor.
	EventError
	// EventHangup indicates the peer closed its end of the connection.
	EventHangup
)

// Poller errors.
var (
	ErrFDOutOfRange        = errors.New("reactor: fd out of range")
	ErrFDAlreadyRegistered = errors.New("reactor: fd already registered")
	ErrFDNotRegistered     = errors.New("reactor: fd not registered")
	ErrPollerClosed        = errors.New("reactor: poller closed")
)

// IOCallback receives the readiness events for the descriptor it was bound
// to. It always runs on the loop goroutine.
type IOCallback func(IOEvents)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// fdTable is the fd-indexed slot table shared by the platform pollers. Each
// slot carries the closure bound at registration, so dispatch never needs to
// recover an owner from the descriptor.
//
// Descriptors removed while a batch is being dispatched are recorded as
// stale, so that an event already fetched for a closed (and possibly reused)
// fd is never delivered to the new registration.
type fdTable struct {
	fds   []fdInfo
	stale []int
	mu    sync.RWMutex
}

func (t *fdTable) insert(fd int, events IOEvents, cb IOCallback) error {
	if fd < 0 || fd >= maxFDLimit {
		return ErrFDOutOfRange
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd >= len(t.fds) {
		newSize := max(fd*2+1, initialFDs)
		if newSize > maxFDLimit {
			newSize = maxFDLimit
		}
		newFds := make([]fdInfo, newSize)
		copy(newFds, t.fds)
		t.fds = newFds
	}
	if t.fds[fd].active {
		return ErrFDAlreadyRegistered
	}
	t.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	return nil
}

// remove clears the slot for fd, returning the events it was registered for.
func (t *fdTable) remove(fd int) (IOEvents, error) {
	if fd < 0 {
		return 0, ErrFDOutOfRange
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd >= len(t.fds) || !t.fds[fd].active {
		return 0, ErrFDNotRegistered
	}
	events := t.fds[fd].events
	t.fds[fd] = fdInfo{}
	t.stale = append(t.stale, fd)
	return events, nil
}

// update replaces the events for fd, returning the previous set.
func (t *fdTable) update(fd int, events IOEvents) (IOEvents, error) {
	if fd < 0 {
		return 0, ErrFDOutOfRange
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd >= len(t.fds) || !t.fds[fd].active {
		return 0, ErrFDNotRegistered
	}
	old := t.fds[fd].events
	t.fds[fd].events = events
	return old, nil
}

func (t *fdTable) lookup(fd int) (fdInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if fd < 0 || fd >= len(t.fds) || slices.Contains(t.stale, fd) {
		return fdInfo{}, false
	}
	info := t.fds[fd]
	return info, info.active && info.callback != nil
}

// resetStale is called before each wait.
func (t *fdTable) resetStale() {
	t.mu.Lock()
	t.stale = t.stale[:0]
	t.mu.Unlock()
}
