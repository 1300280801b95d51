package reactor

import (
	"sync/atomic"
)

// LoopState represents the current state of the loop.
//
// State machine:
//
//	StateIdle → StateRunning          [Run()]
//	StateRunning → StateSleeping      [poll() via CAS]
//	StateSleeping → StateRunning      [poll() wake via CAS]
//	StateRunning → StateStopping      [Stop(), ctx done]
//	StateSleeping → StateStopping     [ctx done]
//	StateStopping → StateIdle         [Run() returns]
//	StateRunning → StateIdle          [Run() returns, RunOnce/RunNoWait/no work]
//	StateIdle → StateClosed           [Close()]
//	StateClosed → (terminal)
//
// A loop may be run again after Run returns, but only from the goroutine
// that called Run first.
type LoopState uint64

const (
	// StateIdle indicates the loop is not running, either because it was
	// never started or because Run returned.
	StateIdle LoopState = iota
	// StateRunning indicates the loop is actively dispatching.
	StateRunning
	// StateSleeping indicates the loop is blocked in poll waiting for events.
	StateSleeping
	// StateStopping indicates a stop was requested and the current
	// iteration is completing.
	StateStopping
	// StateClosed indicates the loop has released its poller. Terminal.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateStopping:
		return "Stopping"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state cell with cache-line padding.
type fastState struct { // betteralign:ignore
	_ [sizeOfCacheLine]byte     //nolint:unused
	v atomic.Uint64             // state value
	_ [sizeOfCacheLine - 8]byte //nolint:unused
}

// Load returns the current state atomically.
func (s *fastState) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state, without transition validation.
// Only use for irreversible transitions.
func (s *fastState) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsRunning returns true if the loop is running, sleeping or stopping.
func (s *fastState) IsRunning() bool {
	switch s.Load() {
	case StateRunning, StateSleeping, StateStopping:
		return true
	}
	return false
}

// HandleState is the lifecycle state of a [Handle].
//
//	HandleOpen → HandleClosing → HandleClosed
//
// Transitions are linear. There is no re-open.
type HandleState uint32

const (
	// HandleOpen indicates the handle is bound to its loop and usable.
	HandleOpen HandleState = iota
	// HandleClosing indicates Close was called and the completion is pending.
	HandleClosing
	// HandleClosed indicates the close completion ran.
	HandleClosed
)

// String returns a human-readable representation of the state.
func (s HandleState) String() string {
	switch s {
	case HandleOpen:
		return "Open"
	case HandleClosing:
		return "Closing"
	case HandleClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// sizeOfCacheLine is the assumed cache line size for padding.
const sizeOfCacheLine = 64
