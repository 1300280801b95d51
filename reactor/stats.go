package reactor

import (
	"sync/atomic"
)

// Stats is a point-in-time snapshot of a loop's counters.
type Stats struct {
	// Iterations is the number of completed loop iterations.
	Iterations uint64
	// Wakeups is the number of wake signals written by notifiers. Coalesced
	// signals are not counted.
	Wakeups uint64
	// Drains is the number of notifier drain passes.
	Drains uint64
	// TasksRun is the number of notifier tasks executed.
	TasksRun uint64
	// TasksDiscarded is the number of queued tasks dropped by loop stop or
	// notifier close.
	TasksDiscarded uint64
	// Panics is the number of recovered panics from tasks and callbacks.
	Panics uint64
	// ClosesCompleted is the number of handle close completions that ran.
	ClosesCompleted uint64
	// Handles is the number of handles currently bound to the loop,
	// including those still closing.
	Handles int
}

// loopStats holds the live counters. All fields are safe for concurrent
// access.
type loopStats struct {
	iterations      atomic.Uint64
	wakeups         atomic.Uint64
	drains          atomic.Uint64
	tasksRun        atomic.Uint64
	tasksDiscarded  atomic.Uint64
	panics          atomic.Uint64
	closesCompleted atomic.Uint64
}

func (s *loopStats) snapshot() Stats {
	return Stats{
		Iterations:      s.iterations.Load(),
		Wakeups:         s.wakeups.Load(),
		Drains:          s.drains.Load(),
		TasksRun:        s.tasksRun.Load(),
		TasksDiscarded:  s.tasksDiscarded.Load(),
		Panics:          s.panics.Load(),
		ClosesCompleted: s.closesCompleted.Load(),
	}
}
