package reactor

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// RunMode selects how long [Loop.Run] iterates.
type RunMode int

const (
	// RunDefault iterates until Stop is called, the context is done, or the
	// loop is no longer alive (see [Loop.Alive]).
	RunDefault RunMode = iota
	// RunOnce runs a single iteration, blocking for events if the loop is
	// alive and has nothing else to do.
	RunOnce
	// RunNoWait runs a single iteration without blocking.
	RunNoWait
)

// String returns a human-readable representation of the mode.
func (m RunMode) String() string {
	switch m {
	case RunDefault:
		return "Default"
	case RunOnce:
		return "Once"
	case RunNoWait:
		return "NoWait"
	default:
		return "Unknown"
	}
}

var loopIDs atomic.Uint64

// Loop is a single-goroutine reactor over epoll (Linux) or kqueue (Darwin).
//
// Every I/O callback, notifier task and close completion runs on the loop
// goroutine, which is the goroutine that first called [Loop.Run]. That
// identity never changes. Only [Notifier.Notify] may be called from other
// goroutines while the loop is in use.
//
// Each iteration polls for readiness (which is also how notifier drains are
// triggered), then runs the close completions that were pending when the
// phase began. Completions queued during the phase run on the next
// iteration, and the poll of that iteration does not block.
type Loop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	// State machine (cache-line padded internally)
	state fastState

	registry *registry
	log      *loopLogger

	// closing is only touched on the loop goroutine
	closing closeQueue

	poller poller
	stats  loopStats

	// Goroutine tracking
	loopGoroutineID atomic.Uint64

	// active counts handles that are open, referenced and watching
	active        atomic.Int64
	pendingCloses atomic.Int64

	id uint64

	// Wake-up mechanism, used only to interrupt poll on ctx cancellation
	wakeR       int
	wakeW       int
	wakePending atomic.Bool

	stopRequested bool
}

// New creates a loop. It fails with an [*InitError] if the poller or wake
// descriptor cannot be created.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	id := loopIDs.Add(1)
	logger, err := newLoopLogger(cfg.logger, cfg.logRates, id)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		registry: newRegistry(),
		log:      logger,
		id:       id,
		wakeR:    -1,
		wakeW:    -1,
	}

	if err := l.poller.init(cfg.pollEvents); err != nil {
		return nil, &InitError{Kind: "poller", Err: err}
	}

	l.wakeR, l.wakeW, err = createWakeFd()
	if err != nil {
		_ = l.poller.close()
		return nil, &InitError{Kind: "wake", Err: err}
	}

	if err := l.poller.register(l.wakeR, EventRead, l.onWake); err != nil {
		l.closeFDs()
		return nil, &InitError{Kind: "wake", Err: err}
	}

	return l, nil
}

// Run drives the loop on the calling goroutine, which is locked to its OS
// thread until Run returns. The first call fixes the loop goroutine.
//
// Run returns nil when stopped or (RunDefault) no longer alive, ctx.Err()
// if ctx is done, or an [*OpError] if polling fails. On every exit except
// mode completion, notifier tasks that were queued but not yet drained are
// discarded.
func (l *Loop) Run(ctx context.Context, mode RunMode) error {
	gid := getGoroutineID()

	if !l.state.TryTransition(StateIdle, StateRunning) {
		switch {
		case l.state.Load() == StateClosed:
			return ErrLoopClosed
		case l.loopGoroutineID.Load() == gid:
			return ErrReentrantRun
		default:
			return ErrLoopRunning
		}
	}

	if !l.loopGoroutineID.CompareAndSwap(0, gid) && l.loopGoroutineID.Load() != gid {
		l.state.Store(StateIdle)
		return ErrNotLoopThread
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer func() {
		l.stopRequested = false
		l.state.Store(StateIdle)
	}()

	// Wake the loop on cancellation. The watcher must exit before the loop
	// can be closed, so that it never writes to a released descriptor.
	ctxDone := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			l.wake()
		case <-ctxDone:
		}
	}()
	defer func() {
		close(ctxDone)
		<-watcherDone
	}()

	return l.run(ctx, mode)
}

func (l *Loop) run(ctx context.Context, mode RunMode) error {
	for {
		if err := ctx.Err(); err != nil {
			l.discardPending("context")
			return err
		}
		if l.stopRequested {
			l.discardPending("stop")
			return nil
		}
		if mode == RunDefault && !l.Alive() {
			return nil
		}

		if err := l.tick(mode); err != nil {
			l.discardPending("poll")
			return err
		}

		if mode != RunDefault {
			if l.stopRequested {
				l.discardPending("stop")
			}
			return nil
		}
	}
}

// tick runs one iteration.
func (l *Loop) tick(mode RunMode) error {
	timeout := -1
	if mode == RunNoWait || l.pendingCloses.Load() > 0 || !l.Alive() {
		timeout = 0
	}

	sleeping := timeout != 0 && l.state.TryTransition(StateRunning, StateSleeping)
	_, err := l.poller.wait(timeout)
	if sleeping {
		l.state.TryTransition(StateSleeping, StateRunning)
	}
	if err != nil {
		l.log.logError(logCategoryPoll, "poll failed", err)
		return opErr("poll", err)
	}

	l.poller.dispatch()
	l.runClosing()
	l.stats.iterations.Add(1)
	return nil
}

// runClosing runs the close completions queued before this phase began.
func (l *Loop) runClosing() {
	for n := l.closing.len(); n > 0; n-- {
		h, ok := l.closing.pop()
		if !ok {
			return
		}
		h.finishClose()
	}
}

// pendingDiscarder is implemented by resources that hold queued work which
// must be dropped when the loop stops.
type pendingDiscarder interface {
	discardPending() int
}

// discardPending drops every undrained notifier task.
func (l *Loop) discardPending(reason string) {
	var total int
	for _, res := range l.registry.snapshot() {
		if d, ok := res.(pendingDiscarder); ok {
			total += d.discardPending()
		}
	}
	if total == 0 {
		return
	}
	l.stats.tasksDiscarded.Add(uint64(total))
	l.log.debug(logCategoryShutdown).
		Str("reason", reason).
		Int("discarded", total).
		Log("discarded undrained tasks")
}

// Stop requests that Run return after the current iteration. It must be
// called on the loop goroutine; from elsewhere, route it through
// [Notifier.Notify]. Calling Stop while the loop is not running is a no-op.
func (l *Loop) Stop() error {
	if !l.isLoopThread() {
		return ErrNotLoopThread
	}
	if !l.state.IsRunning() {
		return nil
	}
	l.stopRequested = true
	l.state.TryTransition(StateRunning, StateStopping)
	return nil
}

// Alive reports whether the loop has referenced handles watching for
// events, or close completions pending. Safe to call from any goroutine.
func (l *Loop) Alive() bool {
	return l.active.Load() > 0 || l.pendingCloses.Load() > 0
}

// Close releases the poller. Every handle bound to the loop must have
// completed its close first, otherwise ErrLoopBusy is returned and the loop
// remains usable. Close may be called from any goroutine while the loop
// is not running.
func (l *Loop) Close() error {
	for {
		switch current := l.state.Load(); current {
		case StateClosed:
			return ErrLoopClosed
		case StateIdle:
			if l.registry.len() != 0 {
				return ErrLoopBusy
			}
			if l.state.TryTransition(StateIdle, StateClosed) {
				l.closeFDs()
				return nil
			}
		default:
			return ErrLoopRunning
		}
	}
}

// State returns the current state. Safe to call from any goroutine.
func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Stats returns a snapshot of the loop's counters. Safe to call from any
// goroutine.
func (l *Loop) Stats() Stats {
	s := l.stats.snapshot()
	s.Handles = l.registry.len()
	return s
}

// Walk calls fn for every handle bound to the loop, including those that
// are closing, in the order they were opened. Resources opened or closed by
// fn do not affect the current walk.
func (l *Loop) Walk(fn func(Resource)) {
	for _, res := range l.registry.snapshot() {
		fn(res)
	}
}

// ID returns the process-unique loop ID, as used in log events.
func (l *Loop) ID() uint64 {
	return l.id
}

// bindIO wraps a handle's callback with panic recovery.
func (l *Loop) bindIO(cb IOCallback) IOCallback {
	return func(events IOEvents) {
		if cb == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				l.stats.panics.Add(1)
				l.log.logError(logCategoryPoll, "io callback panicked", PanicError{Value: r})
			}
		}()
		cb(events)
	}
}

// safeCall executes fn with panic recovery.
func (l *Loop) safeCall(category string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.stats.panics.Add(1)
			l.log.logError(category, "callback panicked", PanicError{Value: r})
		}
	}()
	fn()
}

// runTask executes a drained notifier task.
func (l *Loop) runTask(task func()) {
	l.stats.tasksRun.Add(1)
	l.safeCall(logCategoryTask, task)
}

// wake interrupts a blocking poll. Safe to call from any goroutine.
func (l *Loop) wake() {
	if !l.wakePending.CompareAndSwap(false, true) {
		return
	}
	if err := signalWakeFd(l.wakeW); err != nil && !errors.Is(err, unix.EAGAIN) {
		l.wakePending.Store(false)
		l.log.logError(logCategoryWake, "loop wake failed", err)
	}
}

func (l *Loop) onWake(IOEvents) {
	l.wakePending.Store(false)
	drainWakeFd(l.wakeR)
}

// closeFDs closes file descriptors.
func (l *Loop) closeFDs() {
	_ = l.poller.close()
	if l.wakeR >= 0 {
		_ = closeWakeFd(l.wakeR, l.wakeW)
		_ = closeFD(l.wakeR)
	}
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// checkThread permits any goroutine before the loop is first run, and only
// the loop goroutine afterwards.
func (l *Loop) checkThread() error {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 || loopID == getGoroutineID() {
		return nil
	}
	return ErrNotLoopThread
}
