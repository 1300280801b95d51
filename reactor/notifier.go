package reactor

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"
)

// KindNotifier is the [Handle.Kind] of a [Notifier].
const KindNotifier = "notifier"

// Notifier is the only safe way into the loop from other goroutines. Tasks
// passed to [Notifier.Notify] are queued, and run on the loop goroutine in
// the order they were queued.
//
// The loop drains the queue by swapping it out, whole, under the lock. Tasks
// queued by a running task therefore wait for the next drain, and repeated
// or coalesced wake signals can neither lose nor duplicate a task.
//
// Closing a notifier discards any tasks still queued.
type Notifier struct {
	Handle

	// queue is guarded by mu; spare is the drained queue kept for reuse, and
	// is only touched on the loop goroutine
	queue *queue.Queue
	spare *queue.Queue
	mu    Mutex

	wakeW int

	// wakePending dedupes wake signals between drains
	wakePending atomic.Bool

	// inflight counts Notify calls that may still write to wakeW
	inflight atomic.Int64
	closed   atomic.Bool
}

var (
	_ Resource         = (*Notifier)(nil)
	_ pendingDiscarder = (*Notifier)(nil)
)

// NewNotifier opens a notifier on loop. On failure, the notifier is still
// returned, with the error recorded as its [Handle.Status]; it must not be
// used, but if it was bound to the loop it must be closed.
func NewNotifier(loop *Loop) (*Notifier, error) {
	n := &Notifier{
		queue: queue.New(),
		spare: queue.New(),
		wakeW: -1,
	}
	n.teardown = n.release

	if err := n.OpenAs(loop, KindNotifier, n); err != nil {
		n.closed.Store(true)
		return n, err
	}

	r, w, err := createWakeFd()
	if err != nil {
		n.closed.Store(true)
		return n, n.fail(err)
	}
	if err := n.Attach(r, n.drain); err != nil {
		_ = closeFD(r)
		_ = closeWakeFd(r, w)
		n.closed.Store(true)
		return n, n.fail(err)
	}
	n.wakeW = w
	if err := n.Watch(EventRead); err != nil {
		n.closed.Store(true)
		return n, n.fail(err)
	}

	return n, nil
}

// Notify queues task to run on the loop goroutine. It may be called from any
// goroutine, including from a task, and never runs task inline.
//
// If the wake signal cannot be delivered, task stays queued (it runs on the
// next successful wake) and an [*OpError] is returned. On a closing or
// closed notifier, nothing is queued and ErrHandleClosed is returned.
func (n *Notifier) Notify(task func()) error {
	if task == nil {
		return ErrNilTask
	}

	// Increment inflight FIRST, so release never frees wakeW under us
	n.inflight.Add(1)
	defer n.inflight.Add(-1)

	if n.closed.Load() {
		if err := n.status; err != nil {
			return err
		}
		return ErrHandleClosed
	}

	n.mu.Lock()
	n.queue.Add(task)
	n.mu.Unlock()

	return n.signal()
}

// signal wakes the loop, unless a wake is already pending.
func (n *Notifier) signal() error {
	if !n.wakePending.CompareAndSwap(false, true) {
		return nil
	}
	if err := signalWakeFd(n.wakeW); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			// full pipe or saturated counter: a wake is already deliverable
			return nil
		}
		n.wakePending.Store(false)
		n.loop.log.logError(logCategoryWake, "notifier wake failed", err)
		return opErr("notify", err)
	}
	n.loop.stats.wakeups.Add(1)
	return nil
}

// drain is the bound read callback of the wake descriptor.
func (n *Notifier) drain(IOEvents) {
	// Clear the flag before consuming the signal, so a Notify racing with
	// the swap below always leaves a signal for the next poll
	n.wakePending.Store(false)
	drainWakeFd(n.fd)

	n.mu.Lock()
	batch := n.queue
	n.queue = n.spare
	n.mu.Unlock()

	n.loop.stats.drains.Add(1)

	for batch.Length() > 0 {
		n.loop.runTask(batch.Remove().(func()))
	}
	n.spare = batch
}

// Pending returns the number of queued, undrained tasks. Safe to call from
// any goroutine.
func (n *Notifier) Pending() (count int) {
	n.mu.Do(func() { count = n.queue.Length() })
	return count
}

// discardPending drops every queued task, returning how many were dropped.
func (n *Notifier) discardPending() (count int) {
	n.mu.Do(func() {
		if count = n.queue.Length(); count != 0 {
			n.queue = queue.New()
		}
	})
	return count
}

// release runs inside Close, before the read end is closed.
func (n *Notifier) release() {
	n.closed.Store(true)

	// Wait for in-flight Notify calls to leave the wake descriptor
	for n.inflight.Load() > 0 {
		runtime.Gosched()
	}

	if dropped := n.discardPending(); dropped != 0 {
		n.loop.stats.tasksDiscarded.Add(uint64(dropped))
		n.loop.log.debug(logCategoryClose).
			Uint64("handle", n.id).
			Int("discarded", dropped).
			Log("notifier closed with queued tasks")
	}

	if n.wakeW >= 0 {
		if err := closeWakeFd(n.fd, n.wakeW); err != nil {
			n.loop.log.logError(logCategoryClose, "close failed", err)
		}
		n.wakeW = -1
	}
}
