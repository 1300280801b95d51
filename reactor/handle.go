package reactor

import (
	"errors"
	"sync/atomic"
)

// Resource is the capability surface shared by everything bound to a loop:
// notifiers, stream sockets, datagram sockets. Concrete types get it by
// embedding [Handle].
type Resource interface {
	ID() uint64
	Kind() string
	Loop() *Loop
	Fd() int
	State() HandleState
	Status() error
	HasRef() bool
	Close(cb func()) error
}

var _ Resource = (*Handle)(nil)

// Handle implements the lifecycle every loop-bound resource obeys:
//
//	Open → Closing → Closed
//
// Close is idempotent and asynchronous. It releases the OS descriptor
// immediately, but the close callback runs on a later phase of the loop
// goroutine, after any in-flight requests have been failed with
// [ErrCanceled]. Anything captured for those requests must stay valid until
// the callback fires.
//
// Except where noted, Handle methods must be called on the loop goroutine,
// or from any single goroutine before the loop is first run.
type Handle struct {
	loop     *Loop
	owner    Resource
	status   error
	onIO     IOCallback
	closeCb  func()
	cancel   func(error)
	teardown func()
	kind     string
	id       uint64
	fd       int
	events   IOEvents
	state    atomic.Uint32
	unref    bool
	counted  bool
	attached bool
}

// Open binds h to loop, as a resource of the given kind. The handle itself
// is what [Loop.Walk] reports; types embedding Handle use [Handle.OpenAs].
func (h *Handle) Open(loop *Loop, kind string) error {
	return h.OpenAs(loop, kind, h)
}

// OpenAs binds h to loop on behalf of owner, which is the value reported by
// [Loop.Walk]. Failure is also recorded as the handle's [Handle.Status]. A
// handle that fails because loop is nil or closed, or because it was opened
// off the loop goroutine, is left unbound, and is immediately Closed.
func (h *Handle) OpenAs(loop *Loop, kind string, owner Resource) error {
	if h.loop != nil || h.State() != HandleOpen {
		return ErrHandleInUse
	}
	var err error
	switch {
	case loop == nil:
		err = errors.New("nil loop")
	case loop.checkThread() != nil:
		err = ErrNotLoopThread
	case loop.state.Load() == StateClosed:
		err = ErrLoopClosed
	}
	h.fd = -1
	h.kind = kind
	if owner == nil {
		owner = h
	}
	h.owner = owner
	if err != nil {
		h.status = &InitError{Kind: kind, Err: err}
		h.state.Store(uint32(HandleClosed))
		return h.status
	}
	h.loop = loop
	h.id = loop.registry.add(owner)
	return nil
}

// fail records an initialization failure that happened after the handle was
// bound. The handle stays registered and must still be closed.
func (h *Handle) fail(err error) error {
	if h.status == nil {
		h.status = &InitError{Kind: h.kind, Err: err}
	}
	return h.status
}

// Attach records the OS descriptor backing h, and the callback that will
// receive its readiness events. Interest is requested separately, with
// [Handle.Watch]. Once attached, the descriptor is owned by h and is closed
// by [Handle.Close].
func (h *Handle) Attach(fd int, cb IOCallback) error {
	if err := h.usable(); err != nil {
		return err
	}
	if h.attached {
		return ErrHandleInUse
	}
	if fd < 0 {
		return ErrFDOutOfRange
	}
	h.fd = fd
	h.onIO = cb
	h.attached = true
	return nil
}

// Watch sets the readiness events h is interested in. An empty set stops
// watching. A handle counts toward [Loop.Alive] while it watches for any
// event and is referenced.
func (h *Handle) Watch(events IOEvents) error {
	if err := h.usable(); err != nil {
		return err
	}
	if !h.attached {
		return ErrNotAttached
	}
	events &= EventRead | EventWrite
	if events == h.events {
		return nil
	}
	var err error
	switch {
	case h.events == 0:
		err = h.loop.poller.register(h.fd, events, h.loop.bindIO(h.onIO))
	case events == 0:
		err = h.loop.poller.unregister(h.fd)
	default:
		err = h.loop.poller.modify(h.fd, events)
	}
	if err != nil {
		return opErr("watch", err)
	}
	h.events = events
	h.updateActive()
	return nil
}

// Watching returns the events currently requested with [Handle.Watch].
func (h *Handle) Watching() IOEvents {
	return h.events
}

// OnCancel sets the hook that fails h's in-flight requests. It is called
// once, with [ErrCanceled], at the start of the close completion.
func (h *Handle) OnCancel(fn func(err error)) {
	h.cancel = fn
}

// Close begins teardown. The descriptor is released before Close returns;
// cb (which may be nil) runs later, exactly once, on the loop goroutine.
// Closing a handle that is already closing or closed is a no-op.
func (h *Handle) Close(cb func()) error {
	if h.loop == nil {
		if h.State() == HandleOpen {
			return ErrNotOpen
		}
		return nil
	}
	if err := h.loop.checkThread(); err != nil {
		return err
	}
	if !h.state.CompareAndSwap(uint32(HandleOpen), uint32(HandleClosing)) {
		return nil
	}
	h.closeCb = cb
	h.updateActive()

	if h.events != 0 {
		if err := h.loop.poller.unregister(h.fd); err != nil {
			h.loop.log.logError(logCategoryClose, "unregister failed", err)
		}
		h.events = 0
	}
	if h.teardown != nil {
		h.teardown()
	}
	if h.attached {
		if err := closeFD(h.fd); err != nil {
			h.loop.log.logError(logCategoryClose, "close failed", err)
		}
		h.fd = -1
	}

	h.loop.pendingCloses.Add(1)
	h.loop.closing.push(h)
	return nil
}

// finishClose runs on the close phase of the loop.
func (h *Handle) finishClose() {
	l := h.loop
	if fn := h.cancel; fn != nil {
		h.cancel = nil
		l.safeCall(logCategoryClose, func() { fn(ErrCanceled) })
	}
	h.state.Store(uint32(HandleClosed))
	l.registry.remove(h.id)
	l.pendingCloses.Add(-1)
	l.stats.closesCompleted.Add(1)
	l.log.debug(logCategoryClose).
		Str("kind", h.kind).
		Uint64("handle", h.id).
		Log("handle closed")
	if cb := h.closeCb; cb != nil {
		h.closeCb = nil
		l.safeCall(logCategoryClose, cb)
	}
}

// Ref marks h as keeping [RunDefault] alive. Handles are referenced by
// default.
func (h *Handle) Ref() {
	h.unref = false
	h.updateActive()
}

// Unref stops h from keeping [RunDefault] alive. It still receives events.
func (h *Handle) Unref() {
	h.unref = true
	h.updateActive()
}

// HasRef reports whether h keeps [RunDefault] alive.
func (h *Handle) HasRef() bool { return !h.unref }

// updateActive keeps the loop's count of referenced, watching handles in
// step with h.
func (h *Handle) updateActive() {
	if h.loop == nil {
		return
	}
	want := h.State() == HandleOpen && !h.unref && h.events != 0
	if want == h.counted {
		return
	}
	h.counted = want
	if want {
		h.loop.active.Add(1)
	} else {
		h.loop.active.Add(-1)
	}
}

// usable reports why h cannot be used for I/O, if it cannot.
func (h *Handle) usable() error {
	if h.loop == nil {
		return ErrNotOpen
	}
	if h.State() != HandleOpen {
		return ErrHandleClosed
	}
	if h.status != nil {
		return h.status
	}
	return h.loop.checkThread()
}

// Fd returns the attached OS descriptor, or -1.
func (h *Handle) Fd() int {
	if !h.attached {
		return -1
	}
	return h.fd
}

// State returns the lifecycle state. Safe to call from any goroutine.
func (h *Handle) State() HandleState { return HandleState(h.state.Load()) }

// Status returns the initialization failure recorded for h, if any. A
// handle with a non-nil status must not be used for I/O, but must still be
// closed.
func (h *Handle) Status() error { return h.status }

// Loop returns the loop h is bound to, or nil.
func (h *Handle) Loop() *Loop { return h.loop }

// Kind returns the kind passed to Open.
func (h *Handle) Kind() string { return h.kind }

// ID returns the loop-unique handle ID, or 0 if unbound.
func (h *Handle) ID() uint64 { return h.id }
