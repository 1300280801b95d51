//go:build darwin

package reactor

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// poller manages I/O event registration using kqueue. A descriptor watched
// for both directions yields one kevent per filter, so a single wait may
// dispatch the same callback twice.
type poller struct { // betteralign:ignore
	fdTable
	eventBuf []unix.Kevent_t
	n        int
	kq       int
	closed   atomic.Bool
}

func (p *poller) init(bufSize int) error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	p.eventBuf = make([]unix.Kevent_t, bufSize)
	p.fds = make([]fdInfo, initialFDs)
	return nil
}

func (p *poller) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return unix.Close(p.kq)
}

func (p *poller) register(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if err := p.insert(fd, events, cb); err != nil {
		return err
	}
	if kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE); len(kevents) > 0 {
		if _, err := unix.Kevent(p.kq, kevents, nil, nil); err != nil {
			_, _ = p.remove(fd) // rollback
			return err
		}
	}
	return nil
}

func (p *poller) unregister(fd int) error {
	events, err := p.remove(fd)
	if err != nil {
		return err
	}
	if p.closed.Load() {
		return nil
	}
	if kevents := eventsToKevents(fd, events, unix.EV_DELETE); len(kevents) > 0 {
		_, _ = unix.Kevent(p.kq, kevents, nil, nil) // ignore errors on delete
	}
	return nil
}

func (p *poller) modify(fd int, events IOEvents) error {
	oldEvents, err := p.update(fd, events)
	if err != nil {
		return err
	}
	if del := eventsToKevents(fd, oldEvents&^events, unix.EV_DELETE); len(del) > 0 {
		_, _ = unix.Kevent(p.kq, del, nil, nil)
	}
	if add := eventsToKevents(fd, events&^oldEvents, unix.EV_ADD|unix.EV_ENABLE); len(add) > 0 {
		if _, err := unix.Kevent(p.kq, add, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// wait blocks for up to timeoutMs (-1 = forever, 0 = non-blocking) and
// returns the number of events fetched. EINTR is reported as zero events.
func (p *poller) wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	p.resetStale()
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf, ts)
	if err != nil {
		p.n = 0
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	p.n = n
	return n, nil
}

// dispatch invokes the bound callback of every event fetched by the last
// wait, in kernel order.
func (p *poller) dispatch() {
	for i := 0; i < p.n; i++ {
		kev := &p.eventBuf[i]
		if info, ok := p.lookup(int(kev.Ident)); ok {
			info.callback(keventToEvents(kev))
		}
	}
	p.n = 0
}

// eventsToKevents converts IOEvents to kqueue kevent structures.
func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

// keventToEvents converts kqueue event to IOEvents.
func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
