//go:build linux

package reactor

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// poller manages I/O event registration using epoll.
//
// Registration may happen from any goroutine that is allowed to touch the
// loop (fdMu protects the slot table), but wait and dispatch only ever run
// on the loop goroutine.
type poller struct { // betteralign:ignore
	fdTable
	eventBuf []unix.EpollEvent
	n        int
	epfd     int
	closed   atomic.Bool
}

func (p *poller) init(bufSize int) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = epfd
	p.eventBuf = make([]unix.EpollEvent, bufSize)
	p.fds = make([]fdInfo, initialFDs)
	return nil
}

func (p *poller) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return unix.Close(p.epfd)
}

func (p *poller) register(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if err := p.insert(fd, events, cb); err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		_, _ = p.remove(fd) // rollback
		return err
	}
	return nil
}

func (p *poller) unregister(fd int) error {
	if _, err := p.remove(fd); err != nil {
		return err
	}
	if p.closed.Load() {
		return nil
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *poller) modify(fd int, events IOEvents) error {
	if _, err := p.update(fd, events); err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// wait blocks for up to timeoutMs (-1 = forever, 0 = non-blocking) and
// returns the number of events fetched. EINTR is reported as zero events.
func (p *poller) wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}
	p.resetStale()
	n, err := unix.EpollWait(p.epfd, p.eventBuf, timeoutMs)
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
		ev := &p.eventBuf[i]
		if info, ok := p.lookup(int(ev.Fd)); ok {
			info.callback(epollToEvents(ev.Events))
		}
	}
	p.n = 0
}

// eventsToEpoll converts IOEvents to epoll event flags.
func eventsToEpoll(events IOEvents) uint32 {
	var epollEvents uint32
	if events&EventRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

// epollToEvents converts epoll event flags to IOEvents.
func epollToEvents(epollEvents uint32) IOEvents {
	var events IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		events |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= EventWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= EventError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
