package netres

import (
	"errors"
	"net"
	"net/netip"

	"github.com/joeycumines/go-reactor/reactor"
	"golang.org/x/sys/unix"
)

// Errors returned by this package, in addition to those of reactor.
var (
	// ErrInvalidAddr is returned for a zero or unsupported address.
	ErrInvalidAddr = errors.New("netres: invalid address")

	// ErrBusy is returned when a request conflicts with one in progress,
	// e.g. a second Connect.
	ErrBusy = errors.New("netres: operation already in progress")

	// ErrNotListening is returned by Accept on a TCP that is not listening.
	ErrNotListening = errors.New("netres: not listening")

	// ErrLoopMismatch is returned by Accept for a client on another loop.
	ErrLoopMismatch = errors.New("netres: resources are bound to different loops")
)

// toSockaddr converts ap to a socket address, returning the socket family
// it requires.
func toSockaddr(ap netip.AddrPort) (unix.Sockaddr, int, error) {
	if !ap.IsValid() {
		return nil, 0, ErrInvalidAddr
	}
	addr := ap.Addr()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
	if zone := addr.Zone(); zone != "" {
		ifi, err := net.InterfaceByName(zone)
		if err != nil {
			return nil, 0, err
		}
		sa.ZoneId = uint32(ifi.Index)
	}
	return sa, unix.AF_INET6, nil
}

// fromSockaddr converts an IP socket address, or returns the zero value.
func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		addr := netip.AddrFrom16(sa.Addr)
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				addr = addr.WithZone(ifi.Name)
			}
		}
		return netip.AddrPortFrom(addr, uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

// newSocket creates a non-blocking, close-on-exec socket.
func newSocket(family, typ int) (int, error) {
	fd, err := unix.Socket(family, typ, 0)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// ensureSocket attaches a new socket to h, unless it already has one.
func ensureSocket(h *reactor.Handle, family, typ int, cb reactor.IOCallback) error {
	if h.Fd() >= 0 {
		return nil
	}
	fd, err := newSocket(family, typ)
	if err != nil {
		return opError("socket", err)
	}
	if err := h.Attach(fd, cb); err != nil {
		_ = unix.Close(fd)
		return err
	}
	return nil
}

// attached returns why h's socket cannot be used, if it cannot.
func attached(h *reactor.Handle) error {
	switch {
	case h.Loop() == nil:
		return reactor.ErrNotOpen
	case h.State() != reactor.HandleOpen:
		return reactor.ErrHandleClosed
	case h.Status() != nil:
		return h.Status()
	case h.Fd() < 0:
		return reactor.ErrNotAttached
	}
	return nil
}

// endpoint returns the address reported by get for h's socket.
func endpoint(h *reactor.Handle, op string, get func(fd int) (unix.Sockaddr, error)) (netip.AddrPort, error) {
	if err := attached(h); err != nil {
		return netip.AddrPort{}, err
	}
	sa, err := get(h.Fd())
	if err != nil {
		return netip.AddrPort{}, opError(op, err)
	}
	return fromSockaddr(sa), nil
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &reactor.OpError{Op: op, Err: err}
}

// socketError returns the pending error on fd (SO_ERROR), clearing it.
func socketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return unix.Errno(v)
	}
	return nil
}
