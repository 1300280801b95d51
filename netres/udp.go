package netres

import (
	"net/netip"

	"github.com/joeycumines/go-reactor/reactor"
	"golang.org/x/sys/unix"
)

// KindUDP is the [reactor.Handle.Kind] of a [UDP].
const KindUDP = "udp"

// maxDatagramSize bounds the buffer passed to receive callbacks.
const maxDatagramSize = 64 << 10

// ReceiveCallback receives one datagram, and the address it came from.
// buf is nil if err is non-nil, in which case receiving has stopped.
type ReceiveCallback func(buf *reactor.Buffer, from netip.AddrPort, err error)

// UDP is a datagram socket.
type UDP struct {
	reactor.Handle

	onReceive ReceiveCallback
	sends     []*sendReq
	receiving bool
	connected bool
}

type sendReq struct {
	cb   func(err error)
	to   unix.Sockaddr
	data []byte
}

var _ reactor.Resource = (*UDP)(nil)

// NewUDP opens a UDP resource on loop. The socket is created by the first
// Bind, Connect or Send. On failure, the returned UDP carries the error as
// its Status.
func NewUDP(loop *reactor.Loop) (*UDP, error) {
	u := &UDP{}
	if err := u.OpenAs(loop, KindUDP, u); err != nil {
		return u, err
	}
	u.OnCancel(u.cancelPending)
	return u, nil
}

// Bind binds the socket to addr, creating it if necessary.
func (u *UDP) Bind(addr netip.AddrPort) error {
	sa, family, err := toSockaddr(addr)
	if err != nil {
		return err
	}
	if err := ensureSocket(&u.Handle, family, unix.SOCK_DGRAM, u.handleIO); err != nil {
		return err
	}
	return opError("bind", unix.Bind(u.Fd(), sa))
}

// Connect sets the default destination of Send, and filters received
// datagrams to those from addr. Unlike TCP, it completes immediately.
func (u *UDP) Connect(addr netip.AddrPort) error {
	sa, family, err := toSockaddr(addr)
	if err != nil {
		return err
	}
	if err := ensureSocket(&u.Handle, family, unix.SOCK_DGRAM, u.handleIO); err != nil {
		return err
	}
	if err := unix.Connect(u.Fd(), sa); err != nil {
		return opError("connect", err)
	}
	u.connected = true
	return nil
}

// SetBroadcast sets SO_BROADCAST.
func (u *UDP) SetBroadcast(enable bool) error {
	if err := attached(&u.Handle); err != nil {
		return err
	}
	return opError("broadcast", unix.SetsockoptInt(u.Fd(), unix.SOL_SOCKET, unix.SO_BROADCAST, boolInt(enable)))
}

// SetTTL sets the unicast hop limit, for either address family.
func (u *UDP) SetTTL(ttl int) error {
	if err := attached(&u.Handle); err != nil {
		return err
	}
	if ttl < 1 || ttl > 255 {
		return opError("ttl", unix.EINVAL)
	}
	sa, err := unix.Getsockname(u.Fd())
	if err != nil {
		return opError("ttl", err)
	}
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return opError("ttl", unix.SetsockoptInt(u.Fd(), unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, ttl))
	}
	return opError("ttl", unix.SetsockoptInt(u.Fd(), unix.IPPROTO_IP, unix.IP_TTL, ttl))
}

// StartReceive starts delivering datagrams to cb.
func (u *UDP) StartReceive(cb ReceiveCallback) error {
	if cb == nil {
		return reactor.ErrNilTask
	}
	if err := attached(&u.Handle); err != nil {
		return err
	}
	u.onReceive = cb
	u.receiving = true
	return u.updateWatch()
}

// StopReceive stops delivering datagrams. It is a no-op if not receiving.
func (u *UDP) StopReceive() error {
	if !u.receiving {
		return nil
	}
	u.receiving = false
	return u.updateWatch()
}

// Send queues data to be sent to to, or to the connected peer if to is the
// zero value. The socket is created for to's family if necessary. data must
// not be modified until cb is called, which is always later, on the loop:
// with nil once sent, with the send error, or with [reactor.ErrCanceled] if u
// is closed first.
func (u *UDP) Send(data []byte, to netip.AddrPort, cb func(err error)) error {
	var sa unix.Sockaddr
	if to.IsValid() {
		var family int
		var err error
		if sa, family, err = toSockaddr(to); err != nil {
			return err
		}
		if err := ensureSocket(&u.Handle, family, unix.SOCK_DGRAM, u.handleIO); err != nil {
			return err
		}
	} else if !u.connected {
		return ErrInvalidAddr
	}
	if err := attached(&u.Handle); err != nil {
		return err
	}
	u.sends = append(u.sends, &sendReq{data: data, to: sa, cb: cb})
	return u.updateWatch()
}

// QueuedSends returns the number of sends that have not completed.
func (u *UDP) QueuedSends() int {
	return len(u.sends)
}

// LocalEndpoint returns the address the socket is bound to.
func (u *UDP) LocalEndpoint() (netip.AddrPort, error) {
	return endpoint(&u.Handle, "getsockname", unix.Getsockname)
}

func (u *UDP) updateWatch() error {
	var events reactor.IOEvents
	if u.receiving {
		events |= reactor.EventRead
	}
	if len(u.sends) != 0 {
		events |= reactor.EventWrite
	}
	return u.Watch(events)
}

// handleIO is bound to the socket on Attach.
func (u *UDP) handleIO(events reactor.IOEvents) {
	if events&(reactor.EventWrite|reactor.EventError) != 0 && len(u.sends) != 0 {
		u.flush()
	}
	if u.State() != reactor.HandleOpen {
		return
	}
	if events&(reactor.EventRead|reactor.EventError) != 0 && u.receiving {
		u.receive()
	}
	if u.State() == reactor.HandleOpen {
		_ = u.updateWatch()
	}
}

// flush sends queued datagrams until the socket would block. A failed send
// only fails its own request.
func (u *UDP) flush() {
	for len(u.sends) != 0 {
		req := u.sends[0]
		err := unix.Sendto(u.Fd(), req.data, 0, req.to)
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		u.sends[0] = nil
		u.sends = u.sends[1:]
		if req.cb != nil {
			req.cb(opError("send", err))
		}
		if u.State() != reactor.HandleOpen {
			return
		}
	}
}

func (u *UDP) receive() {
	buf := reactor.GetBuffer(maxDatagramSize)
	defer buf.Release()
	n, from, err := unix.Recvfrom(u.Fd(), buf.Bytes(), 0)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return
	case err != nil:
		u.receiving = false
		u.onReceive(nil, netip.AddrPort{}, opError("recv", err))
	default:
		buf.Truncate(n)
		u.onReceive(buf, fromSockaddr(from), nil)
	}
}

// cancelPending runs in the close completion.
func (u *UDP) cancelPending(err error) {
	sends := u.sends
	u.sends = nil
	for _, req := range sends {
		if req.cb != nil {
			req.cb(err)
		}
	}
	u.receiving = false
}
