package netres

import (
	"io"
	"net/netip"
	"time"

	"github.com/joeycumines/go-reactor/reactor"
	"golang.org/x/sys/unix"
)

// KindTCP is the [reactor.Handle.Kind] of a [TCP].
const KindTCP = "tcp"

// readBufferSize is the size of the buffer passed to read callbacks.
const readBufferSize = 64 << 10

// ReadCallback receives data read from a stream. buf is nil if err is
// non-nil; err is [io.EOF] once the peer has shut down its side, after which
// reading stops.
type ReadCallback func(buf *reactor.Buffer, err error)

// TCP is a stream socket: a listener, an accepted connection, or an
// outgoing connection.
type TCP struct {
	reactor.Handle

	onConnection func(err error)
	onConnect    func(err error)
	onRead       ReadCallback
	connectErr   error
	writes       []*writeReq

	listening  bool
	connecting bool
	reading    bool
}

type writeReq struct {
	cb   func(err error)
	data []byte
	off  int
}

var _ reactor.Resource = (*TCP)(nil)

// NewTCP opens a TCP resource on loop. The socket itself is created by the
// first Bind or Connect, or by Accept. On failure, the returned TCP carries
// the error as its Status.
func NewTCP(loop *reactor.Loop) (*TCP, error) {
	t := &TCP{}
	if err := t.OpenAs(loop, KindTCP, t); err != nil {
		return t, err
	}
	t.OnCancel(t.cancelPending)
	return t, nil
}

// Bind binds the socket to addr, creating it if necessary. SO_REUSEADDR is
// set on the socket.
func (t *TCP) Bind(addr netip.AddrPort) error {
	sa, family, err := toSockaddr(addr)
	if err != nil {
		return err
	}
	if err := ensureSocket(&t.Handle, family, unix.SOCK_STREAM, t.handleIO); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(t.Fd(), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return opError("bind", err)
	}
	return opError("bind", unix.Bind(t.Fd(), sa))
}

// Listen starts listening for connections. cb is called on the loop whenever
// a connection is pending, and should call Accept.
func (t *TCP) Listen(backlog int, cb func(err error)) error {
	if err := attached(&t.Handle); err != nil {
		return err
	}
	if t.connecting || t.reading {
		return ErrBusy
	}
	if err := unix.Listen(t.Fd(), backlog); err != nil {
		return opError("listen", err)
	}
	t.onConnection = cb
	t.listening = true
	return t.updateWatch()
}

// Accept takes a pending connection, attaching it to client, which must be
// an open, unattached TCP on the same loop.
func (t *TCP) Accept(client *TCP) error {
	if err := attached(&t.Handle); err != nil {
		return err
	}
	if !t.listening {
		return ErrNotListening
	}
	if client == nil {
		return reactor.ErrNotOpen
	}
	if client.Loop() != t.Loop() {
		return ErrLoopMismatch
	}
	nfd, _, err := unix.Accept(t.Fd())
	if err != nil {
		return opError("accept", err)
	}
	unix.CloseOnExec(nfd)
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return opError("accept", err)
	}
	if err := client.Attach(nfd, client.handleIO); err != nil {
		_ = unix.Close(nfd)
		return err
	}
	return nil
}

// Connect starts connecting to addr, creating the socket if necessary. cb
// is always called later, on the loop: with nil once connected, with the
// connect error, or with [reactor.ErrCanceled] if t is closed first.
func (t *TCP) Connect(addr netip.AddrPort, cb func(err error)) error {
	if t.connecting || t.listening {
		return ErrBusy
	}
	sa, family, err := toSockaddr(addr)
	if err != nil {
		return err
	}
	if err := ensureSocket(&t.Handle, family, unix.SOCK_STREAM, t.handleIO); err != nil {
		return err
	}
	// the outcome is always reported on writability, even if connect
	// finished immediately
	t.connectErr = nil
	if err := unix.Connect(t.Fd(), sa); err != nil && err != unix.EINPROGRESS {
		t.connectErr = err
	}
	t.onConnect = cb
	t.connecting = true
	return t.updateWatch()
}

// StartRead starts delivering data to cb.
func (t *TCP) StartRead(cb ReadCallback) error {
	if cb == nil {
		return reactor.ErrNilTask
	}
	if err := attached(&t.Handle); err != nil {
		return err
	}
	if t.listening {
		return ErrBusy
	}
	t.onRead = cb
	t.reading = true
	return t.updateWatch()
}

// StopRead stops delivering data. It is a no-op if not reading.
func (t *TCP) StopRead() error {
	if !t.reading {
		return nil
	}
	t.reading = false
	return t.updateWatch()
}

// Write queues data to be written. data must not be modified until cb is
// called, which is always later, on the loop: with nil once all of data was
// written, with the write error, or with [reactor.ErrCanceled] if t is
// closed first. Writes queued while connecting start once connected.
func (t *TCP) Write(data []byte, cb func(err error)) error {
	if err := attached(&t.Handle); err != nil {
		return err
	}
	t.writes = append(t.writes, &writeReq{data: data, cb: cb})
	return t.updateWatch()
}

// QueuedWrites returns the number of writes that have not completed.
func (t *TCP) QueuedWrites() int {
	return len(t.writes)
}

// NoDelay sets TCP_NODELAY.
func (t *TCP) NoDelay(enable bool) error {
	if err := attached(&t.Handle); err != nil {
		return err
	}
	return opError("nodelay", unix.SetsockoptInt(t.Fd(), unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(enable)))
}

// KeepAlive enables or disables keepalive probes. When enabling, delay
// (rounded up to whole seconds) sets the idle time before the first probe.
func (t *TCP) KeepAlive(enable bool, delay time.Duration) error {
	if err := attached(&t.Handle); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(t.Fd(), unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolInt(enable)); err != nil {
		return opError("keepalive", err)
	}
	if enable && delay > 0 {
		secs := int((delay + time.Second - 1) / time.Second)
		return opError("keepalive", setKeepAliveIdle(t.Fd(), secs))
	}
	return nil
}

// LocalEndpoint returns the address the socket is bound to.
func (t *TCP) LocalEndpoint() (netip.AddrPort, error) {
	return endpoint(&t.Handle, "getsockname", unix.Getsockname)
}

// PeerEndpoint returns the address of the connected peer.
func (t *TCP) PeerEndpoint() (netip.AddrPort, error) {
	return endpoint(&t.Handle, "getpeername", unix.Getpeername)
}

func (t *TCP) updateWatch() error {
	var events reactor.IOEvents
	if t.listening || t.reading {
		events |= reactor.EventRead
	}
	if t.connecting || len(t.writes) != 0 {
		events |= reactor.EventWrite
	}
	return t.Watch(events)
}

// handleIO is bound to the socket on Attach.
func (t *TCP) handleIO(events reactor.IOEvents) {
	const writable = reactor.EventWrite | reactor.EventError | reactor.EventHangup
	if events&writable != 0 {
		if t.connecting {
			t.finishConnect()
		} else if len(t.writes) != 0 {
			t.flush()
		}
	}
	if t.State() != reactor.HandleOpen {
		return
	}
	if events&(reactor.EventRead|reactor.EventError|reactor.EventHangup) != 0 {
		switch {
		case t.listening:
			if cb := t.onConnection; cb != nil {
				cb(nil)
			}
		case t.reading:
			t.read()
		}
	}
	if t.State() == reactor.HandleOpen {
		_ = t.updateWatch()
	}
}

func (t *TCP) finishConnect() {
	err := t.connectErr
	if err == nil {
		err = socketError(t.Fd())
	}
	if err == unix.EINPROGRESS {
		return
	}
	t.connectErr = nil
	t.connecting = false
	cb := t.onConnect
	t.onConnect = nil
	if err == nil {
		_ = t.updateWatch()
	}
	if cb != nil {
		cb(opError("connect", err))
	}
	if err == nil && t.State() == reactor.HandleOpen && len(t.writes) != 0 {
		t.flush()
	}
}

// flush writes as much of the queue as the socket accepts.
func (t *TCP) flush() {
	for len(t.writes) != 0 {
		req := t.writes[0]
		n, err := unix.Write(t.Fd(), req.data[req.off:])
		if n > 0 {
			req.off += n
		}
		if err == unix.EAGAIN || err == unix.EINTR {
			return
		}
		if err != nil {
			t.failWrites(opError("write", err))
			return
		}
		if req.off < len(req.data) {
			continue
		}
		t.writes[0] = nil
		t.writes = t.writes[1:]
		if req.cb != nil {
			req.cb(nil)
		}
		if t.State() != reactor.HandleOpen {
			return
		}
	}
}

func (t *TCP) read() {
	buf := reactor.GetBuffer(readBufferSize)
	defer buf.Release()
	n, err := unix.Read(t.Fd(), buf.Bytes())
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return
	case err != nil:
		t.reading = false
		t.onRead(nil, opError("read", err))
	case n == 0:
		t.reading = false
		t.onRead(nil, io.EOF)
	default:
		buf.Truncate(n)
		t.onRead(buf, nil)
	}
}

// failWrites completes every queued write with err.
func (t *TCP) failWrites(err error) {
	writes := t.writes
	t.writes = nil
	for _, req := range writes {
		if req.cb != nil {
			req.cb(err)
		}
	}
}

// cancelPending runs in the close completion.
func (t *TCP) cancelPending(err error) {
	if t.connecting {
		t.connecting = false
		if cb := t.onConnect; cb != nil {
			t.onConnect = nil
			cb(err)
		}
	}
	t.failWrites(err)
	t.listening = false
	t.reading = false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
