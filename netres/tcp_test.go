package netres

import (
	"io"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// TestTCP_Echo round-trips a message through a listener, an accepted
// connection and a client, then shuts everything down from the client side.
func TestTCP_Echo(t *testing.T) {
	loop := newTestLoop(t)

	server, err := NewTCP(loop)
	require.NoError(t, err)
	require.NoError(t, server.Bind(loopback))
	addr, err := server.LocalEndpoint()
	require.NoError(t, err)
	assert.NotZero(t, addr.Port())

	var accepted int
	var sawEOF bool
	require.NoError(t, server.Listen(16, func(err error) {
		require.NoError(t, err)
		conn, err := NewTCP(loop)
		require.NoError(t, err)
		require.NoError(t, server.Accept(conn))
		accepted++
		require.NoError(t, conn.StartRead(func(buf *reactor.Buffer, err error) {
			if err != nil {
				assert.ErrorIs(t, err, io.EOF)
				sawEOF = true
				require.NoError(t, conn.Close(nil))
				return
			}
			require.NoError(t, conn.Write(buf.Detach(), func(err error) {
				assert.NoError(t, err)
			}))
		}))
	}))

	client, err := NewTCP(loop)
	require.NoError(t, err)
	var got []byte
	var wrote bool
	require.NoError(t, client.Connect(addr, func(err error) {
		require.NoError(t, err)
		peer, err := client.PeerEndpoint()
		require.NoError(t, err)
		assert.Equal(t, addr, peer)

		require.NoError(t, client.Write([]byte("hello"), func(err error) {
			assert.NoError(t, err)
			wrote = true
		}))
		require.NoError(t, client.StartRead(func(buf *reactor.Buffer, err error) {
			require.NoError(t, err)
			got = append(got, buf.Bytes()...)
			if len(got) == len("hello") {
				require.NoError(t, client.Close(nil))
				require.NoError(t, server.Close(nil))
			}
		}))
	}))
	assert.Zero(t, client.QueuedWrites())

	run(t, loop)

	assert.Equal(t, "hello", string(got))
	assert.True(t, wrote)
	assert.Equal(t, 1, accepted)
	assert.True(t, sawEOF)
	assert.Equal(t, reactor.HandleClosed, client.State())
	assert.Equal(t, reactor.HandleClosed, server.State())
}

// TestTCP_CloseCancelsPending verifies that a connect and a write still in
// flight at Close complete with ErrCanceled, before the close callback.
func TestTCP_CloseCancelsPending(t *testing.T) {
	loop := newTestLoop(t)

	server, err := NewTCP(loop)
	require.NoError(t, err)
	require.NoError(t, server.Bind(loopback))
	require.NoError(t, server.Listen(1, func(error) {}))
	addr, err := server.LocalEndpoint()
	require.NoError(t, err)

	client, err := NewTCP(loop)
	require.NoError(t, err)
	var order []string
	require.NoError(t, client.Connect(addr, func(err error) {
		assert.ErrorIs(t, err, reactor.ErrCanceled)
		order = append(order, "connect")
	}))
	assert.ErrorIs(t, client.Connect(addr, nil), ErrBusy)
	require.NoError(t, client.Write([]byte("x"), func(err error) {
		assert.ErrorIs(t, err, reactor.ErrCanceled)
		order = append(order, "write")
	}))
	assert.Equal(t, 1, client.QueuedWrites())

	require.NoError(t, client.Close(func() {
		order = append(order, "close")
		require.NoError(t, server.Close(nil))
	}))
	assert.Empty(t, order)
	assert.ErrorIs(t, client.Write([]byte("y"), nil), reactor.ErrHandleClosed)

	run(t, loop)
	assert.Equal(t, []string{"connect", "write", "close"}, order)
	assert.Zero(t, client.QueuedWrites())
}

func TestTCP_ConnectRefused(t *testing.T) {
	loop := newTestLoop(t)

	// bound but not listening
	target, err := NewTCP(loop)
	require.NoError(t, err)
	require.NoError(t, target.Bind(loopback))
	addr, err := target.LocalEndpoint()
	require.NoError(t, err)

	client, err := NewTCP(loop)
	require.NoError(t, err)
	var connectErr error
	var called bool
	require.NoError(t, client.Connect(addr, func(err error) {
		called = true
		connectErr = err
		require.NoError(t, client.Close(nil))
		require.NoError(t, target.Close(nil))
	}))
	assert.False(t, called, "connect completed synchronously")

	run(t, loop)
	require.True(t, called)
	var opErr *reactor.OpError
	require.ErrorAs(t, connectErr, &opErr)
	assert.Equal(t, "connect", opErr.Op)
	assert.ErrorIs(t, connectErr, unix.ECONNREFUSED)
}

func TestTCP_SocketOptions(t *testing.T) {
	loop := newTestLoop(t)
	tcp, err := NewTCP(loop)
	require.NoError(t, err)

	_, err = tcp.LocalEndpoint()
	assert.ErrorIs(t, err, reactor.ErrNotAttached)
	assert.ErrorIs(t, tcp.NoDelay(true), reactor.ErrNotAttached)
	assert.ErrorIs(t, tcp.KeepAlive(true, time.Second), reactor.ErrNotAttached)
	assert.ErrorIs(t, tcp.Listen(1, nil), reactor.ErrNotAttached)
	assert.ErrorIs(t, tcp.StartRead(func(*reactor.Buffer, error) {}), reactor.ErrNotAttached)
	assert.ErrorIs(t, tcp.StartRead(nil), reactor.ErrNilTask)
	assert.ErrorIs(t, tcp.Accept(nil), reactor.ErrNotAttached)

	require.NoError(t, tcp.Bind(loopback))
	assert.Equal(t, KindTCP, tcp.Kind())
	assert.GreaterOrEqual(t, tcp.Fd(), 0)
	assert.NoError(t, tcp.NoDelay(true))
	assert.NoError(t, tcp.NoDelay(false))
	assert.NoError(t, tcp.KeepAlive(true, 1500*time.Millisecond))
	assert.NoError(t, tcp.KeepAlive(false, 0))

	_, err = tcp.PeerEndpoint()
	var opErr *reactor.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "getpeername", opErr.Op)

	assert.ErrorIs(t, tcp.Accept(nil), ErrNotListening)
	require.NoError(t, tcp.StopRead())

	require.NoError(t, tcp.Listen(4, func(error) {}))
	assert.ErrorIs(t, tcp.StartRead(func(*reactor.Buffer, error) {}), ErrBusy)
	assert.ErrorIs(t, tcp.Connect(loopback, nil), ErrBusy)
	assert.True(t, loop.Alive())

	other, err := reactor.New()
	require.NoError(t, err)
	defer func() { require.NoError(t, other.Close()) }()
	stranger, err := NewTCP(other)
	require.NoError(t, err)
	assert.ErrorIs(t, tcp.Accept(stranger), ErrLoopMismatch)
	assert.ErrorIs(t, tcp.Accept(nil), reactor.ErrNotOpen)
	require.NoError(t, stranger.Close(nil))
	require.NoError(t, other.Run(t.Context(), reactor.RunDefault))

	require.NoError(t, tcp.Close(nil))
	run(t, loop)
	assert.Equal(t, -1, tcp.Fd())
}
