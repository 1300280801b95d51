// Package netres provides TCP and UDP resources bound to a [reactor.Loop].
//
// They are thin forwarders to non-blocking sockets. What they add is the
// [reactor.Handle] lifecycle: sockets are created lazily (on the first Bind,
// Connect or Send), readiness is delivered through a callback bound to the
// instance, and requests still in flight when the resource is closed
// (connects, writes, sends) complete with [reactor.ErrCanceled] before the
// close callback runs.
//
// Read and receive callbacks are passed a [reactor.Buffer] that is released
// when the callback returns, unless the callback takes ownership with
// [reactor.Buffer.Detach].
//
// All methods must be called on the loop goroutine.
package netres
