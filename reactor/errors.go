package reactor

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrLoopRunning is returned when Run is called on a loop that is already
	// running, or when Close is called while it is running.
	ErrLoopRunning = errors.New("reactor: loop is already running")

	// ErrLoopClosed is returned when operations are attempted on a closed loop.
	ErrLoopClosed = errors.New("reactor: loop has been closed")

	// ErrLoopBusy is returned by Loop.Close while handles bound to the loop
	// have not completed their close.
	ErrLoopBusy = errors.New("reactor: loop has handles that are not closed")

	// ErrReentrantRun is returned when Run is called from within the loop itself.
	ErrReentrantRun = errors.New("reactor: cannot call Run from within the loop")

	// ErrNotLoopThread is returned when a loop-goroutine-only operation is
	// called from any other goroutine.
	ErrNotLoopThread = errors.New("reactor: not called from the loop goroutine")

	// ErrHandleClosed is returned when operations are attempted on a handle
	// that is closing or closed.
	ErrHandleClosed = errors.New("reactor: handle is closing or closed")

	// ErrNotOpen is returned when a handle that was never bound to a loop is
	// used.
	ErrNotOpen = errors.New("reactor: handle is not bound to a loop")

	// ErrHandleInUse is returned when a handle is opened or attached twice.
	ErrHandleInUse = errors.New("reactor: handle is already in use")

	// ErrNotAttached is returned when I/O interest is requested for a handle
	// that has no OS descriptor yet.
	ErrNotAttached = errors.New("reactor: handle has no descriptor attached")

	// ErrNilTask is returned by Notify for a nil task, and wherever a
	// required callback is nil.
	ErrNilTask = errors.New("reactor: nil task")

	// ErrCanceled is delivered to the completion callback of any in-flight
	// request that was invalidated by closing its handle.
	ErrCanceled = errors.New("reactor: operation canceled")
)

// InitError reports that the OS-level resource backing a loop or handle
// could not be created.
type InitError struct {
	Err  error
	Kind string
}

// Error implements the error interface.
func (e *InitError) Error() string {
	if e.Err == nil {
		return "reactor: " + e.Kind + " init failed"
	}
	return "reactor: " + e.Kind + " init failed: " + e.Err.Error()
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *InitError) Unwrap() error {
	return e.Err
}

// OpError reports that a requested operation failed. It is never retried
// by this package.
type OpError struct {
	Err error
	Op  string
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Err == nil {
		return "reactor: " + e.Op + " failed"
	}
	return "reactor: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *OpError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking task or callback.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e PanicError) Error() string {
	return fmt.Sprintf("reactor: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// opErr wraps err as an *OpError, or returns nil.
func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}
