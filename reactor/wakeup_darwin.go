//go:build darwin

package reactor

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a non-blocking, close-on-exec self-pipe for wake-up
// notifications. Returns the read end and the write end.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return -1, -1, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// signalWakeFd writes one byte to the pipe. EAGAIN means the pipe is full,
// i.e. a wake is already pending.
func signalWakeFd(w int) error {
	_, err := ignoringEINTR(func() (int, error) { return writeFD(w, []byte{1}) })
	return err
}

// drainWakeFd reads the pipe until it would block.
func drainWakeFd(r int) {
	var buf [64]byte
	for {
		n, err := ignoringEINTR(func() (int, error) { return readFD(r, buf[:]) })
		if err != nil || n < len(buf) {
			return
		}
	}
}

// closeWakeFd releases the write end of the pipe.
func closeWakeFd(r, w int) error {
	if w < 0 || w == r {
		return nil
	}
	return closeFD(w)
}
