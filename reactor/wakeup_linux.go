//go:build linux

package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// createWakeFd creates a non-blocking eventfd for wake-up notifications.
// The single eventfd is returned as both read and write ends.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

// signalWakeFd adds one to the eventfd counter. EAGAIN means the counter is
// saturated, i.e. a wake is already pending.
func signalWakeFd(w int) error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := ignoringEINTR(func() (int, error) { return writeFD(w, buf[:]) })
	return err
}

// drainWakeFd resets the eventfd counter.
func drainWakeFd(r int) {
	var buf [8]byte
	_, _ = ignoringEINTR(func() (int, error) { return readFD(r, buf[:]) })
}

// closeWakeFd releases the write end, which on Linux is the same
// descriptor as the read end and is therefore left to the owner of r.
func closeWakeFd(r, w int) error {
	if w < 0 || w == r {
		return nil
	}
	return closeFD(w)
}
