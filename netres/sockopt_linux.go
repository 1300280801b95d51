//go:build linux

package netres

import (
	"golang.org/x/sys/unix"
)

// setKeepAliveIdle sets the idle time before the first keepalive probe.
func setKeepAliveIdle(fd, secs int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs); err != nil {
		return err
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
}
