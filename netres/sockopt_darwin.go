//go:build darwin

package netres

import (
	"golang.org/x/sys/unix"
)

// setKeepAliveIdle sets the idle time before the first keepalive probe.
func setKeepAliveIdle(fd, secs int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, secs)
}
