//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package main

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortControl returns a net.ListenConfig.Control function that sets
// SO_REUSEPORT (and SO_REUSEADDR) on the raw socket before bind, so the
// shared receive socket and every worker's dedicated send socket can all
// bind the same local (ip, port) pair. When reuse is false it returns nil,
// leaving the standard library's default bind behavior in place.
func reusePortControl(reuse bool) func(network, address string, c syscall.RawConn) error {
	if !reuse {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			if sockErr != nil {
				return
			}
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
