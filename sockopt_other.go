//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package main

import "syscall"

// reusePortControl is a no-op on platforms without SO_REUSEPORT (e.g.
// Windows). Every worker falls back to sharing the single receive socket
// for replies as well; see startWorkers.
func reusePortControl(reuse bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
