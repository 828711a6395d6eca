//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package server

import "syscall"

// listenControl 在不支持 SO_REUSEPORT 的平台上不做任何处理。
func listenControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
