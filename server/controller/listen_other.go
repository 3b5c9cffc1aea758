//go:build !unix

package server

import "syscall"

func listenControl(network, address string, c syscall.RawConn) error {
	return nil
}
