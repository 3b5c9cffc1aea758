//go:build unix

package fileio

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncDevice flushes written blocks all the way to the medium
func syncDevice(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}
