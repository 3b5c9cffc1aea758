//go:build !unix

package fileio

import "os"

func syncDevice(f *os.File) error {
	return f.Sync()
}
