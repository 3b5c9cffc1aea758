//go:build unix

package scheduler

import (
	"os"

	"golang.org/x/sys/unix"
)

// ExecRebooter replaces the running process with the installed image
type ExecRebooter struct {
	Image string
	Args  []string
}

func newExecRebooter(image string, args []string) (Rebooter, error) {
	return &ExecRebooter{Image: image, Args: args}, nil
}

func (r *ExecRebooter) Reboot() error {
	if err := os.Chmod(r.Image, 0o755); err != nil {
		return err
	}
	argv := append([]string{r.Image}, r.Args...)
	return unix.Exec(r.Image, argv, os.Environ())
}
