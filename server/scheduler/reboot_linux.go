//go:build linux

package scheduler

import "golang.org/x/sys/unix"

// SystemRebooter restarts the whole machine
type SystemRebooter struct{}

func newSystemRebooter() (Rebooter, error) {
	return SystemRebooter{}, nil
}

func (SystemRebooter) Reboot() error {
	unix.Sync()
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}
