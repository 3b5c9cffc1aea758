//go:build !linux

package scheduler

import "errors"

func newSystemRebooter() (Rebooter, error) {
	return nil, errors.New("system reboot is only supported on linux")
}
