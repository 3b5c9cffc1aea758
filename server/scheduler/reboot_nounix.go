//go:build !unix

package scheduler

import "errors"

func newExecRebooter(image string, args []string) (Rebooter, error) {
	return nil, errors.New("exec reboot is not supported on this platform")
}
