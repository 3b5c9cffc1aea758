package scheduler

import (
	"fmt"

	"github.com/golang/glog"
)

// Rebooter starts the freshly installed image
type Rebooter interface {
	Reboot() error
}

// NoopRebooter only logs, the process keeps running the old image
type NoopRebooter struct{}

func (NoopRebooter) Reboot() error {
	glog.Info("Reboot requested, new image will run on next start")
	return nil
}

// NewRebooter selects a rebooter by name: "none", "exec" (re-exec image) or "system"
func NewRebooter(mode, image string, args []string) (Rebooter, error) {
	switch mode {
	case "", "none":
		return NoopRebooter{}, nil
	case "exec":
		return newExecRebooter(image, args)
	case "system":
		return newSystemRebooter()
	}
	return nil, fmt.Errorf("unknown reboot mode %q", mode)
}
