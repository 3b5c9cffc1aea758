package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// ErrWatchdogExpired is returned by Watchdog.Run when the loop stopped feeding it
var ErrWatchdogExpired = errors.New("watchdog expired")

// Watchdog resets the device when it is not fed within its timeout
type Watchdog struct {
	timeout  time.Duration
	last     atomic.Int64
	onExpire func()
}

// NewWatchdog returns a watchdog calling onExpire on expiry. A nil onExpire exits the process.
func NewWatchdog(timeout time.Duration, onExpire func()) *Watchdog {
	if onExpire == nil {
		onExpire = func() {
			glog.Fatalf("Watchdog not fed for %v, resetting", timeout)
		}
	}
	w := &Watchdog{timeout: timeout, onExpire: onExpire}
	w.Feed()
	return w
}

func (w *Watchdog) Feed() {
	w.last.Store(time.Now().UnixNano())
}

// Expired reports whether the last feed is older than the timeout
func (w *Watchdog) Expired() bool {
	return time.Since(time.Unix(0, w.last.Load())) > w.timeout
}

// Run checks the watchdog until ctx is done or it expires
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(max(w.timeout/4, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.Expired() {
				w.onExpire()
				return ErrWatchdogExpired
			}
		}
	}
}
