package scheduler

import (
	"context"
	"go_ota/constants"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// Component is driven by the run loop: Setup once, then Loop every tick
type Component interface {
	Name() string
	Setup() error
	Loop()
}

// Clock returns milliseconds since boot. The counter wraps like a hardware tick.
type Clock interface {
	Millis() uint32
}

// SystemClock counts milliseconds since it was created
type SystemClock struct {
	boot time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{boot: time.Now()}
}

func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.boot) / time.Millisecond)
}

type registered struct {
	component Component
	status    *Status
}

type timeout struct {
	start uint32
	delay uint32
	fn    func()
}

// App is the single cooperative run loop of the device
type App struct {
	clock    Clock
	watchdog *Watchdog
	rebooter Rebooter
	interval time.Duration

	components    []registered
	loopStartTime uint32

	mu       sync.Mutex
	timeouts map[string]*timeout

	rebooting atomic.Bool
}

// New creates a run loop. watchdog may be nil.
func New(clock Clock, watchdog *Watchdog, rebooter Rebooter) *App {
	if clock == nil {
		clock = NewSystemClock()
	}
	if rebooter == nil {
		rebooter = NoopRebooter{}
	}
	return &App{
		clock:    clock,
		watchdog: watchdog,
		rebooter: rebooter,
		interval: constants.LOOP_INTERVAL,
		timeouts: make(map[string]*timeout),
	}
}

// NewStatus creates the health flags of a component backed by this loop's timers
func (a *App) NewStatus(name string) *Status {
	return NewStatus(name, a)
}

// Register adds a component with its status flags
func (a *App) Register(c Component, status *Status) {
	if status == nil {
		status = a.NewStatus(c.Name())
	}
	a.components = append(a.components, registered{component: c, status: status})
}

// Setup runs every component's Setup. A failing component is marked failed and never loops.
func (a *App) Setup() {
	for _, r := range a.components {
		glog.V(1).Infof("Setting up %s", r.component.Name())
		if err := r.component.Setup(); err != nil {
			glog.Errorf("Component %s setup failed: %v", r.component.Name(), err)
			r.status.MarkFailed()
		}
		a.FeedWatchdog()
	}
}

// Tick loops every healthy component once and fires due timeouts
func (a *App) Tick() {
	for _, r := range a.components {
		if r.status.IsFailed() {
			continue
		}
		a.loopStartTime = a.clock.Millis()
		r.component.Loop()
		a.FeedWatchdog()
		if a.rebooting.Load() {
			return
		}
	}
	a.runTimeouts()
}

// Run sets up all components and ticks until ctx is done or a reboot was requested
func (a *App) Run(ctx context.Context) error {
	a.Setup()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for !a.rebooting.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.Tick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// LoopStartTime is the clock value taken right before the current component's Loop
func (a *App) LoopStartTime() uint32 {
	return a.loopStartTime
}

func (a *App) Millis() uint32 {
	return a.clock.Millis()
}

func (a *App) FeedWatchdog() {
	if a.watchdog != nil {
		a.watchdog.Feed()
	}
}

func (a *App) Delay(d time.Duration) {
	time.Sleep(d)
}

// Yield feeds the watchdog and hands the processor to anything else that is runnable
func (a *App) Yield() {
	a.FeedWatchdog()
	a.Delay(time.Millisecond)
}

// SetTimeout runs fn once ms milliseconds have passed, replacing a pending timeout of the same name
func (a *App) SetTimeout(name string, ms uint32, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeouts[name] = &timeout{start: a.clock.Millis(), delay: ms, fn: fn}
}

func (a *App) runTimeouts() {
	now := a.clock.Millis()
	var due []func()
	a.mu.Lock()
	for name, t := range a.timeouts {
		if now-t.start >= t.delay {
			due = append(due, t.fn)
			delete(a.timeouts, name)
		}
	}
	a.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

// SafeReboot stops the loop and hands over to the rebooter
func (a *App) SafeReboot() {
	glog.Info("Rebooting")
	a.rebooting.Store(true)
	glog.Flush()
	if err := a.rebooter.Reboot(); err != nil {
		glog.Errorf("Reboot failed: %v", err)
	}
}

// Rebooting reports whether SafeReboot has been called
func (a *App) Rebooting() bool {
	return a.rebooting.Load()
}
