package scheduler

import (
	"sync/atomic"

	"github.com/golang/glog"
)

// Timers schedules deferred work on the run loop
type Timers interface {
	SetTimeout(name string, ms uint32, fn func())
}

// Status holds the externally visible health of a component
type Status struct {
	name    string
	timers  Timers
	warning atomic.Bool
	err     atomic.Bool
	failed  atomic.Bool
}

func NewStatus(name string, timers Timers) *Status {
	return &Status{name: name, timers: timers}
}

func (s *Status) SetWarning() {
	if !s.warning.Swap(true) {
		glog.Warningf("Component %s set Warning flag", s.name)
	}
}

func (s *Status) ClearWarning() {
	if s.warning.Swap(false) {
		glog.Infof("Component %s cleared Warning flag", s.name)
	}
}

func (s *Status) HasWarning() bool {
	return s.warning.Load()
}

func (s *Status) SetError() {
	if !s.err.Swap(true) {
		glog.Errorf("Component %s set Error flag", s.name)
	}
}

func (s *Status) ClearError() {
	if s.err.Swap(false) {
		glog.Infof("Component %s cleared Error flag", s.name)
	}
}

func (s *Status) HasError() bool {
	return s.err.Load()
}

// MomentaryError sets the error flag and clears it again after ms milliseconds
func (s *Status) MomentaryError(name string, ms uint32) {
	s.SetError()
	s.timers.SetTimeout(s.name+"/"+name, ms, s.ClearError)
}

// MarkFailed permanently stops the component
func (s *Status) MarkFailed() {
	glog.Errorf("Component %s was marked as failed", s.name)
	s.failed.Store(true)
	s.SetError()
}

func (s *Status) IsFailed() bool {
	return s.failed.Load()
}
