package sys

import (
	"context"
	"sync"
)

// DaemonStarter reports whether a daemon should run, and returns its run loop
// and an optional stop hook.
type DaemonStarter func(ctx context.Context) (active bool, run func(), stop func())

type daemon struct {
	log   func(format string, v ...any)
	start DaemonStarter
}

// daemonSet starts every registered daemon once and stops them together.
type daemonSet struct {
	mu      sync.Mutex
	pending []daemon
	stops   []func()
	started bool
}

var daemons daemonSet

// RegisterDaemon queues a daemon for StartDaemons. log announces it on start.
func RegisterDaemon(log func(format string, v ...any), start DaemonStarter) {
	daemons.add(log, start)
}

func StartDaemons(ctx context.Context) { daemons.start(ctx) }

// ShutdownDaemons runs every stop hook concurrently and waits for all of them.
func ShutdownDaemons() { daemons.shutdown() }

func (s *daemonSet) add(log func(format string, v ...any), start DaemonStarter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, daemon{log: log, start: start})
}

func (s *daemonSet) start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true

	var runs []func()
	for _, d := range s.pending {
		active, run, stop := d.start(ctx)
		if !active || run == nil {
			continue
		}
		if stop != nil {
			s.stops = append(s.stops, stop)
		}
		d.log(MsgDaemonStarting)
		runs = append(runs, run)
	}
	s.pending = nil
	s.mu.Unlock()

	for _, run := range runs {
		SafeGo(run)
	}
}

func (s *daemonSet) shutdown() {
	s.mu.Lock()
	stops := s.stops
	s.stops = nil
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, stop := range stops {
		wg.Add(1)
		SafeGo(func() {
			defer wg.Done()
			stop()
		})
	}
	wg.Wait()
}
