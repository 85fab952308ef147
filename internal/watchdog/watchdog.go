/*
NAME
  watchdog.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package watchdog implements the monotonic timeout monitor described by
// the specification: a background sampling loop that compares elapsed
// time since the last kick against a caller-settable timeout, invoking a
// callback exactly once per overrun tick and using absolute sleeps so
// the loop's own runtime never accumulates drift.
package watchdog

import (
	"sync"
	"time"
)

// defaultInterval is the sampling loop's tick period. The specification
// leaves this to the caller; every orchestrator in practice samples much
// more finely than either the init or run timeout, so overruns are
// detected promptly.
const defaultInterval = 50 * time.Millisecond

// Watchdog samples a monotonic clock at a fixed interval and calls back
// once per tick in which the time since the last Kick exceeds the
// current timeout.
type Watchdog struct {
	interval time.Duration
	onOverrun func()

	mu       sync.Mutex
	lastKick time.Time
	timeout  time.Duration
	stopped  bool

	stop chan struct{}
	done chan struct{}
}

// New creates a Watchdog with the given initial timeout and overrun
// callback, and starts its sampling loop. The caller must eventually call
// Destroy.
func New(timeout time.Duration, onOverrun func()) *Watchdog {
	w := &Watchdog{
		interval:  defaultInterval,
		onOverrun: onOverrun,
		lastKick:  time.Now(),
		timeout:   timeout,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

// Kick records that the pipeline made progress just now, resetting the
// overrun clock.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	w.lastKick = time.Now()
	w.mu.Unlock()
}

// SetTimeout changes the overrun threshold without affecting the last
// kick time, matching the specification's "set_timeout (no kick)".
func (w *Watchdog) SetTimeout(d time.Duration) {
	w.mu.Lock()
	w.timeout = d
	w.mu.Unlock()
}

// Destroy stops the sampling loop and waits for it to exit.
func (w *Watchdog) Destroy() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	close(w.stop)
	<-w.done
}

// run is the sampling loop. It uses an absolute next-tick deadline
// rather than a fixed-period ticker so that slow callback invocations
// never cause the loop's own execution time to accumulate as drift.
func (w *Watchdog) run() {
	defer close(w.done)

	next := time.Now().Add(w.interval)
	for {
		select {
		case <-w.stop:
			return
		case <-time.After(time.Until(next)):
		}
		next = next.Add(w.interval)

		w.mu.Lock()
		overrun := time.Since(w.lastKick) > w.timeout
		if overrun {
			// Re-kick immediately so one full timeout period elapses
			// before the next overrun can be reported, per the
			// escalation contract.
			w.lastKick = time.Now()
		}
		w.mu.Unlock()

		if overrun && w.onOverrun != nil {
			w.onOverrun()
		}
	}
}
