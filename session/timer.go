package session

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Timer fires at a fixed interval, running an optional scripted callback
// and/or sending a reaction line to its bound session. A timer with
// MaxTicks zero runs until stopped.
type Timer struct {
	Name     string
	Duration time.Duration

	// Callback is scheduled onto the coordinator loop on each tick.
	Callback func() error
	// Reaction is sent to the bound session as a scripted input line on
	// each tick.
	Reaction string

	// MaxTicks stops the timer automatically after this many ticks.
	// Zero means unbounded.
	MaxTicks uint64

	mu       sync.Mutex
	hitCount uint64
	running  bool
	timer    *time.Timer
}

// NewTimer creates a stopped timer.
func NewTimer(name string, d time.Duration) *Timer {
	return &Timer{Name: name, Duration: d}
}

// HitCount returns how many times the timer has fired.
func (t *Timer) HitCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hitCount
}

// Running reports whether the timer task is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start arms the timer. tick is invoked from the timer goroutine on each
// fire; callers route it onto their own loop. Starting a running timer is
// a no-op with a warning - there is never more than one task per timer.
func (t *Timer) Start(tick func(*Timer)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		log.WithField("timer", t.Name).Warn("timer already running")
		return
	}
	t.running = true
	t.timer = time.AfterFunc(t.Duration, func() { t.fire(tick) })
}

// Stop aborts the timer task immediately. The hit count is preserved.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if !t.running {
		return
	}
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// fire counts a tick, reschedules (fixed-interval semantics, like the
// repeating timers elsewhere in the client) and hands the tick out.
func (t *Timer) fire(tick func(*Timer)) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.hitCount++
	if t.MaxTicks > 0 && t.hitCount >= t.MaxTicks {
		t.stopLocked()
	} else {
		t.timer = time.AfterFunc(t.Duration, func() { t.fire(tick) })
	}
	t.mu.Unlock()

	tick(t)
}
