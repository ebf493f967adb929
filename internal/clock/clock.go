// Package clock abstracts timer scheduling so components that debounce or
// back off can be tested without real sleeps.
package clock

import (
	"sync"
	"time"
)

// Timer is a scheduled callback that can be stopped before it fires.
type Timer interface {
	// Stop cancels the timer. It reports whether the callback was
	// prevented from running.
	Stop() bool
}

// Scheduler schedules callbacks to run after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is a Scheduler backed by the runtime timers.
type Real struct{}

// AfterFunc schedules f to run after d.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a manually advanced Scheduler for tests. Callbacks run
// synchronously inside Advance, in scheduling order per deadline.
type Fake struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	fake    *Fake
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

// NewFake creates a Fake scheduler starting at time zero.
func NewFake() *Fake {
	return &Fake{}
}

// AfterFunc registers f to run once the fake time has advanced by d.
func (fk *Fake) AfterFunc(d time.Duration, f func()) Timer {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	t := &fakeTimer{fake: fk, at: fk.now + d, f: f}
	fk.timers = append(fk.timers, t)
	return t
}

// Advance moves the fake clock forward and fires every due timer.
func (fk *Fake) Advance(d time.Duration) {
	fk.mu.Lock()
	fk.now += d
	var due []*fakeTimer
	for _, t := range fk.timers {
		if !t.stopped && !t.fired && t.at <= fk.now {
			t.fired = true
			due = append(due, t)
		}
	}
	fk.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of timers that are scheduled but have not
// fired or been stopped.
func (fk *Fake) Pending() int {
	fk.mu.Lock()
	defer fk.mu.Unlock()

	n := 0
	for _, t := range fk.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (t *fakeTimer) Stop() bool {
	t.fake.mu.Lock()
	defer t.fake.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
