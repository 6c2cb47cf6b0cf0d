package schedule

import (
	"sync"
	"time"
)

// Stopper cancels a scheduled callback. Stop reports whether the call prevented the callback from running.
type Stopper interface {
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(delay time.Duration, fn func()) Stopper
}

// SchedulerFunc adapts a function to the Scheduler interface.
type SchedulerFunc func(delay time.Duration, fn func()) Stopper

// AfterFunc implements Scheduler.
func (f SchedulerFunc) AfterFunc(delay time.Duration, fn func()) Stopper {
	return f(delay, fn)
}

// System schedules callbacks on the runtime timer wheel.
func System() Scheduler {
	return SchedulerFunc(func(delay time.Duration, fn func()) Stopper {
		return time.AfterFunc(delay, fn)
	})
}

// Timer is a re-armable, cancellable one-shot timer. Arming replaces any pending callback, which gives
// trailing-debounce semantics when Arm is called on every triggering event.
type Timer struct {
	scheduler Scheduler

	mu         sync.Mutex
	pending    Stopper
	generation uint64
}

// NewTimer constructs a Timer. A nil scheduler uses System.
func NewTimer(scheduler Scheduler) *Timer {
	if scheduler == nil {
		scheduler = System()
	}
	return &Timer{scheduler: scheduler}
}

// Arm schedules fn to run after delay, cancelling any previously armed callback.
func (t *Timer) Arm(delay time.Duration, fn func()) {
	if t == nil || fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending != nil {
		t.pending.Stop()
	}
	t.generation++
	armed := t.generation
	t.pending = t.scheduler.AfterFunc(delay, func() {
		t.mu.Lock()
		// A callback that lost the race with Stop must not run.
		if t.generation != armed {
			t.mu.Unlock()
			return
		}
		t.pending = nil
		t.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending callback, if any. It reports whether one was pending.
func (t *Timer) Cancel() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		return false
	}
	t.pending.Stop()
	t.pending = nil
	t.generation++
	return true
}

// Pending reports whether a callback is armed and has not fired yet.
func (t *Timer) Pending() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}
