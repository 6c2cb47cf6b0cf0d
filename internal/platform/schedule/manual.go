package schedule

import (
	"sync"
	"time"
)

// Manual is a Scheduler driven by Advance instead of wall time. Callbacks run synchronously on the
// goroutine calling Advance, in due-time order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	entries []*manualEntry
}

type manualEntry struct {
	owner   *Manual
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

// NewManual returns a Manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the scheduler's current instant.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc implements Scheduler.
func (m *Manual) AfterFunc(delay time.Duration, fn func()) Stopper {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	entry := &manualEntry{owner: m, at: m.now.Add(delay), seq: m.seq, fn: fn}
	m.entries = append(m.entries, entry)
	return entry
}

// Advance moves the clock forward by d and runs every callback that becomes due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.compactLocked()
			m.mu.Unlock()
			return
		}
		next.fired = true
		if next.at.After(m.now) {
			m.now = next.at
		}
		m.mu.Unlock()

		next.fn()
	}
}

// Pending returns the number of callbacks that are armed and not yet fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, entry := range m.entries {
		if !entry.stopped && !entry.fired {
			count++
		}
	}
	return count
}

func (m *Manual) nextDueLocked(target time.Time) *manualEntry {
	var next *manualEntry
	for _, entry := range m.entries {
		if entry.stopped || entry.fired || entry.at.After(target) {
			continue
		}
		if next == nil || entry.at.Before(next.at) || (entry.at.Equal(next.at) && entry.seq < next.seq) {
			next = entry
		}
	}
	return next
}

func (m *Manual) compactLocked() {
	live := m.entries[:0]
	for _, entry := range m.entries {
		if !entry.stopped && !entry.fired {
			live = append(live, entry)
		}
	}
	for i := len(live); i < len(m.entries); i++ {
		m.entries[i] = nil
	}
	m.entries = live
}

func (e *manualEntry) Stop() bool {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	if e.stopped || e.fired {
		return false
	}
	e.stopped = true
	return true
}
