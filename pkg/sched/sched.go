// Package sched abstracts single-shot delayed callbacks so that the
// progressive renderer and the memory sweep are not bound to a particular
// timer source. Production code uses the Timer scheduler; tests substitute
// Manual and advance time by hand.
package sched

import (
	"sync"
	"time"
)

// Handle identifies one scheduled callback and allows cancelling it.
type Handle interface {
	// Cancel prevents the callback from running if it has not fired yet.
	// It reports whether the callback was still pending. Cancelling an
	// already-fired or already-cancelled callback is a no-op returning false.
	Cancel() bool
}

// Scheduler runs a function once after a delay.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) Handle
}

// Timer is the production Scheduler backed by time.AfterFunc.
type Timer struct{}

// NewTimer returns the timer-backed scheduler.
func NewTimer() *Timer { return &Timer{} }

type timerHandle struct {
	t *time.Timer
}

func (h *timerHandle) Cancel() bool { return h.t.Stop() }

// Schedule runs fn once after d. A non-positive delay still defers fn to the
// timer goroutine rather than running it inline, so callers can rely on
// Schedule never re-entering them synchronously.
func (t *Timer) Schedule(d time.Duration, fn func()) Handle {
	if d < 0 {
		d = 0
	}
	return &timerHandle{t: time.AfterFunc(d, fn)}
}

// Manual is a deterministic Scheduler for tests. Callbacks queue up with a
// due time measured on a virtual clock; Advance moves the clock and runs
// everything that has come due, in scheduling order, on the caller's
// goroutine.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	next    int
	pending []*manualEntry
}

type manualEntry struct {
	seq       int
	due       time.Duration
	fn        func()
	cancelled bool
	fired     bool
	owner     *Manual
}

func (e *manualEntry) Cancel() bool {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	if e.cancelled || e.fired {
		return false
	}
	e.cancelled = true
	return true
}

// NewManual creates an empty manual scheduler with its clock at zero.
func NewManual() *Manual { return &Manual{} }

// Schedule queues fn to run when the virtual clock reaches now+d.
func (m *Manual) Schedule(d time.Duration, fn func()) Handle {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &manualEntry{seq: m.next, due: m.now + d, fn: fn, owner: m}
	m.next++
	m.pending = append(m.pending, e)
	return e
}

// Pending returns the number of queued, uncancelled callbacks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.pending {
		if !e.cancelled {
			n++
		}
	}
	return n
}

// Advance moves the virtual clock forward by d, running due callbacks in
// due-time order as the clock passes them. A callback that schedules more
// work sees the clock at its own due time, so chained ticks landing within
// the advanced window all run in the same call.
func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		e := m.popDueBefore(target)
		if e == nil {
			break
		}
		e.fn()
	}

	m.mu.Lock()
	if target > m.now {
		m.now = target
	}
	m.mu.Unlock()
}

// Fire runs the earliest pending callback regardless of its due time,
// reporting whether one ran. Useful when a test does not care about delays.
func (m *Manual) Fire() bool {
	e := m.popEarliest()
	if e == nil {
		return false
	}
	e.fn()
	return true
}

// popDueBefore removes and returns the earliest callback due at or before
// target, advancing the clock to its due time, or nil when none qualify.
func (m *Manual) popDueBefore(target time.Duration) *manualEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := -1
	for i, e := range m.pending {
		if e.cancelled || e.due > target {
			continue
		}
		if best == -1 || e.due < m.pending[best].due ||
			(e.due == m.pending[best].due && e.seq < m.pending[best].seq) {
			best = i
		}
	}
	return m.removeAt(best)
}

// popEarliest removes and returns the earliest pending callback, or nil.
func (m *Manual) popEarliest() *manualEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := -1
	for i, e := range m.pending {
		if e.cancelled {
			continue
		}
		if best == -1 || e.due < m.pending[best].due ||
			(e.due == m.pending[best].due && e.seq < m.pending[best].seq) {
			best = i
		}
	}
	return m.removeAt(best)
}

// removeAt deletes index i from pending. Caller must hold m.mu.
// Also advances the clock to the entry's due time when popping early.
func (m *Manual) removeAt(i int) *manualEntry {
	if i < 0 {
		// Drop cancelled entries opportunistically so the slice does not
		// grow without bound across a long test.
		kept := m.pending[:0]
		for _, e := range m.pending {
			if !e.cancelled {
				kept = append(kept, e)
			}
		}
		m.pending = kept
		return nil
	}
	e := m.pending[i]
	e.fired = true
	m.pending = append(m.pending[:i], m.pending[i+1:]...)
	if e.due > m.now {
		m.now = e.due
	}
	return e
}
