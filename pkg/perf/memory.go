package perf

import (
	"runtime"
	"time"
	"weak"

	"gitlab.com/tinyland/lab/mise/pkg/events"
)

// OpCleanup is the metrics operation name for memory sweep durations.
const OpCleanup = "memory.cleanup"

// weakRef observes one externally-owned object without extending its
// lifetime.
type weakRef interface {
	alive() bool
}

type weakHandle[T any] struct {
	p weak.Pointer[T]
}

func (h weakHandle[T]) alive() bool { return h.p.Value() != nil }

// Track registers obj for the periodic memory sweep. The manager holds only
// a weak pointer: tracking never keeps obj reachable. Once the collector
// reclaims obj, the next sweep prunes its entry.
func Track[T any](m *Manager, obj *T) {
	if obj == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.tracked = append(m.tracked, weakHandle[T]{p: weak.Make(obj)})
}

// TrackedCount returns the number of weak references currently registered,
// dead ones included until the next sweep prunes them.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// StartMemoryManagement begins the periodic cleanup sweep. A non-positive
// interval takes DefaultCleanupInterval. Calling again reschedules with the
// new interval.
func (m *Manager) StartMemoryManagement(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.sweepGen++
	if m.sweepHandle != nil {
		m.sweepHandle.Cancel()
		m.sweepHandle = nil
	}
	m.sweepInterval = interval
	m.scheduleSweepLocked(m.sweepGen)
	m.mu.Unlock()
}

// StopMemoryManagement cancels the periodic sweep. Idempotent.
func (m *Manager) StopMemoryManagement() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepGen++
	if m.sweepHandle != nil {
		m.sweepHandle.Cancel()
		m.sweepHandle = nil
	}
	m.sweepInterval = 0
}

// scheduleSweepLocked queues the next sweep tick for generation gen.
// Caller must hold m.mu.
func (m *Manager) scheduleSweepLocked(gen uint64) {
	m.sweepHandle = m.sched.Schedule(m.sweepInterval, func() {
		m.sweepTick(gen)
	})
}

// sweepTick runs one periodic sweep and reschedules itself while its
// generation is still current.
func (m *Manager) sweepTick(gen uint64) {
	m.mu.Lock()
	if m.closed || m.sweepGen != gen {
		m.mu.Unlock()
		return
	}
	m.sweepHandle = nil
	m.mu.Unlock()

	m.TriggerCleanup()

	m.mu.Lock()
	if !m.closed && m.sweepGen == gen {
		m.scheduleSweepLocked(gen)
	}
	m.mu.Unlock()
}

// TriggerCleanup runs one memory sweep immediately: dead weak references are
// pruned from the tracking list and a collection pass is requested. The
// returned count covers both pruned references and heap objects the runtime
// reclaimed during the pass. A sweep already in progress makes this call a
// no-op returning 0.
func (m *Manager) TriggerCleanup() int {
	m.mu.Lock()
	if m.sweepRunning {
		m.mu.Unlock()
		return 0
	}
	m.sweepRunning = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.sweepRunning = false
		m.mu.Unlock()
	}()

	m.bus.Publish(events.Event{Kind: events.CleanupStarted})
	start := time.Now()

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	m.mu.Lock()
	kept := m.tracked[:0]
	pruned := 0
	for _, ref := range m.tracked {
		if ref.alive() {
			kept = append(kept, ref)
		} else {
			pruned++
		}
	}
	m.tracked = kept
	m.mu.Unlock()

	runtime.GC()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	collected := 0
	if after.HeapObjects < before.HeapObjects {
		collected = int(before.HeapObjects - after.HeapObjects)
	}
	count := pruned + collected

	m.tracker.RecordDuration(OpCleanup, time.Since(start), nil)
	m.bus.Publish(events.Event{Kind: events.CleanupCompleted, Count: count})
	m.log.Debug("perf: memory cleanup finished",
		"pruned_refs", pruned, "collected_objects", collected)
	return count
}

// CleanupInterval returns the current sweep period, or zero when the
// periodic sweep is stopped.
func (m *Manager) CleanupInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepInterval
}
