// Package events provides the notification bus that the performance core
// publishes onto. Pools, renderers, the metrics tracker, and the manager all
// emit typed events here; the UI layer subscribes and drains them on its own
// turn of the event loop. Publishing never blocks the publisher: a subscriber
// whose buffer is full simply misses the event (a per-subscriber drop counter
// records how often that happened).
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies the category of an Event.
type Kind int

const (
	// KindUnknown is the zero value and is never published.
	KindUnknown Kind = iota

	// Pool lifecycle.
	PoolObjectCreated
	PoolObjectReused
	PoolObjectReturned
	PoolObjectDiscarded
	PoolCleared

	// Progressive rendering lifecycle.
	RenderStarted
	RenderBatch
	RenderProgress
	RenderCompleted
	RenderCancelled
	RenderPaused
	RenderResumed

	// Metrics.
	MetricRecorded
	ThresholdExceeded

	// Manager / memory management.
	CleanupStarted
	CleanupCompleted
	PerformanceWarning
)

// String returns a short stable name for the kind, suitable for logs.
func (k Kind) String() string {
	switch k {
	case PoolObjectCreated:
		return "pool.created"
	case PoolObjectReused:
		return "pool.reused"
	case PoolObjectReturned:
		return "pool.returned"
	case PoolObjectDiscarded:
		return "pool.discarded"
	case PoolCleared:
		return "pool.cleared"
	case RenderStarted:
		return "render.started"
	case RenderBatch:
		return "render.batch"
	case RenderProgress:
		return "render.progress"
	case RenderCompleted:
		return "render.completed"
	case RenderCancelled:
		return "render.cancelled"
	case RenderPaused:
		return "render.paused"
	case RenderResumed:
		return "render.resumed"
	case MetricRecorded:
		return "metrics.recorded"
	case ThresholdExceeded:
		return "metrics.threshold"
	case CleanupStarted:
		return "memory.cleanup.started"
	case CleanupCompleted:
		return "memory.cleanup.completed"
	case PerformanceWarning:
		return "perf.warning"
	default:
		return "unknown"
	}
}

// Event is a single notification. Source names the emitting component (pool
// name, renderer name, or operation name); the numeric fields carry
// kind-specific payloads so subscribers do not need type switches on an
// interface value.
type Event struct {
	Kind   Kind
	Source string
	At     time.Time

	// Render payloads: batch index / rendered count.
	Index int
	// Render payloads: total batches / total items.
	Total int
	// RenderProgress: completed fraction in [0, 1].
	Fraction float64

	// Metrics payloads.
	Duration  time.Duration
	Threshold time.Duration

	// CleanupCompleted: reclaimed object count.
	Count int
}

// subscriber is one registered listener with its delivery channel.
type subscriber struct {
	ch      chan Event
	dropped atomic.Int64
}

// Bus fans events out to subscribers. The zero value is not usable; create
// one with NewBus. A nil *Bus is safe to publish on (all methods no-op),
// which lets components treat the bus as optional.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int

	published atomic.Int64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a listener and returns its delivery channel along with
// a cancel function. The channel has the given buffer capacity (minimum 1).
// Events published while the buffer is full are dropped for that subscriber
// only. Cancel closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if b == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	if buffer < 1 {
		buffer = 1
	}

	s := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Publish delivers e to every current subscriber without blocking. If e.At is
// zero it is stamped with the current time.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.published.Add(1)
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Published returns the total number of events published on the bus.
func (b *Bus) Published() int64 {
	if b == nil {
		return 0
	}
	return b.published.Load()
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
