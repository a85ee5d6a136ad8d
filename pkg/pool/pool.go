// Package pool implements bounded object reuse for expensive, short-lived UI
// elements. A Pool hands out instances via Acquire/Release: released objects
// queue FIFO in a size-bounded idle list and are reused before anything new
// is constructed; returns beyond the bound are cleaned up and discarded
// rather than retained.
//
// Reset happens at exactly one point: on Release. An object sitting in the
// idle list is therefore always already clean, and Acquire never re-resets.
// New objects are clean by construction.
package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gitlab.com/tinyland/lab/mise/pkg/events"
)

// DefaultMaxIdle bounds the idle list when Config.MaxIdle is zero.
const DefaultMaxIdle = 20

// ErrNotInUse is returned by Release when the object is not currently
// checked out of the pool.
var ErrNotInUse = errors.New("pool: object not in use")

// Resettable is implemented by objects that know how to clear their own
// accumulated state. The pool prefers this over the configured Reset hook.
type Resettable interface {
	Reset()
}

// Cleanable is implemented by objects that know how to release their own
// resources. The pool prefers this over the configured Cleanup hook.
type Cleanable interface {
	Cleanup()
}

// Config configures a Pool. Factory is required; everything else is
// optional.
type Config[T comparable] struct {
	// Name identifies the pool in logs and events.
	Name string

	// Factory constructs a new instance on an Acquire miss. Must be cheap
	// and must not block.
	Factory func() T

	// Reset clears an instance's state. Used only when the instance does
	// not implement Resettable.
	Reset func(T)

	// Cleanup releases an instance's resources before it is discarded.
	// Used only when the instance does not implement Cleanable.
	Cleanup func(T)

	// MaxIdle bounds the idle list. Default: DefaultMaxIdle.
	MaxIdle int

	// Bus receives pool lifecycle events. Optional.
	Bus *events.Bus

	// Logger used for usage warnings. Default: slog.Default().
	Logger *slog.Logger
}

// PoolStats is a point-in-time snapshot of a pool's counters.
type PoolStats struct {
	Created    int64 `json:"created"`
	Reused     int64 `json:"reused"`
	Returned   int64 `json:"returned"`
	IdleCount  int   `json:"pool_size"`
	InUseCount int   `json:"in_use_count"`
	TotalCount int   `json:"total_count"`
	MaxIdle    int   `json:"max_size"`
}

// Pool is a bounded cache of reusable T instances. Every live instance is in
// exactly one of the idle list or the in-use set. Safe for concurrent use.
type Pool[T comparable] struct {
	cfg Config[T]
	log *slog.Logger

	mu       sync.Mutex
	idle     []T // FIFO: index 0 is reused first
	inUse    map[T]struct{}
	created  int64
	reused   int64
	returned int64
}

// New creates a Pool. It returns an error if Factory is nil or MaxIdle is
// negative; a zero MaxIdle gets the default.
func New[T comparable](cfg Config[T]) (*Pool[T], error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("pool %q: factory is required", cfg.Name)
	}
	if cfg.MaxIdle < 0 {
		return nil, fmt.Errorf("pool %q: max idle %d is negative", cfg.Name, cfg.MaxIdle)
	}
	if cfg.MaxIdle == 0 {
		cfg.MaxIdle = DefaultMaxIdle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool[T]{
		cfg:   cfg,
		log:   cfg.Logger,
		inUse: make(map[T]struct{}),
	}, nil
}

// Name returns the pool's configured name.
func (p *Pool[T]) Name() string { return p.cfg.Name }

// Acquire returns a ready-to-use instance: the oldest idle one if any exist,
// otherwise a freshly constructed one. Either way the instance is clean —
// idle objects were reset when released, new objects are clean by
// construction.
func (p *Pool[T]) Acquire() T {
	p.mu.Lock()
	if len(p.idle) > 0 {
		obj := p.idle[0]
		p.idle = p.idle[1:]
		p.inUse[obj] = struct{}{}
		p.reused++
		p.mu.Unlock()
		p.cfg.Bus.Publish(events.Event{Kind: events.PoolObjectReused, Source: p.cfg.Name})
		return obj
	}
	p.mu.Unlock()

	// Construct outside the lock; factories may be nontrivial.
	obj := p.cfg.Factory()

	p.mu.Lock()
	p.inUse[obj] = struct{}{}
	p.created++
	p.mu.Unlock()
	p.cfg.Bus.Publish(events.Event{Kind: events.PoolObjectCreated, Source: p.cfg.Name})
	return obj
}

// Release returns a checked-out instance to the pool. The instance is reset;
// if the idle list has room it queues for reuse, otherwise it is cleaned up
// and discarded. Releasing an object the pool did not hand out (or releasing
// twice) is a usage error: logged, ErrNotInUse returned, nothing changed.
func (p *Pool[T]) Release(obj T) error {
	p.mu.Lock()
	if _, ok := p.inUse[obj]; !ok {
		p.mu.Unlock()
		p.log.Warn("pool: release of object not in use", "pool", p.cfg.Name)
		return ErrNotInUse
	}
	delete(p.inUse, obj)
	p.mu.Unlock()

	p.reset(obj)

	p.mu.Lock()
	if len(p.idle) < p.cfg.MaxIdle {
		p.idle = append(p.idle, obj)
		p.returned++
		p.mu.Unlock()
		p.cfg.Bus.Publish(events.Event{Kind: events.PoolObjectReturned, Source: p.cfg.Name})
		return nil
	}
	p.mu.Unlock()

	// Idle list full: the object leaves the pool for good.
	p.cleanup(obj)
	p.cfg.Bus.Publish(events.Event{Kind: events.PoolObjectDiscarded, Source: p.cfg.Name})
	return nil
}

// ReleaseAll releases every currently checked-out instance. Used when a
// consumer discards an entire rendered set at once.
func (p *Pool[T]) ReleaseAll() {
	p.mu.Lock()
	out := make([]T, 0, len(p.inUse))
	for obj := range p.inUse {
		out = append(out, obj)
	}
	p.mu.Unlock()

	for _, obj := range out {
		_ = p.Release(obj)
	}
}

// Clear cleans up every instance the pool knows about, idle and in-use
// alike, and zeroes all counters. MaxIdle is unchanged.
func (p *Pool[T]) Clear() {
	p.mu.Lock()
	victims := make([]T, 0, len(p.idle)+len(p.inUse))
	victims = append(victims, p.idle...)
	for obj := range p.inUse {
		victims = append(victims, obj)
	}
	p.idle = nil
	p.inUse = make(map[T]struct{})
	p.created = 0
	p.reused = 0
	p.returned = 0
	p.mu.Unlock()

	for _, obj := range victims {
		p.cleanup(obj)
	}
	p.cfg.Bus.Publish(events.Event{Kind: events.PoolCleared, Source: p.cfg.Name})
}

// Stats returns a snapshot of the pool's counters. No side effects.
func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Created:    p.created,
		Reused:     p.reused,
		Returned:   p.returned,
		IdleCount:  len(p.idle),
		InUseCount: len(p.inUse),
		TotalCount: len(p.idle) + len(p.inUse),
		MaxIdle:    p.cfg.MaxIdle,
	}
}

// reset clears obj's state, preferring the object's own Reset method over
// the configured hook. A panicking hook is contained here; it must not
// corrupt pool bookkeeping.
func (p *Pool[T]) reset(obj T) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pool: reset hook panicked", "pool", p.cfg.Name, "panic", r)
		}
	}()
	if r, ok := any(obj).(Resettable); ok {
		r.Reset()
		return
	}
	if p.cfg.Reset != nil {
		p.cfg.Reset(obj)
	}
}

// cleanup releases obj's resources, preferring the object's own Cleanup
// method over the configured hook.
func (p *Pool[T]) cleanup(obj T) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("pool: cleanup hook panicked", "pool", p.cfg.Name, "panic", r)
		}
	}()
	if c, ok := any(obj).(Cleanable); ok {
		c.Cleanup()
		return
	}
	if p.cfg.Cleanup != nil {
		p.cfg.Cleanup(obj)
	}
}
