// Package render drives cooperative, time-sliced materialization of UI
// element lists. Instead of building all N elements in one blocking pass, a
// Renderer delivers fixed-size batches to its target and yields back to the
// event loop between batches via a single-shot scheduled callback. Batches
// execute strictly in input order, one at a time; the two knobs — batch size
// and inter-batch delay — trade time-to-first-result against total
// completion time.
package render

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/mise/pkg/events"
	"gitlab.com/tinyland/lab/mise/pkg/metrics"
	"gitlab.com/tinyland/lab/mise/pkg/sched"
)

// Defaults applied when Config leaves the knobs at zero.
const (
	DefaultBatchSize = 10
	DefaultDelay     = 25 * time.Millisecond
)

// OpBatch is the metrics operation name under which batch durations are
// recorded when a Tracker is configured.
const OpBatch = "render.batch"

// State is the renderer lifecycle state.
type State int

const (
	Idle State = iota
	Rendering
	Paused
	Completed
	Cancelled
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Rendering:
		return "rendering"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Target receives the renderer's output. RenderBatch is called once per
// batch with the batch's items in input order; the remaining methods are
// lifecycle notifications.
type Target interface {
	RenderBatch(items []any, batchIndex, totalBatches int)
	RenderStarted(totalItems, totalBatches int)
	BatchComplete(batchIndex, totalBatches int)
	RenderComplete()
}

// Config configures a Renderer. Target is required.
type Config struct {
	// Name identifies the renderer in logs and events.
	Name string

	// Target receives batches and lifecycle notifications.
	Target Target

	// BatchSize is the number of items delivered per batch.
	// Default: DefaultBatchSize.
	BatchSize int

	// Delay is the pause between consecutive batches.
	// Default: DefaultDelay.
	Delay time.Duration

	// Scheduler provides the single-shot delayed callbacks between batches.
	// Default: the timer-backed scheduler.
	Scheduler sched.Scheduler

	// Bus receives renderer lifecycle and progress events. Optional.
	Bus *events.Bus

	// Tracker records per-batch durations under OpBatch. Optional.
	Tracker *metrics.Tracker

	// Logger used for usage warnings and callback failures.
	// Default: slog.Default().
	Logger *slog.Logger
}

// Option overrides a knob for one Start call.
type Option func(*runOpts)

type runOpts struct {
	batchSize int
	delay     time.Duration
}

// WithBatchSize overrides the configured batch size for this run.
func WithBatchSize(n int) Option {
	return func(o *runOpts) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithDelay overrides the configured inter-batch delay for this run.
func WithDelay(d time.Duration) Option {
	return func(o *runOpts) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// Renderer walks an item list in batches. Safe for concurrent use; batches
// never overlap — a new tick is only scheduled after the previous batch has
// fully returned.
type Renderer struct {
	cfg Config
	log *slog.Logger

	mu           sync.Mutex
	state        State
	pending      []any
	batchIndex   int
	totalBatches int
	totalItems   int
	rendered     int
	batchSize    int
	delay        time.Duration

	// gen invalidates in-flight ticks: every transition that must stop
	// delivery bumps it, and a fired tick compares its captured value
	// before touching pending items.
	gen    uint64
	handle sched.Handle

	// run changes only on Start, so a batch whose callback paused or
	// cancelled the run can still be credited to the right run's progress.
	run uint64
}

// New creates a Renderer. It returns an error if Target is nil, BatchSize is
// negative, or Delay is negative.
func New(cfg Config) (*Renderer, error) {
	if cfg.Target == nil {
		return nil, fmt.Errorf("render %q: target is required", cfg.Name)
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("render %q: batch size %d is negative", cfg.Name, cfg.BatchSize)
	}
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("render %q: delay %v is negative", cfg.Name, cfg.Delay)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = sched.NewTimer()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Renderer{cfg: cfg, log: cfg.Logger, state: Idle}, nil
}

// Name returns the renderer's configured name.
func (r *Renderer) Name() string { return r.cfg.Name }

// State returns the current lifecycle state.
func (r *Renderer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns how many items have been delivered, the run's total, and
// the completed fraction in [0, 1].
func (r *Renderer) Progress() (rendered, total int, fraction float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.totalItems == 0 {
		return r.rendered, 0, 0
	}
	return r.rendered, r.totalItems, float64(r.rendered) / float64(r.totalItems)
}

// TotalBatches returns ceil(totalItems / batchSize) for the current run.
func (r *Renderer) TotalBatches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalBatches
}

// Start begins a progressive run over items. The first batch executes
// synchronously before Start returns; subsequent batches are scheduled after
// the configured delay. Starting while a run is in flight (Rendering or
// Paused) is a logged no-op returning false. An empty item list completes
// immediately.
func (r *Renderer) Start(items []any, opts ...Option) bool {
	r.mu.Lock()
	if r.state == Rendering || r.state == Paused {
		st := r.state
		r.mu.Unlock()
		r.log.Warn("render: Start while run in flight", "renderer", r.cfg.Name, "state", st)
		return false
	}

	ro := runOpts{batchSize: r.cfg.BatchSize, delay: r.cfg.Delay}
	for _, o := range opts {
		o(&ro)
	}

	r.pending = append([]any(nil), items...)
	r.batchSize = ro.batchSize
	r.delay = ro.delay
	r.totalItems = len(items)
	r.totalBatches = (len(items) + ro.batchSize - 1) / ro.batchSize
	r.batchIndex = 0
	r.rendered = 0
	r.state = Rendering
	r.gen++
	r.run++
	gen := r.gen
	totalItems, totalBatches := r.totalItems, r.totalBatches
	r.mu.Unlock()

	r.cfg.Target.RenderStarted(totalItems, totalBatches)
	r.cfg.Bus.Publish(events.Event{
		Kind:   events.RenderStarted,
		Source: r.cfg.Name,
		Total:  totalItems,
	})

	if totalItems == 0 {
		r.mu.Lock()
		if r.state == Rendering && r.gen == gen {
			r.state = Completed
		}
		r.mu.Unlock()
		r.cfg.Target.RenderComplete()
		r.cfg.Bus.Publish(events.Event{Kind: events.RenderCompleted, Source: r.cfg.Name})
		return true
	}

	// Batch 0 has zero scheduling latency.
	r.runBatch(gen)
	return true
}

// Pause suspends a run in flight, cancelling the pending tick without losing
// the remaining items. Valid only from Rendering; anything else is a logged
// no-op returning false.
func (r *Renderer) Pause() bool {
	r.mu.Lock()
	if r.state != Rendering {
		st := r.state
		r.mu.Unlock()
		r.log.Warn("render: Pause outside Rendering", "renderer", r.cfg.Name, "state", st)
		return false
	}
	r.invalidateLocked()
	r.state = Paused
	r.mu.Unlock()

	r.cfg.Bus.Publish(events.Event{Kind: events.RenderPaused, Source: r.cfg.Name})
	return true
}

// Resume continues a paused run, scheduling the next batch after the
// configured delay. Valid only from Paused.
func (r *Renderer) Resume() bool {
	r.mu.Lock()
	if r.state != Paused {
		st := r.state
		r.mu.Unlock()
		r.log.Warn("render: Resume outside Paused", "renderer", r.cfg.Name, "state", st)
		return false
	}
	r.state = Rendering
	r.gen++
	r.scheduleNextLocked()
	r.mu.Unlock()

	r.cfg.Bus.Publish(events.Event{Kind: events.RenderResumed, Source: r.cfg.Name})
	return true
}

// Cancel aborts a run: the pending tick is invalidated synchronously,
// remaining items are discarded, and the state becomes Cancelled. Cancelled
// items cannot be resumed. Calling Cancel from Idle, Completed, or Cancelled
// is a silent no-op. Safe to call from within a render callback.
func (r *Renderer) Cancel() bool {
	r.mu.Lock()
	if r.state == Idle || r.state == Completed || r.state == Cancelled {
		r.mu.Unlock()
		return false
	}
	r.cancelLocked()
	r.mu.Unlock()

	r.cfg.Bus.Publish(events.Event{Kind: events.RenderCancelled, Source: r.cfg.Name})
	return true
}

// Clear returns a renderer in a terminal state to Idle so its state no
// longer reflects the finished run. A run in flight must be cancelled first.
func (r *Renderer) Clear() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Rendering || r.state == Paused {
		return false
	}
	r.state = Idle
	r.pending = nil
	r.batchIndex = 0
	r.totalBatches = 0
	r.totalItems = 0
	r.rendered = 0
	return true
}

// cancelLocked discards pending work and moves to Cancelled.
// Caller must hold r.mu.
func (r *Renderer) cancelLocked() {
	r.invalidateLocked()
	r.pending = nil
	r.state = Cancelled
}

// invalidateLocked bumps the generation and cancels any scheduled tick, so
// nothing fired before this point can touch the run. Caller must hold r.mu.
func (r *Renderer) invalidateLocked() {
	r.gen++
	if r.handle != nil {
		r.handle.Cancel()
		r.handle = nil
	}
}

// scheduleNextLocked queues the next tick for the current generation.
// Caller must hold r.mu.
func (r *Renderer) scheduleNextLocked() {
	gen := r.gen
	r.handle = r.cfg.Scheduler.Schedule(r.delay, func() {
		r.runBatch(gen)
	})
}

// runBatch executes one batch for generation gen. A stale generation or a
// non-Rendering state means the run was cancelled, paused, or restarted
// after this tick was queued; in that case nothing happens.
func (r *Renderer) runBatch(gen uint64) {
	r.mu.Lock()
	if r.state != Rendering || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.handle = nil
	run := r.run

	n := r.batchSize
	if n > len(r.pending) {
		n = len(r.pending)
	}
	if n == 0 {
		// A resume tick after the callback paused on the final batch: every
		// item has already been delivered, only completion remains.
		r.state = Completed
		rendered, totalItems := r.rendered, r.totalItems
		r.mu.Unlock()
		r.cfg.Bus.Publish(events.Event{
			Kind:     events.RenderProgress,
			Source:   r.cfg.Name,
			Index:    rendered,
			Total:    totalItems,
			Fraction: 1.0,
		})
		r.cfg.Target.RenderComplete()
		r.cfg.Bus.Publish(events.Event{Kind: events.RenderCompleted, Source: r.cfg.Name})
		return
	}
	batch := r.pending[:n]
	r.pending = r.pending[n:]
	idx := r.batchIndex
	r.batchIndex++
	totalBatches := r.totalBatches
	r.mu.Unlock()

	start := time.Now()
	if !r.deliver(batch, idx, totalBatches) {
		return
	}
	if r.cfg.Tracker != nil {
		r.cfg.Tracker.RecordDuration(OpBatch, time.Since(start),
			map[string]string{"renderer": r.cfg.Name})
	}

	r.mu.Lock()
	// The batch reached the target even if the callback paused or cancelled
	// the run, so it counts toward this run's progress either way. A restart
	// (new run value) zeroed the counter for fresh items; leave it alone.
	if r.run == run {
		r.rendered += len(batch)
	}
	// The callback may have cancelled, paused, or restarted the run.
	if r.state != Rendering || r.gen != gen {
		r.mu.Unlock()
		return
	}
	rendered, totalItems := r.rendered, r.totalItems
	remaining := len(r.pending)
	if remaining == 0 {
		r.state = Completed
	} else {
		r.scheduleNextLocked()
	}
	r.mu.Unlock()

	r.cfg.Target.BatchComplete(idx, totalBatches)
	r.cfg.Bus.Publish(events.Event{
		Kind:   events.RenderBatch,
		Source: r.cfg.Name,
		Index:  idx,
		Total:  totalBatches,
	})

	fraction := 1.0
	if totalItems > 0 {
		fraction = float64(rendered) / float64(totalItems)
	}
	r.cfg.Bus.Publish(events.Event{
		Kind:     events.RenderProgress,
		Source:   r.cfg.Name,
		Index:    rendered,
		Total:    totalItems,
		Fraction: fraction,
	})

	if remaining == 0 {
		r.cfg.Target.RenderComplete()
		r.cfg.Bus.Publish(events.Event{Kind: events.RenderCompleted, Source: r.cfg.Name})
	}
}

// deliver invokes the target's RenderBatch, containing panics. A panicking
// callback cancels the run: a single bad batch must not leave a dangling
// scheduled tick or half-updated bookkeeping. Reports whether delivery
// succeeded.
func (r *Renderer) deliver(batch []any, idx, total int) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("render: batch callback panicked",
				"renderer", r.cfg.Name, "batch", idx, "panic", rec)
			r.mu.Lock()
			cancelled := false
			if r.state == Rendering {
				r.cancelLocked()
				cancelled = true
			}
			r.mu.Unlock()
			if cancelled {
				r.cfg.Bus.Publish(events.Event{Kind: events.RenderCancelled, Source: r.cfg.Name})
			}
			ok = false
		}
	}()
	r.cfg.Target.RenderBatch(batch, idx, total)
	return true
}
