// Package metrics records operation durations for the performance core. A
// Tracker keeps a bounded history of individual measurements, rolling per
// operation statistics updated in O(1), and per operation duration thresholds
// that raise a warning event when exceeded.
package metrics

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/mise/pkg/events"
)

// DefaultHistorySize is the ring buffer capacity used when TrackerConfig
// leaves HistorySize at zero.
const DefaultHistorySize = 1000

// Metric is one recorded measurement. Metrics are immutable once recorded.
type Metric struct {
	// Op names the measured operation, e.g. "render.batch" or "card.create".
	Op string

	// Duration is how long the operation took.
	Duration time.Duration

	// At is when the measurement was recorded.
	At time.Time

	// Meta carries optional caller-supplied context. May be nil.
	Meta map[string]string
}

// Stats is the rolling aggregate for one operation name. All fields update
// incrementally on each new measurement; nothing is recomputed from history.
type Stats struct {
	Calls int64
	Total time.Duration
	Min   time.Duration
	Max   time.Duration
	Last  time.Duration
}

// Avg returns the mean duration across all recorded calls.
func (s Stats) Avg() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Calls)
}

// OpSummary is one row of Tracker.Summary.
type OpSummary struct {
	Calls   int64   `json:"calls"`
	AvgMs   float64 `json:"avg_ms"`
	MinMs   float64 `json:"min_ms"`
	MaxMs   float64 `json:"max_ms"`
	TotalMs float64 `json:"total_ms"`
}

// TimerID pairs a StartTimer call with its StopTimer. IDs are opaque and
// never reused within one Tracker, so overlapping timers for the same
// operation name are safe.
type TimerID int64

type runningTimer struct {
	op    string
	start time.Time
	meta  map[string]string
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// HistorySize is the ring buffer capacity. Default: DefaultHistorySize.
	HistorySize int

	// Bus receives MetricRecorded and ThresholdExceeded events. Optional.
	Bus *events.Bus

	// Logger used for usage warnings. Default: slog.Default().
	Logger *slog.Logger
}

// Tracker records durations and maintains rolling statistics. Safe for
// concurrent use.
type Tracker struct {
	bus *events.Bus
	log *slog.Logger

	mu         sync.Mutex
	history    []Metric // ring buffer storage
	head       int      // index of the oldest entry
	count      int      // entries currently held
	stats      map[string]*Stats
	thresholds map[string]time.Duration
	timers     map[TimerID]runningTimer
	nextTimer  TimerID
}

// NewTracker creates a Tracker. HistorySize must not be negative.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.HistorySize < 0 {
		return nil, fmt.Errorf("metrics: history size %d is negative", cfg.HistorySize)
	}
	if cfg.HistorySize == 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Tracker{
		bus:        cfg.Bus,
		log:        cfg.Logger,
		history:    make([]Metric, cfg.HistorySize),
		stats:      make(map[string]*Stats),
		thresholds: make(map[string]time.Duration),
		timers:     make(map[TimerID]runningTimer),
	}, nil
}

// StartTimer begins measuring op and returns the id to pass to StopTimer.
func (t *Tracker) StartTimer(op string, meta map[string]string) TimerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextTimer++
	id := t.nextTimer
	t.timers[id] = runningTimer{op: op, start: time.Now(), meta: meta}
	return id
}

// StopTimer ends the measurement started with id and records the elapsed
// duration. Stop metadata is merged over start metadata, stop side winning.
// An unknown id is a usage error: logged, nothing recorded.
func (t *Tracker) StopTimer(id TimerID, meta map[string]string) (time.Duration, error) {
	t.mu.Lock()
	rt, ok := t.timers[id]
	if !ok {
		t.mu.Unlock()
		t.log.Warn("metrics: StopTimer for unknown timer id", "id", int64(id))
		return 0, fmt.Errorf("metrics: unknown timer id %d", id)
	}
	delete(t.timers, id)
	t.mu.Unlock()

	d := time.Since(rt.start)
	merged := rt.meta
	if len(meta) > 0 {
		merged = make(map[string]string, len(rt.meta)+len(meta))
		for k, v := range rt.meta {
			merged[k] = v
		}
		for k, v := range meta {
			merged[k] = v
		}
	}
	t.RecordDuration(rt.op, d, merged)
	return d, nil
}

// RecordDuration records a measurement the caller already holds. Negative
// durations are clamped to zero.
func (t *Tracker) RecordDuration(op string, d time.Duration, meta map[string]string) {
	if d < 0 {
		d = 0
	}
	m := Metric{Op: op, Duration: d, At: time.Now(), Meta: meta}

	t.mu.Lock()

	// Append to the ring, evicting the oldest entry when full.
	if len(t.history) > 0 {
		idx := (t.head + t.count) % len(t.history)
		if t.count == len(t.history) {
			t.head = (t.head + 1) % len(t.history)
			t.count--
		}
		t.history[idx] = m
		t.count++
	}

	// Incremental stats update.
	s, ok := t.stats[op]
	if !ok {
		s = &Stats{Min: d, Max: d}
		t.stats[op] = s
	}
	s.Calls++
	s.Total += d
	s.Last = d
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}

	threshold, hasThreshold := t.thresholds[op]
	t.mu.Unlock()

	t.bus.Publish(events.Event{Kind: events.MetricRecorded, Source: op, Duration: d})
	if hasThreshold && d > threshold {
		t.log.Warn("metrics: threshold exceeded",
			"op", op, "duration", d, "threshold", threshold)
		t.bus.Publish(events.Event{
			Kind:      events.ThresholdExceeded,
			Source:    op,
			Duration:  d,
			Threshold: threshold,
		})
	}
}

// SetThreshold configures the duration ceiling for op. Recording a duration
// strictly greater than the threshold emits a ThresholdExceeded event.
// A non-positive threshold removes the ceiling.
func (t *Tracker) SetThreshold(op string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d <= 0 {
		delete(t.thresholds, op)
		return
	}
	t.thresholds[op] = d
}

// Threshold returns the configured ceiling for op, if any.
func (t *Tracker) Threshold(op string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.thresholds[op]
	return d, ok
}

// GetStats returns a snapshot of the rolling statistics for op. The second
// return is false if op has never been recorded.
func (t *Tracker) GetStats(op string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[op]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// AllStats returns a snapshot of the rolling statistics for every operation.
func (t *Tracker) AllStats() map[string]Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Stats, len(t.stats))
	for op, s := range t.stats {
		out[op] = *s
	}
	return out
}

// Recent returns up to n of the most recent metrics, oldest first. An empty
// op matches every operation; n <= 0 means no limit.
func (t *Tracker) Recent(op string, n int) []Metric {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Metric
	for i := 0; i < t.count; i++ {
		m := t.history[(t.head+i)%len(t.history)]
		if op != "" && m.Op != op {
			continue
		}
		out = append(out, m)
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Summary returns per-operation aggregates in milliseconds, keyed by
// operation name. A pure read.
func (t *Tracker) Summary() map[string]OpSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]OpSummary, len(t.stats))
	for op, s := range t.stats {
		out[op] = OpSummary{
			Calls:   s.Calls,
			AvgMs:   toMs(s.Avg()),
			MinMs:   toMs(s.Min),
			MaxMs:   toMs(s.Max),
			TotalMs: toMs(s.Total),
		}
	}
	return out
}

// ClearHistory empties the ring buffer and all rolling statistics. Configured
// thresholds survive; running timers are abandoned.
func (t *Tracker) ClearHistory() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.head = 0
	t.count = 0
	t.stats = make(map[string]*Stats)
	t.timers = make(map[TimerID]runningTimer)
}

// HistoryLen returns the number of metrics currently held in the ring.
func (t *Tracker) HistoryLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
