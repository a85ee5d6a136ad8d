// Package perf ties the performance core together: a Manager owns named
// object pools, widget pools, and progressive renderers, records their
// timings through one metrics tracker, runs the periodic memory sweep over
// weakly tracked objects, and aggregates everything into a summary the UI
// can display.
//
// The Manager is an optimization layer: misuse (unknown names, double
// creation, double teardown) degrades to a logged no-op, never a crash.
package perf

import (
	"log/slog"
	"sync"
	"time"

	"gitlab.com/tinyland/lab/mise/pkg/events"
	"gitlab.com/tinyland/lab/mise/pkg/metrics"
	"gitlab.com/tinyland/lab/mise/pkg/pool"
	"gitlab.com/tinyland/lab/mise/pkg/render"
	"gitlab.com/tinyland/lab/mise/pkg/sched"
)

// DefaultCleanupInterval is the sweep period used when StartMemoryManagement
// is called with a non-positive interval.
const DefaultCleanupInterval = 30 * time.Second

// ManagerConfig configures a Manager. The zero value is usable.
type ManagerConfig struct {
	// Scheduler drives renderer ticks and the periodic memory sweep.
	// Default: the timer-backed scheduler.
	Scheduler sched.Scheduler

	// Bus carries every notification the core emits. Created if nil.
	Bus *events.Bus

	// HistorySize is the metrics ring buffer capacity.
	// Default: metrics.DefaultHistorySize.
	HistorySize int

	// Logger used throughout the core. Default: slog.Default().
	Logger *slog.Logger
}

// Manager is the performance core façade and lifecycle owner.
type Manager struct {
	log   *slog.Logger
	bus   *events.Bus
	sched sched.Scheduler

	tracker *metrics.Tracker

	mu          sync.Mutex
	objectPools map[string]*pool.Pool[any]
	widgetPools map[string]*pool.WidgetPool
	renderers   map[string]*render.Renderer
	tracked     []weakRef

	sweepGen      uint64
	sweepHandle   sched.Handle
	sweepInterval time.Duration
	sweepRunning  bool

	closeOnce   sync.Once
	closed      bool
	stopForward func()
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Scheduler == nil {
		cfg.Scheduler = sched.NewTimer()
	}
	if cfg.Bus == nil {
		cfg.Bus = events.NewBus()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	tracker, err := metrics.NewTracker(metrics.TrackerConfig{
		HistorySize: cfg.HistorySize,
		Bus:         cfg.Bus,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		log:         cfg.Logger,
		bus:         cfg.Bus,
		sched:       cfg.Scheduler,
		tracker:     tracker,
		objectPools: make(map[string]*pool.Pool[any]),
		widgetPools: make(map[string]*pool.WidgetPool),
		renderers:   make(map[string]*render.Renderer),
	}
	m.stopForward = m.forwardWarnings()
	return m, nil
}

// forwardWarnings re-publishes threshold breaches as PerformanceWarning
// events, so UI subscribers interested only in regressions have a single
// kind to watch. Returns the stop function.
func (m *Manager) forwardWarnings() func() {
	ch, cancel := m.bus.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			if e.Kind != events.ThresholdExceeded {
				continue
			}
			m.bus.Publish(events.Event{
				Kind:      events.PerformanceWarning,
				Source:    e.Source,
				Duration:  e.Duration,
				Threshold: e.Threshold,
			})
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// Bus returns the notification bus the core publishes onto.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Tracker returns the owned metrics tracker.
func (m *Manager) Tracker() *metrics.Tracker { return m.tracker }

// --- pools ---

// CreateObjectPool creates a named pool of arbitrary reusable objects.
// Creating a name that already exists is a logged no-op returning the
// existing pool unchanged.
func (m *Manager) CreateObjectPool(name string, cfg pool.Config[any]) (*pool.Pool[any], error) {
	m.mu.Lock()
	if existing, ok := m.objectPools[name]; ok {
		m.mu.Unlock()
		m.log.Warn("perf: object pool already exists", "name", name)
		return existing, nil
	}
	m.mu.Unlock()

	cfg.Name = name
	if cfg.Bus == nil {
		cfg.Bus = m.bus
	}
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}
	p, err := pool.New(cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.objectPools[name]; ok {
		return existing, nil
	}
	m.objectPools[name] = p
	return p, nil
}

// ObjectPool looks up a named object pool.
func (m *Manager) ObjectPool(name string) (*pool.Pool[any], bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.objectPools[name]
	return p, ok
}

// CreateWidgetPool creates a named widget pool. Idempotent by name, like
// CreateObjectPool.
func (m *Manager) CreateWidgetPool(name string, cfg pool.WidgetPoolConfig) (*pool.WidgetPool, error) {
	m.mu.Lock()
	if existing, ok := m.widgetPools[name]; ok {
		m.mu.Unlock()
		m.log.Warn("perf: widget pool already exists", "name", name)
		return existing, nil
	}
	m.mu.Unlock()

	cfg.Name = name
	if cfg.Bus == nil {
		cfg.Bus = m.bus
	}
	if cfg.Logger == nil {
		cfg.Logger = m.log
	}
	p, err := pool.NewWidgetPool(cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.widgetPools[name]; ok {
		return existing, nil
	}
	m.widgetPools[name] = p
	return p, nil
}

// WidgetPool looks up a named widget pool.
func (m *Manager) WidgetPool(name string) (*pool.WidgetPool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.widgetPools[name]
	return p, ok
}

// ClearPool clears the named pool (object or widget), reporting whether it
// exists. The pool stays registered; only its contents are discarded.
func (m *Manager) ClearPool(name string) bool {
	m.mu.Lock()
	op, isObj := m.objectPools[name]
	wp, isWidget := m.widgetPools[name]
	m.mu.Unlock()

	switch {
	case isObj:
		op.Clear()
		return true
	case isWidget:
		wp.Clear()
		return true
	default:
		m.log.Warn("perf: ClearPool for unknown pool", "name", name)
		return false
	}
}

// ClearAllPools clears every registered pool.
func (m *Manager) ClearAllPools() {
	m.mu.Lock()
	objs := make([]*pool.Pool[any], 0, len(m.objectPools))
	for _, p := range m.objectPools {
		objs = append(objs, p)
	}
	widgets := make([]*pool.WidgetPool, 0, len(m.widgetPools))
	for _, p := range m.widgetPools {
		widgets = append(widgets, p)
	}
	m.mu.Unlock()

	for _, p := range objs {
		p.Clear()
	}
	for _, p := range widgets {
		p.Clear()
	}
}

// --- renderers ---

// CreateRenderer creates a named progressive renderer delivering to target.
// Idempotent by name. Zero batchSize and delay take the render package
// defaults.
func (m *Manager) CreateRenderer(name string, target render.Target, batchSize int, delay time.Duration) (*render.Renderer, error) {
	m.mu.Lock()
	if existing, ok := m.renderers[name]; ok {
		m.mu.Unlock()
		m.log.Warn("perf: renderer already exists", "name", name)
		return existing, nil
	}
	m.mu.Unlock()

	r, err := render.New(render.Config{
		Name:      name,
		Target:    target,
		BatchSize: batchSize,
		Delay:     delay,
		Scheduler: m.sched,
		Bus:       m.bus,
		Tracker:   m.tracker,
		Logger:    m.log,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.renderers[name]; ok {
		return existing, nil
	}
	m.renderers[name] = r
	return r, nil
}

// CreateCallbackRenderer creates a named renderer whose target is assembled
// from plain callbacks. Idempotent by name.
func (m *Manager) CreateCallbackRenderer(name string, cb render.Callbacks, batchSize int, delay time.Duration) (*render.Renderer, error) {
	return m.CreateRenderer(name, cb, batchSize, delay)
}

// Renderer looks up a named renderer.
func (m *Manager) Renderer(name string) (*render.Renderer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.renderers[name]
	return r, ok
}

// StartRendering starts a progressive run on the named renderer. Returns
// false — not an error — when the name is unknown, so callers can probe.
func (m *Manager) StartRendering(name string, items []any, opts ...render.Option) bool {
	r, ok := m.Renderer(name)
	if !ok {
		m.log.Warn("perf: StartRendering for unknown renderer", "name", name)
		return false
	}
	return r.Start(items, opts...)
}

// StopRendering cancels the named renderer's run. Returns false when the
// name is unknown.
func (m *Manager) StopRendering(name string) bool {
	r, ok := m.Renderer(name)
	if !ok {
		m.log.Warn("perf: StopRendering for unknown renderer", "name", name)
		return false
	}
	r.Cancel()
	return true
}

// --- metrics forwarding ---

// StartTimer forwards to the owned tracker.
func (m *Manager) StartTimer(op string, meta map[string]string) metrics.TimerID {
	return m.tracker.StartTimer(op, meta)
}

// StopTimer forwards to the owned tracker.
func (m *Manager) StopTimer(id metrics.TimerID, meta map[string]string) (time.Duration, error) {
	return m.tracker.StopTimer(id, meta)
}

// RecordDuration forwards to the owned tracker.
func (m *Manager) RecordDuration(op string, d time.Duration, meta map[string]string) {
	m.tracker.RecordDuration(op, d, meta)
}

// SetPerformanceThreshold configures the duration ceiling for op.
func (m *Manager) SetPerformanceThreshold(op string, d time.Duration) {
	m.tracker.SetThreshold(op, d)
}

// WithTiming measures fn under op. The measurement is recorded on every
// path, including a panicking fn (the panic is re-raised after recording).
func (m *Manager) WithTiming(op string, fn func()) {
	start := time.Now()
	defer func() {
		m.tracker.RecordDuration(op, time.Since(start), nil)
	}()
	fn()
}

// --- teardown ---

// Close tears the core down: the memory sweep stops, every renderer in
// flight is cancelled, every pool is cleared, metrics history is dropped,
// and all name-keyed maps and the weak-reference list empty out. Safe to
// call multiple times; only the first call does anything.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.StopMemoryManagement()
		m.stopForward()

		m.mu.Lock()
		m.closed = true
		renderers := make([]*render.Renderer, 0, len(m.renderers))
		for _, r := range m.renderers {
			renderers = append(renderers, r)
		}
		objs := make([]*pool.Pool[any], 0, len(m.objectPools))
		for _, p := range m.objectPools {
			objs = append(objs, p)
		}
		widgets := make([]*pool.WidgetPool, 0, len(m.widgetPools))
		for _, p := range m.widgetPools {
			widgets = append(widgets, p)
		}
		m.renderers = make(map[string]*render.Renderer)
		m.objectPools = make(map[string]*pool.Pool[any])
		m.widgetPools = make(map[string]*pool.WidgetPool)
		m.tracked = nil
		m.mu.Unlock()

		for _, r := range renderers {
			r.Cancel()
		}
		for _, p := range objs {
			p.Clear()
		}
		for _, p := range widgets {
			p.Clear()
		}
		m.tracker.ClearHistory()
	})
	return nil
}
