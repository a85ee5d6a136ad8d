package perf

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"gitlab.com/tinyland/lab/mise/pkg/metrics"
	"gitlab.com/tinyland/lab/mise/pkg/pool"
	"gitlab.com/tinyland/lab/mise/pkg/render"
)

// RendererSummary is one renderer's row in the manager summary.
type RendererSummary struct {
	State    string  `json:"state"`
	Rendered int     `json:"rendered"`
	Total    int     `json:"total"`
	Fraction float64 `json:"fraction"`
}

// MemorySummary reports the core's view of process memory.
type MemorySummary struct {
	TrackedObjects int `json:"tracked_objects"`

	// Heap figures from runtime.MemStats.
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	HeapObjects    uint64 `json:"heap_objects"`
	NumGC          uint32 `json:"num_gc"`

	// Process and host figures from gopsutil; zero when unavailable.
	ProcessRSSBytes   uint64  `json:"process_rss_bytes"`
	SystemUsedPercent float64 `json:"system_used_percent"`
}

// Summary aggregates every subcomponent's own statistics. Building it is a
// pure read; no subcomponent state changes.
type Summary struct {
	Metrics         map[string]metrics.OpSummary `json:"metrics"`
	Pools           map[string]pool.PoolStats    `json:"pools"`
	Renderers       map[string]RendererSummary   `json:"renderers"`
	Memory          MemorySummary                `json:"memory"`
	CleanupInterval time.Duration                `json:"cleanup_interval"`
}

// Summary returns a point-in-time aggregate of metrics, pool statistics,
// renderer progress, and memory figures.
func (m *Manager) Summary() Summary {
	s := Summary{
		Metrics:   m.tracker.Summary(),
		Pools:     make(map[string]pool.PoolStats),
		Renderers: make(map[string]RendererSummary),
	}

	m.mu.Lock()
	s.CleanupInterval = m.sweepInterval
	s.Memory.TrackedObjects = len(m.tracked)
	objectPools := make(map[string]*pool.Pool[any], len(m.objectPools))
	for name, p := range m.objectPools {
		objectPools[name] = p
	}
	widgetPools := make(map[string]*pool.WidgetPool, len(m.widgetPools))
	for name, p := range m.widgetPools {
		widgetPools[name] = p
	}
	renderers := make(map[string]*render.Renderer, len(m.renderers))
	for name, r := range m.renderers {
		renderers[name] = r
	}
	m.mu.Unlock()

	for name, p := range objectPools {
		s.Pools[name] = p.Stats()
	}
	for name, p := range widgetPools {
		s.Pools[name] = p.Stats()
	}
	for name, r := range renderers {
		rendered, total, fraction := r.Progress()
		s.Renderers[name] = RendererSummary{
			State:    r.State().String(),
			Rendered: rendered,
			Total:    total,
			Fraction: fraction,
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.Memory.HeapAllocBytes = ms.HeapAlloc
	s.Memory.HeapObjects = ms.HeapObjects
	s.Memory.NumGC = ms.NumGC

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			s.Memory.ProcessRSSBytes = info.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		s.Memory.SystemUsedPercent = vm.UsedPercent
	}

	return s
}
