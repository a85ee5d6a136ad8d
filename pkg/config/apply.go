package config

import (
	"gitlab.com/tinyland/lab/mise/pkg/perf"
)

// Apply pushes the config's thresholds onto the manager's tracker and, when
// enabled, starts the periodic memory sweep at the configured interval.
func (c *Config) Apply(m *perf.Manager) {
	for op, d := range c.Thresholds {
		m.SetPerformanceThreshold(op, d.Duration)
	}
	if c.Cleanup.Enabled {
		m.StartMemoryManagement(c.Cleanup.Interval.Duration)
	}
}
