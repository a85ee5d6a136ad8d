package config

import (
	"testing"
	"time"

	"gitlab.com/tinyland/lab/mise/pkg/perf"
	"gitlab.com/tinyland/lab/mise/pkg/sched"
)

func TestApplySetsThresholdsAndSweep(t *testing.T) {
	m := sched.NewManual()
	mgr, err := perf.NewManager(perf.ManagerConfig{Scheduler: m})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })

	cfg := DefaultConfig()
	cfg.Thresholds["card.create"] = Duration{2 * time.Millisecond}
	cfg.Cleanup = CleanupSettings{Enabled: true, Interval: Duration{time.Minute}}

	cfg.Apply(mgr)

	if d, ok := mgr.Tracker().Threshold("card.create"); !ok || d != 2*time.Millisecond {
		t.Errorf("threshold = %v, ok = %v; want 2ms", d, ok)
	}
	if mgr.CleanupInterval() != time.Minute {
		t.Errorf("CleanupInterval = %v, want 1m", mgr.CleanupInterval())
	}
	if m.Pending() != 1 {
		t.Errorf("pending sweeps = %d, want 1", m.Pending())
	}
}

func TestApplyDisabledSweep(t *testing.T) {
	m := sched.NewManual()
	mgr, err := perf.NewManager(perf.ManagerConfig{Scheduler: m})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Close() })

	cfg := DefaultConfig()
	cfg.Cleanup.Enabled = false
	cfg.Apply(mgr)

	if mgr.CleanupInterval() != 0 {
		t.Error("sweep should not start when disabled")
	}
}
