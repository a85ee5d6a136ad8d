package render

import (
	"testing"
	"time"

	"gitlab.com/tinyland/lab/mise/pkg/events"
	"gitlab.com/tinyland/lab/mise/pkg/sched"
)

// recordingTarget captures everything a Renderer delivers.
type recordingTarget struct {
	batches   [][]any
	indices   []int
	started   int
	completed int
	batchDone []int

	// panicOn, when >= 0, makes RenderBatch panic on that batch index.
	panicOn int

	// onBatch, when set, runs inside RenderBatch (for re-entrancy tests).
	onBatch func(batchIndex int)
}

func newRecordingTarget() *recordingTarget {
	return &recordingTarget{panicOn: -1}
}

func (rt *recordingTarget) RenderBatch(items []any, batchIndex, totalBatches int) {
	if batchIndex == rt.panicOn {
		panic("bad batch")
	}
	batch := append([]any(nil), items...)
	rt.batches = append(rt.batches, batch)
	rt.indices = append(rt.indices, batchIndex)
	if rt.onBatch != nil {
		rt.onBatch(batchIndex)
	}
}

func (rt *recordingTarget) RenderStarted(totalItems, totalBatches int) { rt.started++ }
func (rt *recordingTarget) BatchComplete(batchIndex, totalBatches int) {
	rt.batchDone = append(rt.batchDone, batchIndex)
}
func (rt *recordingTarget) RenderComplete() { rt.completed++ }

func items(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func newTestRenderer(t *testing.T, target Target, m *sched.Manual, opts ...func(*Config)) *Renderer {
	t.Helper()
	cfg := Config{
		Name:      "test",
		Target:    target,
		BatchSize: 3,
		Delay:     10 * time.Millisecond,
		Scheduler: m,
	}
	for _, o := range opts {
		o(&cfg)
	}
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func drain(m *sched.Manual) {
	for m.Fire() {
	}
}

// --- Construction ---

func TestNewRequiresTarget(t *testing.T) {
	if _, err := New(Config{Name: "x"}); err == nil {
		t.Error("expected error for nil target")
	}
}

func TestNewRejectsNegativeKnobs(t *testing.T) {
	rt := newRecordingTarget()
	if _, err := New(Config{Target: rt, BatchSize: -1}); err == nil {
		t.Error("expected error for negative batch size")
	}
	if _, err := New(Config{Target: rt, Delay: -time.Second}); err == nil {
		t.Error("expected error for negative delay")
	}
}

// --- Batch delivery ---

func TestRendererCompleteness(t *testing.T) {
	// Scenario: 10 items, batch size 3 -> [1 2 3] [4 5 6] [7 8 9] [10].
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	if !r.Start(items(10)) {
		t.Fatal("Start returned false")
	}

	// Batch 0 ran synchronously.
	if len(rt.batches) != 1 {
		t.Fatalf("batches after Start = %d, want 1", len(rt.batches))
	}
	drain(m)

	if len(rt.batches) != 4 {
		t.Fatalf("batches = %d, want 4", len(rt.batches))
	}
	if got := r.TotalBatches(); got != 4 {
		t.Errorf("TotalBatches() = %d, want 4", got)
	}

	// Concatenation equals the input, in order, exactly once each.
	var flat []any
	for _, b := range rt.batches {
		flat = append(flat, b...)
	}
	want := items(10)
	if len(flat) != len(want) {
		t.Fatalf("delivered %d items, want %d", len(flat), len(want))
	}
	for i := range want {
		if flat[i] != want[i] {
			t.Errorf("item[%d] = %v, want %v", i, flat[i], want[i])
		}
	}

	if rt.completed != 1 {
		t.Errorf("completed = %d, want exactly 1", rt.completed)
	}
	if r.State() != Completed {
		t.Errorf("state = %v, want Completed", r.State())
	}
	rendered, total, fraction := r.Progress()
	if rendered != 10 || total != 10 || fraction != 1.0 {
		t.Errorf("Progress() = %d, %d, %v", rendered, total, fraction)
	}
}

func TestBatchCountIsCeiling(t *testing.T) {
	cases := []struct {
		items, batch, want int
	}{
		{10, 3, 4},
		{9, 3, 3},
		{1, 3, 1},
		{3, 1, 3},
		{100, 7, 15},
	}
	for _, c := range cases {
		rt := newRecordingTarget()
		m := sched.NewManual()
		r := newTestRenderer(t, rt, m, func(cfg *Config) { cfg.BatchSize = c.batch })

		r.Start(items(c.items))
		drain(m)

		if got := r.TotalBatches(); got != c.want {
			t.Errorf("items=%d batch=%d: TotalBatches() = %d, want %d",
				c.items, c.batch, got, c.want)
		}
		if len(rt.batches) != c.want {
			t.Errorf("items=%d batch=%d: delivered %d batches, want %d",
				c.items, c.batch, len(rt.batches), c.want)
		}
	}
}

func TestEmptyListCompletesImmediately(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	r.Start(nil)

	if r.State() != Completed {
		t.Errorf("state = %v, want Completed", r.State())
	}
	if rt.completed != 1 {
		t.Errorf("completed = %d, want 1", rt.completed)
	}
	if len(rt.batches) != 0 {
		t.Errorf("batches = %d, want 0", len(rt.batches))
	}
	if m.Pending() != 0 {
		t.Errorf("pending ticks = %d, want 0", m.Pending())
	}
}

func TestStartOptionsOverrideKnobs(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	r.Start(items(10), WithBatchSize(5))
	drain(m)

	if len(rt.batches) != 2 {
		t.Errorf("batches = %d, want 2 with overridden batch size 5", len(rt.batches))
	}
}

// --- Double start ---

func TestStartWhileRenderingIsNoop(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	r.Start(items(10))
	if r.Start(items(5)) {
		t.Error("second Start during a run should return false")
	}
	drain(m)

	// The original run was not disturbed.
	if rendered, total, _ := r.Progress(); rendered != 10 || total != 10 {
		t.Errorf("Progress() = %d/%d, want 10/10", rendered, total)
	}
	if rt.started != 1 {
		t.Errorf("started = %d, want 1", rt.started)
	}
}

func TestRestartAfterTerminalState(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	r.Start(items(4))
	drain(m)
	if r.State() != Completed {
		t.Fatalf("state = %v, want Completed", r.State())
	}

	if !r.Start(items(6)) {
		t.Fatal("Start from Completed should succeed")
	}
	drain(m)
	if rendered, total, _ := r.Progress(); rendered != 6 || total != 6 {
		t.Errorf("Progress() = %d/%d, want 6/6", rendered, total)
	}
}

// --- Cancel ---

func TestCancelStopsDelivery(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	r.Start(items(10)) // batch 0 delivered synchronously

	if !r.Cancel() {
		t.Fatal("Cancel returned false")
	}
	drain(m)

	if len(rt.batches) != 1 {
		t.Errorf("batches = %d, want 1 (nothing after cancel)", len(rt.batches))
	}
	if rt.completed != 0 {
		t.Errorf("completed = %d, want 0", rt.completed)
	}
	if r.State() != Cancelled {
		t.Errorf("state = %v, want Cancelled", r.State())
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	if r.Cancel() {
		t.Error("Cancel from Idle should be a silent no-op")
	}

	r.Start(items(10))
	if !r.Cancel() {
		t.Error("first Cancel should report true")
	}
	if r.Cancel() {
		t.Error("Cancel from Cancelled should be a silent no-op")
	}
}

func TestCancelFromWithinCallback(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)
	rt.onBatch = func(batchIndex int) {
		if batchIndex == 1 {
			r.Cancel()
		}
	}

	r.Start(items(10))
	drain(m)

	if len(rt.batches) != 2 {
		t.Errorf("batches = %d, want 2 (cancel inside batch 1 stops batch 2)", len(rt.batches))
	}
	if rt.completed != 0 {
		t.Error("RenderComplete fired after in-callback cancel")
	}
	if r.State() != Cancelled {
		t.Errorf("state = %v, want Cancelled", r.State())
	}
}

// --- Pause / Resume ---

func TestPauseResumePreservesPendingItems(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	r.Start(items(9)) // batch 0 synchronous, 6 items pending
	if !r.Pause() {
		t.Fatal("Pause returned false")
	}
	drain(m)
	if len(rt.batches) != 1 {
		t.Errorf("batches while paused = %d, want 1", len(rt.batches))
	}
	if r.State() != Paused {
		t.Errorf("state = %v, want Paused", r.State())
	}

	if !r.Resume() {
		t.Fatal("Resume returned false")
	}
	drain(m)

	if len(rt.batches) != 3 {
		t.Errorf("batches = %d, want 3 after resume", len(rt.batches))
	}
	if rt.completed != 1 {
		t.Errorf("completed = %d, want 1", rt.completed)
	}
}

func TestPauseOutsideRenderingIsNoop(t *testing.T) {
	rt := newRecordingTarget()
	r := newTestRenderer(t, rt, sched.NewManual())
	if r.Pause() {
		t.Error("Pause from Idle should return false")
	}
	if r.Resume() {
		t.Error("Resume from Idle should return false")
	}
}

// --- Callback failure ---

func TestPanickingBatchCancelsRun(t *testing.T) {
	rt := newRecordingTarget()
	rt.panicOn = 1
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	r.Start(items(10))
	drain(m)

	if len(rt.batches) != 1 {
		t.Errorf("batches = %d, want 1 (batch 1 panicked)", len(rt.batches))
	}
	if r.State() != Cancelled {
		t.Errorf("state = %v, want Cancelled", r.State())
	}
	if rt.completed != 0 {
		t.Error("RenderComplete fired after a panicking batch")
	}
	if m.Pending() != 0 {
		t.Errorf("pending ticks = %d, want 0 (no dangling tick)", m.Pending())
	}
}

// --- Events ---

func TestRendererPublishesLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(64)
	defer cancel()

	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m, func(cfg *Config) { cfg.Bus = bus })

	r.Start(items(6))
	drain(m)

	counts := map[events.Kind]int{}
	var lastProgress events.Event
	for len(ch) > 0 {
		e := <-ch
		counts[e.Kind]++
		if e.Kind == events.RenderProgress {
			lastProgress = e
		}
	}

	if counts[events.RenderStarted] != 1 {
		t.Errorf("RenderStarted = %d, want 1", counts[events.RenderStarted])
	}
	if counts[events.RenderBatch] != 2 {
		t.Errorf("RenderBatch = %d, want 2", counts[events.RenderBatch])
	}
	if counts[events.RenderCompleted] != 1 {
		t.Errorf("RenderCompleted = %d, want 1", counts[events.RenderCompleted])
	}
	if lastProgress.Index != 6 || lastProgress.Total != 6 || lastProgress.Fraction != 1.0 {
		t.Errorf("final progress = %+v", lastProgress)
	}
}

func TestPauseInsideCallbackKeepsProgress(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	rt.onBatch = func(batchIndex int) {
		if batchIndex == 0 {
			r.Pause()
		}
	}

	// Batch 0 delivers three items and pauses the run from inside the
	// callback; those items still count toward progress.
	r.Start(items(6))
	if r.State() != Paused {
		t.Fatalf("state = %v, want Paused", r.State())
	}
	if rendered, _, _ := r.Progress(); rendered != 3 {
		t.Errorf("rendered after pause = %d, want 3", rendered)
	}

	r.Resume()
	drain(m)

	if r.State() != Completed {
		t.Errorf("state = %v, want Completed", r.State())
	}
	if rendered, total, fraction := r.Progress(); rendered != 6 || total != 6 || fraction != 1.0 {
		t.Errorf("Progress() = %d/%d (%.2f), want 6/6 (1.00)", rendered, total, fraction)
	}
	if rt.completed != 1 {
		t.Errorf("completions = %d, want 1", rt.completed)
	}
}

func TestPauseOnFinalBatchThenResumeCompletes(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	rt.onBatch = func(int) { r.Pause() }

	// A single batch whose callback pauses before completion could fire.
	r.Start(items(3))
	if r.State() != Paused {
		t.Fatalf("state = %v, want Paused", r.State())
	}

	r.Resume()
	drain(m)

	if r.State() != Completed {
		t.Errorf("state = %v, want Completed", r.State())
	}
	if rendered, _, _ := r.Progress(); rendered != 3 {
		t.Errorf("rendered = %d, want 3", rendered)
	}
	if len(rt.batches) != 1 {
		t.Errorf("batches = %d, want 1 (the resume tick must not deliver an empty batch)", len(rt.batches))
	}
	if rt.completed != 1 {
		t.Errorf("completions = %d, want 1", rt.completed)
	}
}

// --- Clear ---

func TestClearReturnsToIdle(t *testing.T) {
	rt := newRecordingTarget()
	m := sched.NewManual()
	r := newTestRenderer(t, rt, m)

	r.Start(items(4))
	drain(m)

	if !r.Clear() {
		t.Fatal("Clear from Completed should succeed")
	}
	if r.State() != Idle {
		t.Errorf("state = %v, want Idle", r.State())
	}
	rendered, total, _ := r.Progress()
	if rendered != 0 || total != 0 {
		t.Errorf("Progress() = %d/%d, want 0/0", rendered, total)
	}

	// Six items against batch size 3: batch 0 runs inside Start, the second
	// batch stays queued, so the run is still in flight here.
	r.Start(items(6))
	if r.State() != Rendering {
		t.Fatalf("state after Start = %v, want Rendering", r.State())
	}
	if r.Clear() {
		t.Error("Clear during a run should return false")
	}
	drain(m)
	if !r.Clear() {
		t.Error("Clear after the run finished should succeed")
	}
}

// --- Callbacks adapter ---

func TestCallbackRenderer(t *testing.T) {
	m := sched.NewManual()
	var got [][]any
	completions := 0

	r, err := NewCallback(Config{
		Name:      "cb",
		BatchSize: 2,
		Delay:     time.Millisecond,
		Scheduler: m,
	}, Callbacks{
		OnBatch: func(batch []any, idx, total int) {
			got = append(got, append([]any(nil), batch...))
		},
		OnComplete: func() { completions++ },
	})
	if err != nil {
		t.Fatalf("NewCallback: %v", err)
	}

	r.Start(items(5))
	drain(m)

	if len(got) != 3 {
		t.Errorf("batches = %d, want 3", len(got))
	}
	if completions != 1 {
		t.Errorf("completions = %d, want 1", completions)
	}
}

func TestCallbacksNilFieldsAreSafe(t *testing.T) {
	m := sched.NewManual()
	r, err := NewCallback(Config{Name: "nilcb", BatchSize: 2, Delay: time.Millisecond, Scheduler: m}, Callbacks{})
	if err != nil {
		t.Fatalf("NewCallback: %v", err)
	}
	r.Start(items(4))
	drain(m)
	if r.State() != Completed {
		t.Errorf("state = %v, want Completed", r.State())
	}
}
