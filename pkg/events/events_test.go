package events

import (
	"testing"
	"time"
)

// --- Subscribe / Publish ---

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(4)
	defer cancel()

	b.Publish(Event{Kind: RenderStarted, Source: "cards", Total: 10})

	select {
	case e := <-ch:
		if e.Kind != RenderStarted {
			t.Errorf("kind = %v, want %v", e.Kind, RenderStarted)
		}
		if e.Source != "cards" {
			t.Errorf("source = %q, want %q", e.Source, "cards")
		}
		if e.At.IsZero() {
			t.Error("expected At to be stamped")
		}
	default:
		t.Fatal("expected a delivered event")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe(1)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(1)
	defer cancel2()

	b.Publish(Event{Kind: PoolObjectCreated, Source: "cards"})

	if len(ch1) != 1 || len(ch2) != 1 {
		t.Errorf("delivery counts = %d, %d, want 1, 1", len(ch1), len(ch2))
	}
}

func TestPublishNeverBlocksOnFullBuffer(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: MetricRecorded, Source: "x"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	// Exactly one event fit; the rest were dropped.
	if len(ch) != 1 {
		t.Errorf("buffered events = %d, want 1", len(ch))
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)

	cancel()
	if got := b.Subscribers(); got != 0 {
		t.Errorf("Subscribers() = %d, want 0", got)
	}

	// Channel is closed after cancel.
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// A second cancel is a no-op.
	cancel()
}

// --- nil bus ---

func TestNilBusIsSafe(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: PoolCleared})
	if b.Published() != 0 {
		t.Error("nil bus reported published events")
	}
	ch, cancel := b.Subscribe(1)
	cancel()
	if _, ok := <-ch; ok {
		t.Error("nil bus subscription should be closed")
	}
}

// --- Kind names ---

func TestKindStringsAreStable(t *testing.T) {
	cases := map[Kind]string{
		PoolObjectCreated: "pool.created",
		RenderCompleted:   "render.completed",
		ThresholdExceeded: "metrics.threshold",
		CleanupCompleted:  "memory.cleanup.completed",
		KindUnknown:       "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", k, got, want)
		}
	}
}
