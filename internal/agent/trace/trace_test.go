package trace

import (
	"sync"
	"testing"
	"time"
)

func drain(r *Recorder) []Event {
	var out []Event
	for ev := range r.Events() {
		out = append(out, ev)
	}
	return out
}

func TestRecorderPreservesPublishOrder(t *testing.T) {
	r := NewRecorder(16)
	done := make(chan []Event)
	go func() { done <- drain(r) }()

	r.NodeEnter("orchestrator", "validating")
	r.Routing("fabric")
	r.ToolInvoke("fabric", "fabric_health")
	r.NodeExit("fabric", "done")
	r.Report(map[string]string{"root_cause": "none"})
	r.Close()

	events := <-done
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	wantKinds := []Kind{KindThought, KindRouting, KindThought, KindThought, KindReport}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Fatalf("event %d: expected kind %s, got %s", i, k, events[i].Kind)
		}
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("event %d timestamp precedes event %d", i, i-1)
		}
	}
}

func TestRecorderConcurrentPublishers(t *testing.T) {
	r := NewRecorder(4)
	done := make(chan []Event)
	go func() { done <- drain(r) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				r.ToolInvoke("worker", "call")
			}
		}()
	}
	wg.Wait()
	r.Close()

	events := <-done
	if len(events) != 200 {
		t.Fatalf("expected every event delivered, got %d of 200", len(events))
	}
}

func TestRecorderBlocksInsteadOfDropping(t *testing.T) {
	r := NewRecorder(1)
	started := make(chan struct{})
	unblocked := make(chan struct{})
	go func() {
		r.NodeEnter("a", "first")
		close(started)
		r.NodeEnter("b", "second") // blocks until the consumer reads
		close(unblocked)
	}()

	<-started
	select {
	case <-unblocked:
		// Buffer of one may admit the second event before a reader exists
		// only if the first was consumed; nobody is reading yet.
		t.Fatalf("publish should block on full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	events := drainN(t, r, 2)
	if events[0].Node != "a" || events[1].Node != "b" {
		t.Fatalf("unexpected order: %+v", events)
	}
	<-unblocked
}

func drainN(t *testing.T, r *Recorder, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case ev := <-r.Events():
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	return out
}

func TestNilRecorderIsSilent(t *testing.T) {
	var r *Recorder
	r.NodeEnter("x", "y")
	r.Routing("z")
	r.Close()
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	r := NewRecorder(4)
	r.Close()
	r.NodeEnter("late", "after close")
}
