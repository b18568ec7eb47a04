package events

import (
	"testing"
	"time"

	domainimage "imgopt-server-go/internal/domain/image"
)

func fileEvent(name string) FileComplete {
	return NewFileComplete(domainimage.Result{
		Name:          name,
		OriginalSize:  100,
		OptimizedSize: 80,
		Status:        domainimage.StatusOptimized,
	})
}

func collect(t *testing.T, sub *Subscription, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for channel close, got %d events", len(got))
		}
	}
}

func TestChannelDeliversInOrder(t *testing.T) {
	hub := NewHub(16)
	ch := hub.Open("job-1")
	sub := ch.Subscribe()

	ch.Publish(fileEvent("a.jpg"))
	ch.Publish(NewProgress(50))
	ch.Publish(fileEvent("b.png"))
	ch.Publish(NewProgress(100))
	ch.Publish(NewComplete("artifact-1"))

	got := collect(t, sub, time.Second)
	kinds := make([]string, len(got))
	for i, ev := range got {
		kinds[i] = ev.Kind()
	}

	expected := []string{"file_complete", "progress", "file_complete", "progress", "complete"}
	if len(kinds) != len(expected) {
		t.Fatalf("expected %d events, got %v", len(expected), kinds)
	}
	for i := range expected {
		if kinds[i] != expected[i] {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, expected[i], kinds[i], kinds)
		}
	}
}

func TestChannelMidJobAttachment(t *testing.T) {
	hub := NewHub(16)
	ch := hub.Open("job-2")

	ch.Publish(fileEvent("early.jpg"))

	sub := ch.Subscribe()
	ch.Publish(fileEvent("late.png"))
	ch.Publish(NewComplete("artifact-2"))

	got := collect(t, sub, time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 events after attach, got %d", len(got))
	}
	if fc, ok := got[0].(FileComplete); !ok || fc.FileName != "late.png" {
		t.Fatalf("expected late.png first, got %+v", got[0])
	}
}

func TestChannelDropsProgressWhenLagging(t *testing.T) {
	hub := NewHub(1)
	ch := hub.Open("job-3")
	sub := ch.Subscribe()

	// Fill the single-slot buffer, then push more progress: they must be
	// coalesced away instead of blocking the producer.
	ch.Publish(NewProgress(10))
	ch.Publish(NewProgress(20))
	ch.Publish(NewProgress(30))

	ev := <-sub.Events()
	if p, ok := ev.(Progress); !ok || p.Progress != 10 {
		t.Fatalf("expected first progress retained, got %+v", ev)
	}

	ch.Publish(NewComplete("artifact-3"))
	got := collect(t, sub, time.Second)
	if len(got) != 1 || got[0].Kind() != "complete" {
		t.Fatalf("expected only the terminal event, got %+v", got)
	}
}

func TestChannelSealedAfterTerminal(t *testing.T) {
	hub := NewHub(16)
	ch := hub.Open("job-4")
	sub := ch.Subscribe()

	ch.Publish(NewFailed("archive corrupt"))
	ch.Publish(fileEvent("ignored.jpg"))
	ch.Publish(NewComplete("never"))

	got := collect(t, sub, time.Second)
	if len(got) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", len(got))
	}
	if got[0].Kind() != "failed" {
		t.Fatalf("expected failed, got %s", got[0].Kind())
	}

	if term, ok := ch.Terminal(); !ok || term.Kind() != "failed" {
		t.Fatalf("expected retained terminal event, got %v", term)
	}
}

func TestChannelLateSubscriberGetsTerminal(t *testing.T) {
	hub := NewHub(16)
	ch := hub.Open("job-5")
	ch.Publish(NewComplete("artifact-5"))

	sub := ch.Subscribe()
	got := collect(t, sub, time.Second)
	if len(got) != 1 || got[0].Kind() != "complete" {
		t.Fatalf("late subscriber should see the terminal event, got %+v", got)
	}
}

func TestChannelCancelLeavesOthersAttached(t *testing.T) {
	hub := NewHub(16)
	ch := hub.Open("job-6")
	first := ch.Subscribe()
	second := ch.Subscribe()

	first.Cancel()

	ch.Publish(fileEvent("a.jpg"))
	ch.Publish(NewComplete("artifact-6"))

	got := collect(t, second, time.Second)
	if len(got) != 2 {
		t.Fatalf("surviving subscriber expected 2 events, got %d", len(got))
	}
}

func TestChannelFanoutReachesEverySubscriber(t *testing.T) {
	hub := NewHub(16)
	ch := hub.Open("job-7")
	first := ch.Subscribe()
	second := ch.Subscribe()

	ch.Publish(fileEvent("a.jpg"))
	ch.Publish(NewProgress(50))
	ch.Publish(NewComplete("artifact-7"))

	expected := []string{"file_complete", "progress", "complete"}
	for i, sub := range []*Subscription{first, second} {
		got := collect(t, sub, time.Second)
		if len(got) != len(expected) {
			t.Fatalf("subscriber %d: expected %d events, got %d", i, len(expected), len(got))
		}
		for j := range expected {
			if got[j].Kind() != expected[j] {
				t.Fatalf("subscriber %d event %d: expected %s, got %s", i, j, expected[j], got[j].Kind())
			}
		}
	}
}

func TestChannelCancelUnblocksStalledDelivery(t *testing.T) {
	hub := NewHub(1)
	ch := hub.Open("job-8")
	sub := ch.Subscribe()

	// Fill the single-slot buffer with an event that is never dropped, then
	// push a second one from a goroutine: it has to wait for the consumer.
	ch.Publish(fileEvent("a.jpg"))
	unblocked := make(chan struct{})
	go func() {
		ch.Publish(fileEvent("b.jpg"))
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("publish should block while the consumer lags")
	case <-time.After(50 * time.Millisecond):
	}

	sub.Cancel()
	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("cancel did not release the stalled delivery")
	}
}

func TestHubChannelsAreIndependent(t *testing.T) {
	hub := NewHub(16)
	chA := hub.Open("job-a")
	chB := hub.Open("job-b")
	subA := chA.Subscribe()
	subB := chB.Subscribe()

	chA.Publish(fileEvent("a-only.jpg"))
	chA.Publish(NewComplete("artifact-a"))
	chB.Publish(fileEvent("b-only.png"))
	chB.Publish(NewComplete("artifact-b"))

	gotA := collect(t, subA, time.Second)
	gotB := collect(t, subB, time.Second)

	for _, ev := range gotA {
		if fc, ok := ev.(FileComplete); ok && fc.FileName != "a-only.jpg" {
			t.Fatalf("job-a stream leaked foreign event: %+v", fc)
		}
	}
	for _, ev := range gotB {
		if fc, ok := ev.(FileComplete); ok && fc.FileName != "b-only.png" {
			t.Fatalf("job-b stream leaked foreign event: %+v", fc)
		}
	}

	hub.Remove("job-a")
	if _, ok := hub.Get("job-a"); ok {
		t.Fatal("removed channel still present")
	}
	if _, ok := hub.Get("job-b"); !ok {
		t.Fatal("job-b channel should survive job-a removal")
	}
}
