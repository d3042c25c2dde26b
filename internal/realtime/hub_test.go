package realtime

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("")
	b := h.Subscribe("")
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Stage("an1", "p1", "ocr")

	for _, sub := range []*Subscriber{a, b} {
		ev := recvEvent(t, sub)
		if ev.Type != EventStage || ev.AnalysisID != "an1" || ev.Stage != "ocr" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("event missing timestamp")
		}
	}
}

func TestHubPatientFilter(t *testing.T) {
	h := NewHub()
	mine := h.Subscribe("p1")
	other := h.Subscribe("p2")
	defer h.Unsubscribe(mine)
	defer h.Unsubscribe(other)

	h.Publish(Event{Type: EventComplete, AnalysisID: "an1", PatientID: "p1"})

	ev := recvEvent(t, mine)
	if ev.AnalysisID != "an1" {
		t.Errorf("event = %+v", ev)
	}

	select {
	case ev := <-other.Events():
		t.Errorf("subscriber for p2 received p1 event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("")
	h.Unsubscribe(sub)

	if _, open := <-sub.Events(); open {
		t.Error("channel still open after unsubscribe")
	}
	if h.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", h.SubscriberCount())
	}

	// Double unsubscribe is a no-op.
	h.Unsubscribe(sub)
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe("")
	defer h.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Stage("an1", "p1", "ocr")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
