package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	if bus == nil {
		t.Fatal("expected non-nil bus")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
	if bus.bufferSize != defaultBufferSize {
		t.Errorf("expected buffer %d, got %d", defaultBufferSize, bus.bufferSize)
	}
	if NewBusWithBuffer(-1).bufferSize != defaultBufferSize {
		t.Error("expected non-positive buffer to fall back to default")
	}
}

func TestBusSubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	if bus.SubscriberCount() != 1 {
		t.Errorf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	ch2 := bus.Subscribe()
	if bus.SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", bus.SubscriberCount())
	}

	if ch1 == nil || ch2 == nil {
		t.Error("expected non-nil channels")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", bus.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Error("expected unsubscribed channel to be closed")
	}
}

func TestBusPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(NewWorkerExitedEvent(3))

	select {
	case received := <-ch:
		if received.Type != EventWorkerExited {
			t.Errorf("expected type %s, got %s", EventWorkerExited, received.Type)
		}
		if received.Source != "worker-3" {
			t.Errorf("expected worker-3, got %s", received.Source)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewPoolClosedEvent())

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.Type != EventPoolClosed {
				t.Errorf("subscriber %d: expected type %s, got %s", i, EventPoolClosed, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBusWithBuffer(1)
	ch := bus.Subscribe()

	bus.Publish(NewWorkerStartedEvent(0))
	bus.Publish(NewWorkerStartedEvent(1))
	bus.Publish(NewWorkerStartedEvent(2))

	select {
	case ev := <-ch:
		if ev.Source != "worker-0" {
			t.Errorf("expected first event to be kept, got %s", ev.Source)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for first event")
	}
	if bus.Dropped() != 2 {
		t.Errorf("expected 2 dropped deliveries, got %d", bus.Dropped())
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Close()

	if bus.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers after close, got %d", bus.SubscriberCount())
	}
	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed")
	}

	// Publishing and subscribing after close must not panic
	bus.Publish(NewPoolClosedEvent())
	late := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected subscription on closed bus to be closed")
	}
}

func TestEventCreation(t *testing.T) {
	t.Run("JobPanicked", func(t *testing.T) {
		event := NewJobPanickedEvent(2, 150*time.Millisecond)
		if event.Type != EventJobPanicked {
			t.Errorf("expected %s, got %s", EventJobPanicked, event.Type)
		}
		if event.Data.WorkerID == nil || *event.Data.WorkerID != 2 {
			t.Errorf("expected worker id 2, got %v", event.Data.WorkerID)
		}
		if event.Data.Duration != "150ms" {
			t.Errorf("expected 150ms, got %s", event.Data.Duration)
		}
	})

	t.Run("ServerStopped", func(t *testing.T) {
		event := NewServerStoppedEvent(2, "connection limit reached")
		if event.Source != "server" || event.Data.Served != 2 {
			t.Errorf("unexpected event: %+v", event)
		}
	})

	t.Run("WorkerZeroIDIsEncoded", func(t *testing.T) {
		data, err := json.Marshal(NewWorkerStartedEvent(0))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		d, _ := decoded["data"].(map[string]any)
		if id, ok := d["worker_id"]; !ok || id != float64(0) {
			t.Errorf("expected worker_id 0 in %s", data)
		}
	})
}

func TestObserverPublishes(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	obs := NewObserver(bus)

	obs.WorkerStarted(1)
	obs.JobSubmitted()
	obs.JobStarted(1)
	obs.JobFinished(1, time.Millisecond, false)
	obs.JobFinished(1, time.Millisecond, true)
	obs.WorkerExited(1)

	want := []EventType{EventWorkerStarted, EventJobPanicked, EventWorkerExited}
	for i, w := range want {
		select {
		case ev := <-ch:
			if ev.Type != w {
				t.Errorf("event %d: expected %s, got %s", i, w, ev.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("event %d: timeout", i)
		}
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected extra event %s", ev.Type)
	default:
	}
}
