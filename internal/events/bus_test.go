package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan NotificationEvent, 1)

	unsub := bus.Subscribe(func(e NotificationEvent) {
		received <- e
	})
	defer unsub()

	event := NotificationEvent{
		ID:        "n-1",
		CameraID:  "front-door",
		Kind:      "frozen",
		Key:       "front-door:frozen",
		Timestamp: "2026-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.Key != event.Key {
		t.Errorf("Expected key %s, got %s", event.Key, got.Key)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan CameraAddedEvent, 1)
	received2 := make(chan CameraAddedEvent, 1)

	unsub1 := bus.Subscribe(func(e CameraAddedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e CameraAddedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(CameraAddedEvent{CameraID: "cam1"})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CameraStateChangedEvent, 1)

	unsub := bus.Subscribe(func(e CameraStateChangedEvent) {
		received <- e
	})

	bus.Publish(CameraStateChangedEvent{CameraID: "cam1", To: "running"})
	<-received

	unsub()

	bus.Publish(CameraStateChangedEvent{CameraID: "cam1", To: "stopped"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	diagReceived := make(chan bool, 1)
	notifyReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ DiagnosticsEvent) {
		diagReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ NotificationEvent) {
		notifyReceived <- true
	})
	defer unsub2()

	bus.Publish(DiagnosticsEvent{CameraID: "cam1", Quality: 0.9})
	<-diagReceived

	select {
	case <-notifyReceived:
		t.Fatal("Notification subscriber should NOT have received DiagnosticsEvent")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(NotificationEvent{CameraID: "cam1"})
	<-notifyReceived

	select {
	case <-diagReceived:
		t.Fatal("Diagnostics subscriber should NOT have received NotificationEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ DiagnosticsEvent) {
		receivedCh <- true
	})
	defer unsub()

	for i := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range eventsPerGoroutine {
				bus.Publish(DiagnosticsEvent{
					CameraID:  "cam",
					Seq:       uint64(i*eventsPerGoroutine + seq),
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"CameraAdded", CameraAddedEvent{CameraID: "cam1"}},
		{"CameraRemoved", CameraRemovedEvent{CameraID: "cam1"}},
		{"CameraStateChanged", CameraStateChangedEvent{CameraID: "cam1", To: "running"}},
		{"Notification", NotificationEvent{CameraID: "cam1", Kind: "connected"}},
		{"Diagnostics", DiagnosticsEvent{CameraID: "cam1"}},
		{"CamerasReloaded", CamerasReloadedEvent{Added: []string{"cam1"}}},
		{"CameraMetrics", CameraMetricsEvent{EventType: "camera_metrics"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case CameraAddedEvent:
				unsub = bus.Subscribe(func(e CameraAddedEvent) { received <- e })
			case CameraRemovedEvent:
				unsub = bus.Subscribe(func(e CameraRemovedEvent) { received <- e })
			case CameraStateChangedEvent:
				unsub = bus.Subscribe(func(e CameraStateChangedEvent) { received <- e })
			case NotificationEvent:
				unsub = bus.Subscribe(func(e NotificationEvent) { received <- e })
			case DiagnosticsEvent:
				unsub = bus.Subscribe(func(e DiagnosticsEvent) { received <- e })
			case CamerasReloadedEvent:
				unsub = bus.Subscribe(func(e CamerasReloadedEvent) { received <- e })
			case CameraMetricsEvent:
				unsub = bus.Subscribe(func(e CameraMetricsEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestBus_NilPublishIsNoop(_ *testing.T) {
	var bus *Bus
	bus.Publish(NotificationEvent{CameraID: "cam1"})
}

func TestBus_UnknownHandler(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestEventJSONSerialization(t *testing.T) {
	event := NotificationEvent{
		ID:         "n-1",
		CameraID:   "front-door",
		CameraName: "Front door",
		Severity:   "warning",
		Kind:       "frozen",
		Message:    "Picture frozen",
		Key:        "front-door:frozen",
		Timestamp:  "2026-01-27T10:30:00Z",
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var result map[string]any
	if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
		t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
	}
	if result["key"] != "front-door:frozen" || result["camera_name"] != "Front door" {
		t.Errorf("unexpected JSON: %s", data)
	}

	state, _ := json.Marshal(CameraStateChangedEvent{CameraID: "cam1", To: "running"})
	var stateFields map[string]any
	if err := json.Unmarshal(state, &stateFields); err != nil {
		t.Fatal(err)
	}
	if _, ok := stateFields["error"]; ok {
		t.Errorf("empty error should be omitted: %s", state)
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[NotificationEvent](bus, ch)
	defer unsub()

	bus.Publish(NotificationEvent{CameraID: "cam1", Kind: "failed"})

	received := <-ch
	n, ok := received.(NotificationEvent)
	if !ok {
		t.Fatalf("Expected NotificationEvent, got %T", received)
	}
	if n.Kind != "failed" {
		t.Errorf("Expected kind failed, got %s", n.Kind)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any)

	unsub := SubscribeToChannel[CameraAddedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(CameraAddedEvent{CameraID: "cam1"})
		done <- true
	}()

	<-done
}
