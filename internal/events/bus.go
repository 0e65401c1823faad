package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(NotificationEvent{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case CameraAddedEvent:
		event.Publish(b.dispatcher, e)
	case CameraRemovedEvent:
		event.Publish(b.dispatcher, e)
	case CameraStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case NotificationEvent:
		event.Publish(b.dispatcher, e)
	case DiagnosticsEvent:
		event.Publish(b.dispatcher, e)
	case CamerasReloadedEvent:
		event.Publish(b.dispatcher, e)
	case CameraMetricsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e NotificationEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(CameraAddedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraRemovedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(NotificationEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DiagnosticsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CamerasReloadedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CameraMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
