package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/camwatch/internal/events"
)

// sseBuffer is the per-connection event backlog. A slow client loses
// events beyond it rather than stalling publishers.
const sseBuffer = 64

// registerSSERoutes registers the camera event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time camera state changes, notifications, diagnostics and config reloads",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"camera-added":         events.CameraAddedEvent{},
		"camera-removed":       events.CameraRemovedEvent{},
		"camera-state-changed": events.CameraStateChangedEvent{},
		"notification":         events.NotificationEvent{},
		"diagnostics":          events.DiagnosticsEvent{},
		"cameras-reloaded":     events.CamerasReloadedEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, sseBuffer)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.CameraAddedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CameraRemovedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CameraStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.NotificationEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DiagnosticsEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CamerasReloadedEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// current state first so a new client does not wait for a transition
		now := time.Now().Format(time.RFC3339)
		for _, st := range s.cameras.Statuses() {
			if err := send.Data(events.CameraStateChangedEvent{
				CameraID:   st.ID,
				From:       string(st.Lifecycle),
				To:         string(st.Lifecycle),
				Connection: string(st.Connection),
				Timestamp:  now,
			}); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
