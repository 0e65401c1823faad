package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/camwatch/internal/events"
	"github.com/smazurov/camwatch/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter republishes cached camera metrics on the event bus for SSE clients.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		interval: 1 * time.Second,
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	for cameraID, m := range metrics.GetAllCameraMetrics() {
		s.eventBus.Publish(events.CameraMetricsEvent{
			EventType:     "camera_metrics",
			CameraID:      cameraID,
			State:         m.State,
			FPS:           strconv.FormatFloat(m.FPS, 'f', 2, 64),
			BitrateKbps:   strconv.FormatFloat(m.BitrateKbps, 'f', 1, 64),
			FramesDropped: strconv.FormatUint(m.FramesDropped, 10),
			Quality:       strconv.FormatFloat(m.Quality, 'f', 3, 64),
		})
	}
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"camera-metrics": events.CameraMetricsEvent{},
	}
}

// GetEventTypesForEndpoint returns event types for a specific SSE endpoint.
func GetEventTypesForEndpoint(endpoint string) map[string]any {
	if endpoint == "metrics" {
		return GetEventTypes()
	}
	return map[string]any{}
}

