package collectors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camwatch/internal/metrics"
)

type fakeSource struct {
	mu      sync.Mutex
	cameras map[string]metrics.CameraMetrics
	calls   int
}

func (f *fakeSource) get() map[string]metrics.CameraMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make(map[string]metrics.CameraMetrics, len(f.cameras))
	for id, m := range f.cameras {
		out[id] = m
	}
	return out
}

func (f *fakeSource) set(cameras map[string]metrics.CameraMetrics) {
	f.mu.Lock()
	f.cameras = cameras
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestCameraCollectorRecordsAndForgets(t *testing.T) {
	src := &fakeSource{cameras: map[string]metrics.CameraMetrics{
		"collect-a": {FPS: 10, State: "connected"},
		"collect-b": {FPS: 5, State: "reconnecting"},
	}}
	c := NewCameraCollector(src.get, time.Hour)

	c.Collect()
	if m := metrics.GetCameraMetrics("collect-a"); m == nil || m.FPS != 10 {
		t.Fatalf("collect-a = %+v, want FPS 10", m)
	}

	src.set(map[string]metrics.CameraMetrics{"collect-a": {FPS: 12}})
	c.Collect()

	if m := metrics.GetCameraMetrics("collect-b"); m != nil {
		t.Errorf("collect-b should be forgotten, got %+v", m)
	}
	if m := metrics.GetCameraMetrics("collect-a"); m == nil || m.FPS != 12 {
		t.Errorf("collect-a = %+v, want FPS 12", m)
	}
	metrics.DeleteCameraMetrics("collect-a")
}

func TestCameraCollectorLoop(t *testing.T) {
	src := &fakeSource{cameras: map[string]metrics.CameraMetrics{}}
	c := NewCameraCollector(src.get, 10*time.Millisecond)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for src.callCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("collector ran %d times, want at least 3", src.callCount())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	calls := src.callCount()
	time.Sleep(30 * time.Millisecond)
	if src.callCount() != calls {
		t.Error("collector kept running after Stop")
	}
}
