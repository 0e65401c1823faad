package exporters

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smazurov/camwatch/internal/metrics"
)

func TestHTTPHandler(t *testing.T) {
	handler := HTTPHandler()
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}

	// Set a metric so there's something to export
	metrics.RecordCamera("http-test-camera", metrics.CameraMetrics{FPS: 10, State: "connected"})
	defer metrics.DeleteCameraMetrics("http-test-camera")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	if !strings.Contains(body, `camwatch_stream_fps{camera_id="http-test-camera"} 10`) {
		t.Error("expected camera fps in response")
	}
	if !strings.Contains(body, `camwatch_stream_state{camera_id="http-test-camera",state="connected"} 1`) {
		t.Error("expected connection state in response")
	}
}
