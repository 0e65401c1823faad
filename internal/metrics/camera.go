// Package metrics provides Prometheus metrics for cameras.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "camwatch"

// ConnectionStates are the values of the connection state gauge label.
var ConnectionStates = []string{"disconnected", "connecting", "connected", "reconnecting", "failed"}

var (
	streamFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "fps",
		Help:      "Rolling decoded frames per second",
	}, []string{"camera_id"})

	streamBitrate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "bitrate_kbps",
		Help:      "Rolling decoded payload bitrate in kbit/s",
	}, []string{"camera_id"})

	streamErrorRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "error_rate",
		Help:      "Recent read error rate in [0,1]",
	}, []string{"camera_id"})

	streamFramesReceived = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_received_total",
		Help:      "Frames received since the last restart",
	}, []string{"camera_id"})

	streamFramesDropped = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "frames_dropped_total",
		Help:      "Frames dropped by buffer eviction or decode failure",
	}, []string{"camera_id"})

	streamReconnects = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts since the last restart",
	}, []string{"camera_id"})

	streamBufferedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "buffered_bytes",
		Help:      "Bytes held in the frame buffer",
	}, []string{"camera_id"})

	streamState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "state",
		Help:      "Connection state, 1 for the current state",
	}, []string{"camera_id", "state"})

	diagQuality = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "diagnostics",
		Name:      "quality",
		Help:      "Picture quality score in [0,1]",
	}, []string{"camera_id"})

	diagSharpness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "diagnostics",
		Name:      "sharpness",
		Help:      "Laplacian variance of the latest analyzed frame",
	}, []string{"camera_id"})

	diagContrast = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "diagnostics",
		Name:      "contrast",
		Help:      "Luma percentile spread of the latest analyzed frame",
	}, []string{"camera_id"})

	diagFrozen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "diagnostics",
		Name:      "frozen",
		Help:      "1 while the picture is frozen",
	}, []string{"camera_id"})

	diagPixelated = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "diagnostics",
		Name:      "pixelated",
		Help:      "1 while the picture is pixelated",
	}, []string{"camera_id"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications emitted",
	}, []string{"camera_id", "kind"})

	// Local cache for SSE exporter access.
	cameraCache   = make(map[string]*CameraMetrics)
	cameraCacheMu sync.RWMutex
)

// CameraMetrics is one sample of a camera's metric values.
type CameraMetrics struct {
	State          string
	FPS            float64
	BitrateKbps    float64
	ErrorRate      float64
	FramesReceived uint64
	FramesDropped  uint64
	Reconnects     uint64
	BufferedBytes  int
	Quality        float64
	Sharpness      float64
	Contrast       float64
	Frozen         bool
	Pixelated      bool
}

// RecordCamera sets every gauge for a camera from one sample.
func RecordCamera(cameraID string, m CameraMetrics) {
	streamFPS.WithLabelValues(cameraID).Set(m.FPS)
	streamBitrate.WithLabelValues(cameraID).Set(m.BitrateKbps)
	streamErrorRate.WithLabelValues(cameraID).Set(m.ErrorRate)
	streamFramesReceived.WithLabelValues(cameraID).Set(float64(m.FramesReceived))
	streamFramesDropped.WithLabelValues(cameraID).Set(float64(m.FramesDropped))
	streamReconnects.WithLabelValues(cameraID).Set(float64(m.Reconnects))
	streamBufferedBytes.WithLabelValues(cameraID).Set(float64(m.BufferedBytes))
	for _, s := range ConnectionStates {
		streamState.WithLabelValues(cameraID, s).Set(boolGauge(s == m.State))
	}

	diagQuality.WithLabelValues(cameraID).Set(m.Quality)
	diagSharpness.WithLabelValues(cameraID).Set(m.Sharpness)
	diagContrast.WithLabelValues(cameraID).Set(m.Contrast)
	diagFrozen.WithLabelValues(cameraID).Set(boolGauge(m.Frozen))
	diagPixelated.WithLabelValues(cameraID).Set(boolGauge(m.Pixelated))

	cameraCacheMu.Lock()
	dup := m
	cameraCache[cameraID] = &dup
	cameraCacheMu.Unlock()
}

// IncNotification counts an emitted notification.
func IncNotification(cameraID, kind string) {
	notificationsTotal.WithLabelValues(cameraID, kind).Inc()
}

// DeleteCameraMetrics removes all metrics for a camera.
func DeleteCameraMetrics(cameraID string) {
	streamFPS.DeleteLabelValues(cameraID)
	streamBitrate.DeleteLabelValues(cameraID)
	streamErrorRate.DeleteLabelValues(cameraID)
	streamFramesReceived.DeleteLabelValues(cameraID)
	streamFramesDropped.DeleteLabelValues(cameraID)
	streamReconnects.DeleteLabelValues(cameraID)
	streamBufferedBytes.DeleteLabelValues(cameraID)
	streamState.DeletePartialMatch(prometheus.Labels{"camera_id": cameraID})
	diagQuality.DeleteLabelValues(cameraID)
	diagSharpness.DeleteLabelValues(cameraID)
	diagContrast.DeleteLabelValues(cameraID)
	diagFrozen.DeleteLabelValues(cameraID)
	diagPixelated.DeleteLabelValues(cameraID)
	notificationsTotal.DeletePartialMatch(prometheus.Labels{"camera_id": cameraID})

	cameraCacheMu.Lock()
	delete(cameraCache, cameraID)
	cameraCacheMu.Unlock()
}

// GetCameraMetrics returns the last recorded sample for a camera.
func GetCameraMetrics(cameraID string) *CameraMetrics {
	cameraCacheMu.RLock()
	defer cameraCacheMu.RUnlock()
	if m, ok := cameraCache[cameraID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllCameraMetrics returns the last sample of every recorded camera.
func GetAllCameraMetrics() map[string]*CameraMetrics {
	cameraCacheMu.RLock()
	defer cameraCacheMu.RUnlock()
	result := make(map[string]*CameraMetrics, len(cameraCache))
	for id, m := range cameraCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
