package events

// Event type constants for kelindar/event.
const (
	TypeCameraAdded uint32 = iota + 1
	TypeCameraRemoved
	TypeCameraStateChanged
	TypeNotification
	TypeDiagnostics
	TypeCamerasReloaded
	TypeCameraMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CameraAddedEvent is published when a camera joins the registry.
type CameraAddedEvent struct {
	CameraID  string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Name      string `json:"name" example:"Front door" doc:"Camera display name"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraAddedEvent.
func (e CameraAddedEvent) Type() uint32 { return TypeCameraAdded }

// CameraRemovedEvent is published when a camera leaves the registry.
type CameraRemovedEvent struct {
	CameraID  string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraRemovedEvent.
func (e CameraRemovedEvent) Type() uint32 { return TypeCameraRemoved }

// CameraStateChangedEvent reports a camera lifecycle or connection change.
type CameraStateChangedEvent struct {
	CameraID   string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	From       string `json:"from" example:"connecting" doc:"Previous lifecycle state"`
	To         string `json:"to" example:"running" doc:"New lifecycle state"`
	Connection string `json:"connection" example:"connected" doc:"Stream connection state"`
	Attempt    int    `json:"attempt,omitempty" example:"2" doc:"Connection attempt number"`
	Error      string `json:"error,omitempty" doc:"Error that caused the change"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraStateChangedEvent.
func (e CameraStateChangedEvent) Type() uint32 { return TypeCameraStateChanged }

// NotificationEvent carries a user-facing notification.
type NotificationEvent struct {
	ID         string `json:"id" doc:"Notification identifier"`
	CameraID   string `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	CameraName string `json:"camera_name" example:"Front door" doc:"Camera display name"`
	Severity   string `json:"severity" example:"warning" doc:"info, warning or error"`
	Kind       string `json:"kind" example:"frozen" doc:"Notification kind"`
	Message    string `json:"message" example:"Picture frozen" doc:"Human readable message"`
	Key        string `json:"key" example:"front-door:frozen" doc:"Deduplication key"`
	Timestamp  string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for NotificationEvent.
func (e NotificationEvent) Type() uint32 { return TypeNotification }

// DiagnosticsEvent is a per-frame analysis summary.
type DiagnosticsEvent struct {
	CameraID  string  `json:"camera_id" example:"front-door" doc:"Camera identifier"`
	Seq       uint64  `json:"seq" doc:"Analyzed frame sequence number"`
	Frozen    bool    `json:"frozen" doc:"Picture is frozen"`
	Stopped   bool    `json:"stopped" doc:"Picture has been static for a long time"`
	Pixelated bool    `json:"pixelated" doc:"Picture is pixelated"`
	Quality   float64 `json:"quality" example:"0.92" doc:"Quality score in [0,1]"`
	Sharpness float64 `json:"sharpness" doc:"Laplacian variance"`
	Contrast  float64 `json:"contrast" doc:"5th to 95th percentile luma spread"`
	Timestamp string  `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DiagnosticsEvent.
func (e DiagnosticsEvent) Type() uint32 { return TypeDiagnostics }

// CamerasReloadedEvent is published after the cameras file was applied.
type CamerasReloadedEvent struct {
	Added     []string `json:"added,omitempty" doc:"Cameras added"`
	Removed   []string `json:"removed,omitempty" doc:"Cameras removed"`
	Restarted []string `json:"restarted,omitempty" doc:"Cameras restarted with new settings"`
	Error     string   `json:"error,omitempty" doc:"Reload error, if any"`
	Timestamp string   `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CamerasReloadedEvent.
func (e CamerasReloadedEvent) Type() uint32 { return TypeCamerasReloaded }

// CameraMetricsEvent is a periodic metrics sample for live dashboards.
type CameraMetricsEvent struct {
	EventType     string `json:"type"`
	CameraID      string `json:"camera_id"`
	State         string `json:"state"`
	FPS           string `json:"fps"`
	BitrateKbps   string `json:"bitrate_kbps"`
	FramesDropped string `json:"frames_dropped"`
	Quality       string `json:"quality"`
}

// Type returns the event type identifier for CameraMetricsEvent.
func (e CameraMetricsEvent) Type() uint32 { return TypeCameraMetrics }
