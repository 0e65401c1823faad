package monitor

import (
	"time"

	"github.com/google/uuid"
)

// Severity ranks a notification.
type Severity string

// Notification severities.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Kind names the condition a notification reports.
type Kind string

// Notification kinds. Each is emitted on a transition, never per frame.
const (
	KindFrozen          Kind = "frozen"
	KindUnfrozen        Kind = "unfrozen"
	KindPixelated       Kind = "pixelated"
	KindQualityLow      Kind = "quality_low"
	KindQualityRestored Kind = "quality_restored"
	KindStoppedPicture  Kind = "stopped_picture"
	KindConnectionLost  Kind = "connection_lost"
	KindConnected       Kind = "connected"
	KindFailed          Kind = "failed"
)

// Notification is a user-facing alert about one camera.
type Notification struct {
	ID         string    `json:"id"`
	CameraID   string    `json:"camera_id"`
	CameraName string    `json:"camera_name"`
	Severity   Severity  `json:"severity"`
	Kind       Kind      `json:"kind"`
	Message    string    `json:"message"`
	Key        string    `json:"key"`
	Timestamp  time.Time `json:"timestamp"`
}

// notificationKey is the deduplication key of kind on camera.
func notificationKey(cameraID string, kind Kind) string {
	return cameraID + ":" + string(kind)
}

// cooldown remembers when each key last fired.
type cooldown struct {
	period time.Duration
	last   map[string]time.Time
}

func newCooldown(period time.Duration) *cooldown {
	return &cooldown{period: period, last: make(map[string]time.Time)}
}

// allow reports whether key may fire at now and records it if so.
func (c *cooldown) allow(key string, now time.Time) bool {
	if last, ok := c.last[key]; ok && now.Sub(last) < c.period {
		return false
	}
	c.last[key] = now
	return true
}

func (c *cooldown) snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}

// notificationLog keeps the most recent notifications, newest first.
type notificationLog struct {
	max   int
	items []Notification
}

func (l *notificationLog) add(n Notification) {
	l.items = append([]Notification{n}, l.items...)
	if len(l.items) > l.max {
		l.items = l.items[:l.max]
	}
}

func (l *notificationLog) list() []Notification {
	out := make([]Notification, len(l.items))
	copy(out, l.items)
	return out
}

func newNotification(cameraID, cameraName string, kind Kind, severity Severity, message string, at time.Time) Notification {
	return Notification{
		ID:         uuid.NewString(),
		CameraID:   cameraID,
		CameraName: cameraName,
		Severity:   severity,
		Kind:       kind,
		Message:    message,
		Key:        notificationKey(cameraID, kind),
		Timestamp:  at,
	}
}
