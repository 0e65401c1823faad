package stream

import "time"

// Stats is a point-in-time snapshot of a handler.
type Stats struct {
	State             State     `json:"state"`
	Epoch             uint64    `json:"epoch"`
	FramesReceived    uint64    `json:"frames_received"`
	FramesDropped     uint64    `json:"frames_dropped"`
	DecodeErrors      uint64    `json:"decode_errors"`
	BufferEvictions   uint64    `json:"buffer_evictions"`
	SubscriberDrops   uint64    `json:"subscriber_drops"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Reconnects        uint64    `json:"reconnects"`
	FPS               float64   `json:"fps"`
	BitrateKbps       float64   `json:"bitrate_kbps"`
	ErrorRate         float64   `json:"error_rate"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorAt       time.Time `json:"last_error_at,omitzero"`
	LastFrameAt       time.Time `json:"last_frame_at,omitzero"`
	LastConnectedAt   time.Time `json:"last_connected_at,omitzero"`
	BufferedFrames    int       `json:"buffered_frames"`
	BufferedBytes     int       `json:"buffered_bytes"`
}

type rateSample struct {
	at    time.Time
	bytes int
}

// rateWindow tracks frame arrivals over a sliding window.
type rateWindow struct {
	window  time.Duration
	samples []rateSample
}

func (w *rateWindow) add(at time.Time, bytes int) {
	w.samples = append(w.samples, rateSample{at: at, bytes: bytes})
	w.prune(at)
}

func (w *rateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		n := copy(w.samples, w.samples[i:])
		w.samples = w.samples[:n]
	}
}

// rates returns frames per second and kilobits per second. Fewer than two
// samples yield zero.
func (w *rateWindow) rates(now time.Time) (fps, kbps float64) {
	w.prune(now)
	if len(w.samples) < 2 {
		return 0, 0
	}
	span := w.samples[len(w.samples)-1].at.Sub(w.samples[0].at).Seconds()
	if span <= 0 {
		return 0, 0
	}
	total := 0
	// the first sample opens the interval, its bytes belong before it
	for _, s := range w.samples[1:] {
		total += s.bytes
	}
	return float64(len(w.samples)-1) / span, float64(total) * 8 / 1000 / span
}

func (w *rateWindow) reset() {
	w.samples = nil
}

// ewma is an exponentially weighted moving average of 0/1 outcomes.
type ewma struct {
	alpha float64
	value float64
}

func (e *ewma) observe(failed bool) {
	x := 0.0
	if failed {
		x = 1
	}
	e.value = e.value*(1-e.alpha) + x*e.alpha
}
