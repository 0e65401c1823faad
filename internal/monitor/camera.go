package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/smazurov/camwatch/internal/diagnostics"
	"github.com/smazurov/camwatch/internal/events"
	"github.com/smazurov/camwatch/internal/frames"
	"github.com/smazurov/camwatch/internal/logging"
	"github.com/smazurov/camwatch/internal/media"
	"github.com/smazurov/camwatch/internal/metrics"
	"github.com/smazurov/camwatch/internal/stream"
)

// Lifecycle is the camera-level state shown to users.
type Lifecycle string

// Camera lifecycle states. Stopped and failed are left only by Restart.
const (
	LifecycleIdle         Lifecycle = "idle"
	LifecycleConnecting   Lifecycle = "connecting"
	LifecycleRunning      Lifecycle = "running"
	LifecycleReconnecting Lifecycle = "reconnecting"
	LifecycleStopped      Lifecycle = "stopped"
	LifecycleFailed       Lifecycle = "failed"
)

// ErrRestartRequired is returned when a stopped or failed camera is started.
var ErrRestartRequired = errors.New("camera is stopped or failed, restart required")

// CameraOption configures a Camera.
type CameraOption func(*Camera)

// WithEventBus publishes state changes and diagnostics on bus.
func WithEventBus(bus *events.Bus) CameraOption {
	return func(c *Camera) { c.bus = bus }
}

// WithNotifier receives every notification that passed the cooldown.
func WithNotifier(fn func(Notification)) CameraOption {
	return func(c *Camera) { c.notify = fn }
}

// WithCameraLogger overrides the camera logger.
func WithCameraLogger(logger *slog.Logger) CameraOption {
	return func(c *Camera) { c.logger = logger }
}

// WithClock overrides time.Now for notifications and diagnostics.
func WithClock(now func() time.Time) CameraOption {
	return func(c *Camera) { c.now = now }
}

// WithStreamOptions passes extra options to the stream handler.
func WithStreamOptions(opts ...stream.Option) CameraOption {
	return func(c *Camera) { c.streamOpts = append(c.streamOpts, opts...) }
}

// Camera pairs one stream handler with one diagnostics engine and turns
// their output into a status and notifications.
type Camera struct {
	cfg        CameraConfig
	dialer     media.Dialer
	bus        *events.Bus
	notify     func(Notification)
	logger     *slog.Logger
	now        func() time.Time
	streamOpts []stream.Option
	engine     *diagnostics.Engine

	// test hook, runs before each analysis
	beforeAnalyze func(*frames.Frame)

	// lifeMu serializes Start, Stop and Restart.
	lifeMu  sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// mu guards the fields below. Never call into the handler while holding
	// it: the handler reports transitions to onTransition, which takes mu.
	mu         sync.Mutex
	gen        uint64
	handler    *stream.Handler
	sub        *stream.Subscription[*frames.Frame]
	lifecycle  Lifecycle
	// conn is the handler state as of the last transition applied to
	// lifecycle, so the two always describe the same moment.
	conn       stream.State
	since      time.Time
	stopping   bool
	latest     diagnostics.Result
	conditions conditions
	cooldown   *cooldown
	panics     uint64
}

// conditions are the alert states notifications are edge-triggered on.
type conditions struct {
	frozen     bool
	pixelated  bool
	qualityLow bool
	stopped    bool
}

// NewCamera builds the handler and engine for cfg. Nothing connects until
// Connect or Start.
func NewCamera(cfg CameraConfig, dialer media.Dialer, opts ...CameraOption) *Camera {
	c := &Camera{
		cfg:       cfg,
		dialer:    dialer,
		now:       time.Now,
		lifecycle: LifecycleIdle,
		conn:      stream.StateDisconnected,
		cooldown:  newCooldown(cfg.NotificationCooldown),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.GetLogger("monitor").With("camera_id", cfg.ID)
	}
	c.since = c.now()
	c.engine = diagnostics.NewEngine(cfg.Diagnostics,
		diagnostics.WithErrorRate(c.errorRate),
		diagnostics.WithLogger(c.logger),
		diagnostics.WithClock(c.now),
	)
	c.latest, _ = c.engine.Latest()
	c.newHandler()
	return c
}

// newHandler replaces the stream handler. Transitions from older handlers
// are ignored.
func (c *Camera) newHandler() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	opts := []stream.Option{
		stream.WithLogger(c.logger),
		stream.WithOnStateChange(func(t stream.Transition) { c.onTransition(gen, t) }),
	}
	opts = append(opts, c.streamOpts...)
	h := stream.NewHandler(c.cfg.ID, c.cfg.Stream, c.dialer, opts...)

	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Camera) currentHandler() *stream.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *Camera) errorRate() float64 {
	return c.currentHandler().ErrorRate()
}

// ID returns the camera id.
func (c *Camera) ID() string { return c.cfg.ID }

// Name returns the display name.
func (c *Camera) Name() string { return c.cfg.Name }

// Config returns the camera's config.
func (c *Camera) Config() CameraConfig { return c.cfg }

// Connect makes one connection attempt without starting supervision.
func (c *Camera) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.lifecycle == LifecycleStopped || c.lifecycle == LifecycleFailed {
		c.mu.Unlock()
		return ErrRestartRequired
	}
	h := c.handler
	c.mu.Unlock()

	if err := h.Connect(ctx, "", 0); err != nil {
		return fmt.Errorf("connect camera %s: %w", c.cfg.ID, err)
	}
	return nil
}

// Start launches supervision, both capture loops and the analysis goroutine.
// Starting a running camera is a no-op; a stopped or failed one needs Restart.
func (c *Camera) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.mu.Lock()
	lc := c.lifecycle
	c.mu.Unlock()
	if lc == LifecycleStopped || lc == LifecycleFailed {
		return ErrRestartRequired
	}
	if c.started {
		return nil
	}
	c.startLocked(ctx)
	return nil
}

func (c *Camera) startLocked(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.stopping = false
	h := c.handler
	gen := c.gen
	c.mu.Unlock()

	sub := h.SubscribeFrames(stream.FeedMonitoring, c.cfg.AnalysisQueue)
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	c.cancel = cancel
	c.started = true

	c.wg.Add(1)
	go c.analysisLoop(runCtx, sub, gen)

	h.Start(runCtx)
	h.StartMonitoring(c.cfg.Stream.MonitoringHz)
	h.StartVideoStream(c.cfg.Stream.VideoHz)
	c.logger.Info("Camera started", "url", media.RedactURL(c.cfg.Stream.URL))
}

// Stop tears down the handler and the analysis goroutine. The camera stays
// stopped until Restart. Safe to call repeatedly.
func (c *Camera) Stop() {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	c.stopLocked()
}

func (c *Camera) stopLocked() {
	c.mu.Lock()
	c.stopping = true
	h := c.handler
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	h.Stop()
	if sub != nil {
		sub.Close()
	}
	c.wg.Wait()

	wasStarted := c.started
	c.started = false

	c.mu.Lock()
	from := c.lifecycle
	c.lifecycle = LifecycleStopped
	c.conn = stream.StateDisconnected
	c.since = c.now()
	c.mu.Unlock()

	if from != LifecycleStopped {
		if wasStarted {
			c.logger.Info("Camera stopped")
		}
		c.publishState(from, LifecycleStopped, stream.StateDisconnected, 0, nil)
	}
}

// Restart replaces the handler, clears diagnostics history and alert state,
// and starts again. It is the only way out of stopped and failed.
func (c *Camera) Restart(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	c.stopLocked()
	c.engine.Reset()
	c.newHandler()

	c.mu.Lock()
	from := c.lifecycle
	c.lifecycle = LifecycleIdle
	c.conn = stream.StateDisconnected
	c.since = c.now()
	c.latest, _ = c.engine.Latest()
	c.conditions = conditions{}
	c.mu.Unlock()

	c.publishState(from, LifecycleIdle, stream.StateDisconnected, 0, nil)
	c.logger.Info("Restarting camera")
	c.startLocked(ctx)
	return nil
}

// CurrentFrame returns the latest buffered frame within the grace period.
func (c *Camera) CurrentFrame() (*frames.Frame, bool) {
	return c.currentHandler().CurrentFrame()
}

// SubscribeVideo subscribes to the live-view feed. The subscription ends
// when the camera stops or restarts.
func (c *Camera) SubscribeVideo(size int) *stream.Subscription[*frames.Frame] {
	return c.currentHandler().SubscribeFrames(stream.FeedVideo, size)
}

func (c *Camera) analysisLoop(ctx context.Context, sub *stream.Subscription[*frames.Frame], gen uint64) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-sub.C():
			if !ok {
				return
			}
			c.analyzeFrame(f, gen)
		}
	}
}

// analyzeFrame runs the engine on f. A panic is logged and counted; the
// camera keeps running.
func (c *Camera) analyzeFrame(f *frames.Frame, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.panics++
			c.mu.Unlock()
			c.logger.Error("Recovered from panic in frame analysis", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if c.beforeAnalyze != nil {
		c.beforeAnalyze(f)
	}
	res, err := c.engine.Analyze(f)
	if err != nil {
		c.logger.Debug("Frame analysis failed", "seq", f.Seq, "error", err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.latest = res
	var pending []Notification
	if err == nil {
		pending = c.evaluateLocked(res)
	}
	c.mu.Unlock()

	c.dispatch(pending)
	if err == nil && c.bus != nil {
		c.bus.Publish(events.DiagnosticsEvent{
			CameraID:  c.cfg.ID,
			Seq:       res.Seq,
			Frozen:    res.Frozen,
			Stopped:   res.Stopped,
			Pixelated: res.Pixelated,
			Quality:   res.Quality,
			Sharpness: res.Sharpness,
			Contrast:  res.Contrast,
			Timestamp: res.ComputedAt.Format(time.RFC3339),
		})
	}
}

// evaluateLocked compares res with the alert state and returns the
// notifications for every edge. Caller holds mu.
func (c *Camera) evaluateLocked(res diagnostics.Result) []Notification {
	var pending []Notification
	cond := &c.conditions

	if res.Frozen != cond.frozen {
		cond.frozen = res.Frozen
		if res.Frozen {
			pending = c.emitLocked(pending, KindFrozen, SeverityWarning,
				fmt.Sprintf("Picture frozen for %d frames", res.FrozenCount))
		} else {
			pending = c.emitLocked(pending, KindUnfrozen, SeverityInfo, "Picture moving again")
		}
	}

	if res.Pixelated != cond.pixelated {
		cond.pixelated = res.Pixelated
		if res.Pixelated {
			pending = c.emitLocked(pending, KindPixelated, SeverityWarning,
				fmt.Sprintf("Picture pixelated (%.0f%% flat blocks)", res.FlatBlockRatio*100))
		}
	}

	low := res.Quality < c.cfg.QualityFloor
	if low != cond.qualityLow {
		cond.qualityLow = low
		if low {
			pending = c.emitLocked(pending, KindQualityLow, SeverityWarning,
				fmt.Sprintf("Quality dropped to %.2f (floor %.2f)", res.Quality, c.cfg.QualityFloor))
		} else {
			pending = c.emitLocked(pending, KindQualityRestored, SeverityInfo,
				fmt.Sprintf("Quality restored to %.2f", res.Quality))
		}
	}

	if res.Stopped != cond.stopped {
		cond.stopped = res.Stopped
		if res.Stopped {
			pending = c.emitLocked(pending, KindStoppedPicture, SeverityWarning,
				fmt.Sprintf("Picture unchanged for %d frames", c.engine.Config().StoppedFrames))
		}
	}
	return pending
}

// onTransition maps handler transitions to the lifecycle and raises
// connection notifications.
func (c *Camera) onTransition(gen uint64, t stream.Transition) {
	c.mu.Lock()
	if gen != c.gen || c.stopping {
		c.mu.Unlock()
		return
	}

	from := c.lifecycle
	to := from
	var pending []Notification
	switch t.To {
	case stream.StateConnecting:
		to = LifecycleConnecting
	case stream.StateConnected:
		to = LifecycleRunning
		pending = c.emitLocked(pending, KindConnected, SeverityInfo, "Connected")
	case stream.StateReconnecting:
		to = LifecycleReconnecting
		if t.From == stream.StateConnected {
			pending = c.emitLocked(pending, KindConnectionLost, SeverityWarning, "Connection lost: "+errString(t.Err))
		}
	case stream.StateFailed:
		to = LifecycleFailed
		pending = c.emitLocked(pending, KindFailed, SeverityError, "Gave up reconnecting: "+errString(t.Err))
	case stream.StateDisconnected:
		to = LifecycleIdle
		if t.From == stream.StateConnected {
			pending = c.emitLocked(pending, KindConnectionLost, SeverityWarning, "Connection lost: "+errString(t.Err))
		}
	}
	c.conn = t.To
	if to != from {
		c.lifecycle = to
		c.since = t.At
	}
	c.mu.Unlock()

	if to != from {
		c.publishState(from, to, t.To, t.Attempt, t.Err)
	}
	c.dispatch(pending)
}

// emitLocked appends a notification for kind unless its key is cooling
// down. Caller holds mu.
func (c *Camera) emitLocked(pending []Notification, kind Kind, severity Severity, message string) []Notification {
	now := c.now()
	if !c.cooldown.allow(notificationKey(c.cfg.ID, kind), now) {
		c.logger.Debug("Notification suppressed by cooldown", "kind", kind)
		return pending
	}
	return append(pending, newNotification(c.cfg.ID, c.cfg.Name, kind, severity, message, now))
}

func (c *Camera) dispatch(pending []Notification) {
	for _, n := range pending {
		switch n.Severity {
		case SeverityError:
			c.logger.Error("Camera alert", "kind", n.Kind, "message", n.Message)
		case SeverityWarning:
			c.logger.Warn("Camera alert", "kind", n.Kind, "message", n.Message)
		default:
			c.logger.Info("Camera notice", "kind", n.Kind, "message", n.Message)
		}
		if c.notify != nil {
			c.notify(n)
		}
	}
}

func (c *Camera) publishState(from, to Lifecycle, conn stream.State, attempt int, err error) {
	if c.bus == nil {
		return
	}
	ev := events.CameraStateChangedEvent{
		CameraID:   c.cfg.ID,
		From:       string(from),
		To:         string(to),
		Connection: string(conn),
		Attempt:    attempt,
		Timestamp:  c.now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.bus.Publish(ev)
}

// AnalysisStats summarizes the analysis side of a camera.
type AnalysisStats struct {
	FramesAnalyzed  uint64 `json:"frames_analyzed"`
	FrozenEpisodes  uint64 `json:"frozen_episodes"`
	StoppedEpisodes uint64 `json:"stopped_episodes"`
	PixelatedFrames uint64 `json:"pixelated_frames"`
	Errors          uint64 `json:"errors"`
	// Dropped counts frames the analysis goroutine was too slow to take.
	Dropped uint64 `json:"dropped"`
	Panics  uint64 `json:"panics"`
}

// Status is a point-in-time view of a camera.
type Status struct {
	ID                string               `json:"id"`
	Name              string               `json:"name"`
	URL               string               `json:"url"`
	Lifecycle         Lifecycle            `json:"lifecycle"`
	Since             time.Time            `json:"since"`
	Connection        stream.State         `json:"connection"`
	Stream            stream.Stats         `json:"stream"`
	Diagnostics       *diagnostics.Result  `json:"diagnostics"`
	Analysis          AnalysisStats        `json:"analysis"`
	Alerts            []Kind               `json:"alerts"`
	LastNotifications map[string]time.Time `json:"last_notifications,omitempty"`
}

// Status returns the camera's current status. Lifecycle and connection
// state are read together under the camera lock; counters come from one
// snapshot of the handler taken just before. Until a frame was analyzed
// Diagnostics carries the neutral quality.
func (c *Camera) Status() Status {
	c.mu.Lock()
	h := c.handler
	sub := c.sub
	c.mu.Unlock()

	st := h.Stats()
	es := c.engine.Stats()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Status{
		ID:         c.cfg.ID,
		Name:       c.cfg.Name,
		URL:        media.RedactURL(c.cfg.Stream.URL),
		Lifecycle:  c.lifecycle,
		Since:      c.since,
		Connection: c.conn,
		Stream:     st,
		Analysis: AnalysisStats{
			FramesAnalyzed:  es.FramesAnalyzed,
			FrozenEpisodes:  es.FrozenEpisodes,
			StoppedEpisodes: es.StoppedEpisodes,
			PixelatedFrames: es.PixelatedFrames,
			Errors:          es.Errors,
			Panics:          c.panics,
		},
		Alerts:            c.alertsLocked(),
		LastNotifications: c.cooldown.snapshot(),
	}
	if sub != nil {
		s.Analysis.Dropped = sub.Dropped()
	}
	s.Stream.State = c.conn
	latest := c.latest
	s.Diagnostics = &latest
	return s
}

func (c *Camera) alertsLocked() []Kind {
	alerts := []Kind{}
	if c.conditions.frozen {
		alerts = append(alerts, KindFrozen)
	}
	if c.conditions.pixelated {
		alerts = append(alerts, KindPixelated)
	}
	if c.conditions.qualityLow {
		alerts = append(alerts, KindQualityLow)
	}
	if c.conditions.stopped {
		alerts = append(alerts, KindStoppedPicture)
	}
	return alerts
}

// Metrics converts the status into a metrics sample.
func (s Status) Metrics() metrics.CameraMetrics {
	m := metrics.CameraMetrics{
		State:          string(s.Connection),
		FPS:            s.Stream.FPS,
		BitrateKbps:    s.Stream.BitrateKbps,
		ErrorRate:      s.Stream.ErrorRate,
		FramesReceived: s.Stream.FramesReceived,
		FramesDropped:  s.Stream.FramesDropped,
		Reconnects:     s.Stream.Reconnects,
		BufferedBytes:  s.Stream.BufferedBytes,
	}
	if d := s.Diagnostics; d != nil {
		m.Quality = d.Quality
		m.Sharpness = d.Sharpness
		m.Contrast = d.Contrast
		m.Frozen = d.Frozen
		m.Pixelated = d.Pixelated
	}
	return m
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
