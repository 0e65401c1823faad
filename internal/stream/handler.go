// Package stream keeps one camera connection alive and feeds its decoded
// frames to a shared buffer and to subscribers.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/camwatch/internal/frames"
	"github.com/smazurov/camwatch/internal/logging"
	"github.com/smazurov/camwatch/internal/media"
)

// ErrFailed is returned by Connect while the handler is in the failed state.
var ErrFailed = errors.New("stream failed, restart required")

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithOnStateChange registers a callback for state transitions. Callbacks
// run in transition order on the goroutine that caused the change; they must
// not call Stop or Restart on the same handler.
func WithOnStateChange(fn func(Transition)) Option {
	return func(h *Handler) { h.onStateChange = fn }
}

// WithSleep replaces the backoff wait. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(h *Handler) { h.sleep = fn }
}

// WithRandom replaces the jitter source.
func WithRandom(fn func() float64) Option {
	return func(h *Handler) { h.random = fn }
}

// Handler owns one camera connection: dialing, reconnection, the two
// capture loops and the frame buffer.
type Handler struct {
	id            string
	cfg           Config
	dialer        media.Dialer
	logger        *slog.Logger
	buffer        *frames.Buffer
	onStateChange func(Transition)
	sleep         func(ctx context.Context, d time.Duration) error
	random        func() float64

	monitoringSubs *fanout[*frames.Frame]
	videoSubs      *fanout[*frames.Frame]
	errorSubs      *fanout[ErrorEvent]

	// serializes dials so at most one connection exists
	dialMu sync.Mutex
	// orders state change callbacks
	notifyMu sync.Mutex

	mu              sync.Mutex
	state           State
	url             string
	session         media.Session
	epoch           uint64
	seq             uint64
	framesReceived  uint64
	decodeErrors    uint64
	bufferEvictions uint64
	oversized       uint64
	consecutive     int
	reconnects      uint64
	lastError       string
	lastErrorAt     time.Time
	lastFrameAt     time.Time
	lastConnectedAt time.Time
	rate            rateWindow
	errRate         ewma

	subscriberDrops atomic.Uint64

	lifeMu      sync.Mutex
	cancel      context.CancelFunc
	runCtx      context.Context
	stopAfter   func() bool
	supervising bool
	loops       map[Feed]float64
	wg          sync.WaitGroup
	lost        chan struct{}
}

// NewHandler creates a handler for cfg. Nothing connects until Connect or Start.
func NewHandler(id string, cfg Config, dialer media.Dialer, opts ...Option) *Handler {
	h := &Handler{
		id:             id,
		cfg:            cfg,
		dialer:         dialer,
		buffer:         frames.NewBuffer(cfg.BufferCapacity),
		sleep:          sleepContext,
		random:         rand.Float64,
		monitoringSubs: newFanout[*frames.Frame](),
		videoSubs:      newFanout[*frames.Frame](),
		errorSubs:      newFanout[ErrorEvent](),
		state:          StateDisconnected,
		url:            cfg.URL,
		rate:           rateWindow{window: cfg.RateWindow},
		errRate:        ewma{alpha: cfg.ErrorRateAlpha},
		loops:          make(map[Feed]float64),
		lost:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.GetLogger("stream").With("camera_id", id)
	}
	if h.rate.window <= 0 {
		h.rate.window = 5 * time.Second
	}
	if h.errRate.alpha <= 0 {
		h.errRate.alpha = 0.1
	}
	return h
}

// ID returns the camera id the handler serves.
func (h *Handler) ID() string {
	return h.id
}

// State returns the current connection state.
func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Buffer exposes the shared frame buffer.
func (h *Handler) Buffer() *frames.Buffer {
	return h.buffer
}

// Connect performs one connection attempt to url. On success the previous
// session is replaced, the buffer is cleared and a new epoch begins.
func (h *Handler) Connect(ctx context.Context, url string, timeout time.Duration) error {
	h.mu.Lock()
	if h.state == StateFailed {
		h.mu.Unlock()
		return ErrFailed
	}
	if url != "" {
		h.url = url
	}
	if timeout > 0 {
		h.cfg.ConnectTimeout = timeout
	}
	h.mu.Unlock()

	h.setState(StateConnecting, 1, nil, false)
	err := h.dial(ctx, 1)
	if err != nil {
		h.recordConnectFailure(err)
		h.setState(StateDisconnected, 1, err, false)
	}
	return err
}

// Start launches the supervisor that owns reconnection. Cancelling ctx stops
// every goroutine of the handler. Calling Start twice is a no-op.
func (h *Handler) Start(ctx context.Context) {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if h.supervising {
		return
	}
	runCtx := h.ensureRunLocked()
	cancel := h.cancel
	h.stopAfter = context.AfterFunc(ctx, cancel)
	h.supervising = true

	h.wg.Add(1)
	go h.supervise(runCtx)
}

// StartMonitoring starts the low-rate capture loop that feeds FeedMonitoring.
func (h *Handler) StartMonitoring(hz float64) {
	h.startLoop(FeedMonitoring, hz)
}

// StartVideoStream starts the live-view capture loop that feeds FeedVideo.
func (h *Handler) StartVideoStream(hz float64) {
	h.startLoop(FeedVideo, hz)
}

func (h *Handler) startLoop(feed Feed, hz float64) {
	if hz <= 0 {
		return
	}

	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if _, running := h.loops[feed]; running && h.runCtx != nil {
		return
	}
	h.loops[feed] = hz
	runCtx := h.ensureRunLocked()

	h.wg.Add(1)
	go h.captureLoop(runCtx, feed, hz)
}

// ensureRunLocked returns the lifecycle context, creating it if needed.
// Caller holds lifeMu.
func (h *Handler) ensureRunLocked() context.Context {
	if h.runCtx == nil {
		h.runCtx, h.cancel = context.WithCancel(context.Background())
	}
	return h.runCtx
}

// CurrentFrame returns the latest buffered frame unless none arrived yet or
// it is older than FrameMaxAge. It never blocks on I/O.
func (h *Handler) CurrentFrame() (*frames.Frame, bool) {
	f, ok := h.buffer.Latest()
	if !ok {
		return nil, false
	}
	if h.cfg.FrameMaxAge > 0 && time.Since(f.Timestamp) > h.cfg.FrameMaxAge {
		return nil, false
	}
	return f, true
}

// SubscribeFrames returns a subscription to frames read by feed's loop.
func (h *Handler) SubscribeFrames(feed Feed, size int) *Subscription[*frames.Frame] {
	if feed == FeedVideo {
		return h.videoSubs.subscribe(size)
	}
	return h.monitoringSubs.subscribe(size)
}

// SubscribeErrors returns a subscription to connection, capture and decode
// failures.
func (h *Handler) SubscribeErrors(size int) *Subscription[ErrorEvent] {
	return h.errorSubs.subscribe(size)
}

// Stop tears the handler down: loops and supervisor exit, the session and
// decoder close, buffer memory is released and subscriptions end.
// Safe to call repeatedly.
func (h *Handler) Stop() {
	h.teardown(true)
	h.setState(StateDisconnected, 0, nil, false)
}

// Restart stops everything, clears statistics and starts again with the
// loops that were running. It is the only way out of StateFailed.
// Subscriptions survive a restart.
func (h *Handler) Restart(ctx context.Context) {
	h.lifeMu.Lock()
	loops := make(map[Feed]float64, len(h.loops))
	for feed, hz := range h.loops {
		loops[feed] = hz
	}
	h.lifeMu.Unlock()

	h.teardown(false)
	h.resetStats()
	h.monitoringSubs.reopen()
	h.videoSubs.reopen()
	h.errorSubs.reopen()
	h.setState(StateDisconnected, 0, nil, true)

	h.Start(ctx)
	for feed, hz := range loops {
		h.startLoop(feed, hz)
	}
}

func (h *Handler) teardown(final bool) {
	h.lifeMu.Lock()
	cancel := h.cancel
	stopAfter := h.stopAfter
	h.cancel = nil
	h.runCtx = nil
	h.stopAfter = nil
	h.supervising = false
	if final {
		clear(h.loops)
	}
	h.lifeMu.Unlock()

	if stopAfter != nil {
		stopAfter()
	}
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()

	h.mu.Lock()
	sess := h.session
	h.session = nil
	h.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
	h.buffer.Clear()

	select {
	case <-h.lost:
	default:
	}

	if final {
		h.monitoringSubs.closeAll()
		h.videoSubs.closeAll()
		h.errorSubs.closeAll()
	}
}

func (h *Handler) resetStats() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.framesReceived = 0
	h.decodeErrors = 0
	h.bufferEvictions = 0
	h.oversized = 0
	h.consecutive = 0
	h.reconnects = 0
	h.lastError = ""
	h.lastErrorAt = time.Time{}
	h.lastFrameAt = time.Time{}
	h.lastConnectedAt = time.Time{}
	h.rate.reset()
	h.errRate.value = 0
	h.subscriberDrops.Store(0)
}

// supervise connects, waits for loss and reconnects until the retry budget
// runs out or ctx ends.
func (h *Handler) supervise(ctx context.Context) {
	defer h.wg.Done()

	resumed := false
	for {
		h.mu.Lock()
		state := h.state
		connected := h.session != nil
		h.mu.Unlock()

		if state == StateFailed {
			return
		}
		if !connected {
			if !h.connectLoop(ctx, resumed) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-h.lost:
			resumed = true
		}
	}
}

// connectLoop dials with backoff. resumed means the connection was lost and
// the Reconnecting transition was already reported. It returns false when
// the handler failed or ctx ended.
func (h *Handler) connectLoop(ctx context.Context, resumed bool) bool {
	attempt := 1
	waits := 0
	if !resumed {
		h.setState(StateConnecting, attempt, nil, false)
	}

	for {
		if resumed || attempt > 1 {
			waits++
			delay := h.cfg.Backoff.Delay(waits, h.random())
			h.logger.Debug("Waiting before reconnect", "attempt", attempt, "delay", delay)
			if err := h.sleep(ctx, delay); err != nil {
				return false
			}
			h.mu.Lock()
			h.reconnects++
			h.mu.Unlock()
		}

		err := h.dial(ctx, attempt)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		failures := h.recordConnectFailure(err)
		if failures >= h.cfg.MaxConsecutiveFailures {
			h.logger.Error("Giving up on stream", "failures", failures, "error", err)
			h.setState(StateFailed, attempt, err, false)
			return false
		}

		h.logger.Warn("Connection attempt failed", "attempt", attempt, "error", err)
		attempt++
		h.setState(StateReconnecting, attempt, err, false)
	}
}

// dial opens a session and installs it as the active one.
func (h *Handler) dial(ctx context.Context, attempt int) error {
	h.dialMu.Lock()
	defer h.dialMu.Unlock()

	h.mu.Lock()
	url := h.url
	timeout := h.cfg.ConnectTimeout
	old := h.session
	h.session = nil
	h.mu.Unlock()

	// at most one connection per camera: drop the old one before dialing
	if old != nil {
		_ = old.Close()
	}

	sess, err := h.dialer.Dial(ctx, url, timeout)
	if err != nil {
		var ce *media.ConnectError
		if !errors.As(err, &ce) {
			err = media.NewConnectError(media.Classify(err), url, err)
		}
		h.errorSubs.publish(ErrorEvent{Kind: ErrorConnect, Err: err, At: time.Now()})
		return err
	}
	if ctx.Err() != nil {
		_ = sess.Close()
		return ctx.Err()
	}

	h.mu.Lock()
	h.session = sess
	h.epoch++
	h.seq = 0
	h.consecutive = 0
	h.lastConnectedAt = time.Now()
	h.rate.reset()
	h.buffer.Clear()
	epoch := h.epoch
	h.mu.Unlock()

	select {
	case <-h.lost:
	default:
	}

	h.logger.Info("Stream connected", "attempt", attempt, "epoch", epoch)
	h.setState(StateConnected, attempt, nil, false)
	return nil
}

func (h *Handler) recordConnectFailure(err error) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutive++
	h.lastError = err.Error()
	h.lastErrorAt = time.Now()
	return h.consecutive
}

// setState records a transition and reports it. Leaving StateFailed needs
// force. Repeated Reconnecting transitions are reported, one per attempt.
func (h *Handler) setState(to State, attempt int, err error, force bool) {
	h.mu.Lock()
	from := h.state
	if from == StateFailed && !force {
		h.mu.Unlock()
		return
	}
	if from == to && to != StateReconnecting {
		h.mu.Unlock()
		return
	}
	h.state = to
	t := Transition{From: from, To: to, Attempt: attempt, Err: err, At: time.Now()}

	// hand over to notifyMu so callbacks observe transitions in order
	h.notifyMu.Lock()
	h.mu.Unlock()
	defer h.notifyMu.Unlock()

	h.logger.Debug("Stream state changed", "from", from, "to", to, "attempt", attempt)
	if h.onStateChange != nil {
		h.onStateChange(t)
	}
}

// captureLoop reads frames at hz until ctx ends.
func (h *Handler) captureLoop(ctx context.Context, feed Feed, hz float64) {
	defer h.wg.Done()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		h.readOnce(ctx, feed)
	}
}

func (h *Handler) readOnce(ctx context.Context, feed Feed) {
	h.mu.Lock()
	sess := h.session
	epoch := h.epoch
	readTimeout := h.cfg.ReadTimeout
	h.mu.Unlock()

	if sess == nil {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	img, err := sess.ReadFrame(readCtx)
	cancel()

	switch {
	case err == nil:
		h.accept(img, epoch, feed)
	case ctx.Err() != nil:
		return
	case media.IsDecodeError(err):
		h.recordDecodeError(err)
	case errors.Is(err, context.DeadlineExceeded):
		h.captureFailed(epoch, fmt.Errorf("%w (%s)", media.ErrReadTimeout, readTimeout))
	default:
		h.captureFailed(epoch, err)
	}
}

// accept stores a decoded image and publishes it to feed's subscribers.
func (h *Handler) accept(img media.Image, epoch uint64, feed Feed) {
	if img.Width <= 0 || img.Height <= 0 || len(img.Pix) != img.Width*img.Height {
		h.recordDecodeError(&media.DecodeError{Count: 1, Reason: fmt.Sprintf("bad picture %dx%d with %d bytes", img.Width, img.Height, len(img.Pix))})
		return
	}

	now := time.Now()
	ts := img.Timestamp
	if ts.IsZero() {
		ts = now
	}

	h.mu.Lock()
	if h.session == nil || h.epoch != epoch {
		h.mu.Unlock()
		return
	}
	h.seq++
	f := &frames.Frame{
		Seq:       h.seq,
		Epoch:     epoch,
		Timestamp: ts,
		Width:     img.Width,
		Height:    img.Height,
		Pix:       img.Pix,
	}
	evicted, stored := h.buffer.Push(f)
	h.bufferEvictions += uint64(evicted)
	if !stored {
		h.oversized++
	}
	h.framesReceived++
	h.lastFrameAt = now
	h.rate.add(now, f.Size())
	h.errRate.observe(false)
	h.mu.Unlock()

	subs := h.monitoringSubs
	if feed == FeedVideo {
		subs = h.videoSubs
	}
	if dropped := subs.publish(f); dropped > 0 {
		h.subscriberDrops.Add(uint64(dropped))
	}
}

func (h *Handler) recordDecodeError(err error) {
	h.mu.Lock()
	h.decodeErrors++
	h.errRate.observe(true)
	h.lastError = err.Error()
	h.lastErrorAt = time.Now()
	h.mu.Unlock()

	h.logger.Debug("Frame skipped", "error", err)
	h.errorSubs.publish(ErrorEvent{Kind: ErrorDecode, Err: err, At: time.Now()})
}

// captureFailed drops the session of epoch and wakes the supervisor.
// Reports for an already replaced session are ignored.
func (h *Handler) captureFailed(epoch uint64, err error) {
	h.mu.Lock()
	if h.session == nil || h.epoch != epoch {
		h.mu.Unlock()
		return
	}
	sess := h.session
	h.session = nil
	h.errRate.observe(true)
	h.lastError = err.Error()
	h.lastErrorAt = time.Now()
	h.mu.Unlock()

	h.logger.Warn("Stream lost", "error", err)
	// close before reconnecting so two sessions never overlap
	_ = sess.Close()
	h.errorSubs.publish(ErrorEvent{Kind: ErrorCapture, Err: err, At: time.Now()})

	h.lifeMu.Lock()
	supervised := h.supervising
	h.lifeMu.Unlock()

	if supervised {
		h.setState(StateReconnecting, 1, err, false)
		select {
		case h.lost <- struct{}{}:
		default:
		}
	} else {
		h.setState(StateDisconnected, 0, err, false)
	}
}

// ErrorRate returns the smoothed fraction of failed reads in [0,1].
func (h *Handler) ErrorRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errRate.value
}

// Stats returns a consistent snapshot of the handler.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	fps, kbps := h.rate.rates(time.Now())
	return Stats{
		State:             h.state,
		Epoch:             h.epoch,
		FramesReceived:    h.framesReceived,
		FramesDropped:     h.decodeErrors + h.bufferEvictions + h.oversized,
		DecodeErrors:      h.decodeErrors,
		BufferEvictions:   h.bufferEvictions + h.oversized,
		SubscriberDrops:   h.subscriberDrops.Load(),
		ConsecutiveErrors: h.consecutive,
		Reconnects:        h.reconnects,
		FPS:               fps,
		BitrateKbps:       kbps,
		ErrorRate:         h.errRate.value,
		LastError:         h.lastError,
		LastErrorAt:       h.lastErrorAt,
		LastFrameAt:       h.lastFrameAt,
		LastConnectedAt:   h.lastConnectedAt,
		BufferedFrames:    h.buffer.Len(),
		BufferedBytes:     h.buffer.Bytes(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
