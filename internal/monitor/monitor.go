// Package monitor coordinates cameras: each pairs a stream handler with a
// diagnostics engine, and the Monitor keeps the registry and the shared
// notification log.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/camwatch/internal/events"
	"github.com/smazurov/camwatch/internal/frames"
	"github.com/smazurov/camwatch/internal/logging"
	"github.com/smazurov/camwatch/internal/media"
	"github.com/smazurov/camwatch/internal/metrics"
)

// DefaultMaxNotifications caps the notification log.
const DefaultMaxNotifications = 100

var (
	// ErrCameraNotFound is returned for unknown camera ids.
	ErrCameraNotFound = errors.New("camera not found")
	// ErrCameraExists is returned when adding a duplicate camera id.
	ErrCameraExists = errors.New("camera already exists")
	// ErrNoFrame is returned when a camera has no recent frame.
	ErrNoFrame = errors.New("no current frame")
)

// DialerFactory builds the media dialer for a camera.
type DialerFactory func(cfg CameraConfig) media.Dialer

// FFmpegDialers is the production DialerFactory.
func FFmpegDialers(cfg CameraConfig) media.Dialer {
	return media.NewFFmpegDialer(cfg.ID, cfg.Decoder, logging.GetLogger("media").With("camera_id", cfg.ID))
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBus publishes registry, state, diagnostics and notification events.
func WithBus(bus *events.Bus) Option {
	return func(m *Monitor) { m.bus = bus }
}

// WithDialerFactory replaces FFmpegDialers.
func WithDialerFactory(f DialerFactory) Option {
	return func(m *Monitor) { m.dialers = f }
}

// WithMaxNotifications caps the notification log.
func WithMaxNotifications(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.log.max = n
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithCameraOptions applies opts to every camera the monitor creates.
func WithCameraOptions(opts ...CameraOption) Option {
	return func(m *Monitor) { m.cameraOpts = append(m.cameraOpts, opts...) }
}

// Monitor is the camera registry.
type Monitor struct {
	bus        *events.Bus
	dialers    DialerFactory
	logger     *slog.Logger
	cameraOpts []CameraOption

	mu      sync.RWMutex
	cameras map[string]*Camera
	runCtx  context.Context

	notifyMu sync.Mutex
	log      notificationLog
}

// New creates an empty monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		dialers: FFmpegDialers,
		cameras: make(map[string]*Camera),
		log:     notificationLog{max: DefaultMaxNotifications},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.GetLogger("monitor")
	}
	return m
}

func (m *Monitor) newCamera(cfg CameraConfig) *Camera {
	opts := []CameraOption{WithEventBus(m.bus), WithNotifier(m.record)}
	opts = append(opts, m.cameraOpts...)
	return NewCamera(cfg, m.dialers(cfg), opts...)
}

// Add registers a camera. Once StartAll ran, the camera starts right away.
func (m *Monitor) Add(cfg CameraConfig) (*Camera, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, ok := m.cameras[cfg.ID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrCameraExists, cfg.ID)
	}
	cam := m.newCamera(cfg)
	m.cameras[cfg.ID] = cam
	runCtx := m.runCtx
	m.mu.Unlock()

	m.logger.Info("Camera added", "camera_id", cfg.ID, "name", cfg.Name)
	m.bus.Publish(events.CameraAddedEvent{
		CameraID:  cfg.ID,
		Name:      cfg.Name,
		Timestamp: time.Now().Format(time.RFC3339),
	})

	if runCtx != nil {
		if err := cam.Start(runCtx); err != nil {
			return cam, fmt.Errorf("start camera %s: %w", cfg.ID, err)
		}
	}
	return cam, nil
}

// Remove stops a camera and forgets it.
func (m *Monitor) Remove(id string) error {
	m.mu.Lock()
	cam, ok := m.cameras[id]
	if ok {
		delete(m.cameras, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	cam.Stop()
	metrics.DeleteCameraMetrics(id)
	m.logger.Info("Camera removed", "camera_id", id)
	m.bus.Publish(events.CameraRemovedEvent{
		CameraID:  id,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	return nil
}

// Get returns the camera with id.
func (m *Monitor) Get(id string) (*Camera, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cam, ok := m.cameras[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	return cam, nil
}

// List returns every camera ordered by id.
func (m *Monitor) List() []*Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Camera, 0, len(m.cameras))
	for _, id := range slices.Sorted(maps.Keys(m.cameras)) {
		out = append(out, m.cameras[id])
	}
	return out
}

// Status returns the status of camera id.
func (m *Monitor) Status(id string) (Status, error) {
	cam, err := m.Get(id)
	if err != nil {
		return Status{}, err
	}
	return cam.Status(), nil
}

// Statuses returns the status of every camera ordered by id.
func (m *Monitor) Statuses() []Status {
	cams := m.List()
	out := make([]Status, 0, len(cams))
	for _, cam := range cams {
		out = append(out, cam.Status())
	}
	return out
}

// CurrentFrame returns the latest frame of camera id.
func (m *Monitor) CurrentFrame(id string) (*frames.Frame, error) {
	cam, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	f, ok := cam.CurrentFrame()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFrame, id)
	}
	return f, nil
}

// Restart restarts camera id.
func (m *Monitor) Restart(id string) error {
	cam, err := m.Get(id)
	if err != nil {
		return err
	}
	return cam.Restart(m.context())
}

// Stop stops camera id. It stays registered and stopped until restarted.
func (m *Monitor) Stop(id string) error {
	cam, err := m.Get(id)
	if err != nil {
		return err
	}
	cam.Stop()
	return nil
}

func (m *Monitor) context() context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

// StartAll starts every registered camera and every camera added later.
func (m *Monitor) StartAll(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	for _, cam := range m.List() {
		if err := cam.Start(ctx); err != nil {
			m.logger.Warn("Camera not started", "camera_id", cam.ID(), "error", err)
		}
	}
}

// StopAll stops every camera concurrently and waits for them.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	m.runCtx = nil
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, cam := range m.List() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cam.Stop()
		}()
	}
	wg.Wait()
}

// ApplyResult lists what Apply changed.
type ApplyResult struct {
	Added     []string
	Removed   []string
	Restarted []string
}

// Apply reconciles the registry with cfgs: new cameras are added, missing
// ones removed and changed ones replaced. Nothing changes when any config
// is invalid.
func (m *Monitor) Apply(cfgs []CameraConfig) (ApplyResult, error) {
	var result ApplyResult

	wanted := make(map[string]CameraConfig, len(cfgs))
	var errs []error
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := wanted[cfg.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrCameraExists, cfg.ID))
			continue
		}
		wanted[cfg.ID] = cfg
	}
	if err := errors.Join(errs...); err != nil {
		m.publishReload(result, err)
		return result, err
	}

	m.mu.RLock()
	for id, cam := range m.cameras {
		cfg, keep := wanted[id]
		switch {
		case !keep:
			result.Removed = append(result.Removed, id)
		case !reflect.DeepEqual(cfg, cam.Config()):
			result.Restarted = append(result.Restarted, id)
		}
	}
	for id := range wanted {
		if _, ok := m.cameras[id]; !ok {
			result.Added = append(result.Added, id)
		}
	}
	m.mu.RUnlock()

	slices.Sort(result.Added)
	slices.Sort(result.Removed)
	slices.Sort(result.Restarted)

	for _, id := range result.Removed {
		errs = append(errs, ignoreNotFound(m.Remove(id)))
	}
	for _, id := range result.Restarted {
		errs = append(errs, ignoreNotFound(m.Remove(id)))
		_, err := m.Add(wanted[id])
		errs = append(errs, err)
	}
	for _, id := range result.Added {
		_, err := m.Add(wanted[id])
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	m.logger.Info("Applied camera configuration",
		"added", len(result.Added), "removed", len(result.Removed), "restarted", len(result.Restarted))
	m.publishReload(result, err)
	return result, err
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrCameraNotFound) {
		return nil
	}
	return err
}

func (m *Monitor) publishReload(r ApplyResult, err error) {
	ev := events.CamerasReloadedEvent{
		Added:     r.Added,
		Removed:   r.Removed,
		Restarted: r.Restarted,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	m.bus.Publish(ev)
}

// record stores a camera notification and fans it out.
func (m *Monitor) record(n Notification) {
	m.notifyMu.Lock()
	m.log.add(n)
	m.notifyMu.Unlock()

	metrics.IncNotification(n.CameraID, string(n.Kind))
	m.bus.Publish(events.NotificationEvent{
		ID:         n.ID,
		CameraID:   n.CameraID,
		CameraName: n.CameraName,
		Severity:   string(n.Severity),
		Kind:       string(n.Kind),
		Message:    n.Message,
		Key:        n.Key,
		Timestamp:  n.Timestamp.Format(time.RFC3339),
	})
}

// Notifications returns the notification log, most recent first.
func (m *Monitor) Notifications() []Notification {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	return m.log.list()
}

// ClearNotifications empties the notification log and returns how many
// entries it held.
func (m *Monitor) ClearNotifications() int {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	n := len(m.log.items)
	m.log.items = nil
	return n
}

// Metrics samples every camera for the metrics collector.
func (m *Monitor) Metrics() map[string]metrics.CameraMetrics {
	out := make(map[string]metrics.CameraMetrics)
	for _, s := range m.Statuses() {
		out[s.ID] = s.Metrics()
	}
	return out
}
