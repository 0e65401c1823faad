// Package collectors samples camera state into the metrics package.
package collectors

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/camwatch/internal/logging"
	"github.com/smazurov/camwatch/internal/metrics"
)

// Source returns the current metrics of every camera, keyed by camera id.
type Source func() map[string]metrics.CameraMetrics

// CameraCollector periodically records camera metrics and forgets cameras
// that disappeared from the source.
type CameraCollector struct {
	logger   logging.Logger
	source   Source
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	known map[string]struct{}
}

// NewCameraCollector creates a collector sampling source every interval.
func NewCameraCollector(source Source, interval time.Duration) *CameraCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &CameraCollector{
		logger:   logging.GetLogger("metrics"),
		source:   source,
		interval: interval,
		known:    make(map[string]struct{}),
	}
}

// Start begins collecting camera metrics.
func (c *CameraCollector) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run()
	return nil
}

// Stop stops the collector and waits for it to exit.
func (c *CameraCollector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *CameraCollector) run() {
	defer c.wg.Done()
	c.logger.Info("Starting camera metrics collection", "interval", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect records one sample of every camera.
func (c *CameraCollector) Collect() {
	samples := c.source()

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, m := range samples {
		metrics.RecordCamera(id, m)
		c.known[id] = struct{}{}
	}
	for id := range c.known {
		if _, ok := samples[id]; !ok {
			metrics.DeleteCameraMetrics(id)
			delete(c.known, id)
			c.logger.Debug("Removed metrics for camera", "camera_id", id)
		}
	}
}
