package stream

import (
	"errors"
	"math"
	"time"
)

// Backoff configures the reconnection delay
// min(Max, Initial*Multiplier^(n-1)) reduced by up to Jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction in [0,1)
}

// Delay returns the wait before retry n (1-based). r is a uniform random
// value in [0,1). Jitter only shortens the delay, so delays stay strictly
// increasing below the cap when Multiplier*(1-Jitter) > 1.
func (b Backoff) Delay(n int, r float64) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(n-1))
	if d > float64(b.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		d = float64(b.Max)
	}
	d *= 1 - b.Jitter*r
	return time.Duration(d)
}

// Config holds per-camera stream settings.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	// ReadTimeout bounds a single frame read; exceeding it counts as a lost
	// connection.
	ReadTimeout time.Duration
	// FrameMaxAge is the grace period after which CurrentFrame reports no
	// frame. Zero disables the check.
	FrameMaxAge            time.Duration
	BufferCapacity         int
	MonitoringHz           float64
	VideoHz                float64
	Backoff                Backoff
	MaxConsecutiveFailures int
	// ErrorRateAlpha is the smoothing factor of the read error rate.
	ErrorRateAlpha float64
	// RateWindow is the span FPS and bitrate are averaged over.
	RateWindow time.Duration
}

// DefaultConfig returns the stream defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    10 * time.Second,
		FrameMaxAge:    5 * time.Second,
		BufferCapacity: 8 << 20,
		MonitoringHz:   10,
		VideoHz:        20,
		Backoff: Backoff{
			Initial:    time.Second,
			Max:        30 * time.Second,
			Multiplier: 2,
			Jitter:     0.2,
		},
		MaxConsecutiveFailures: 5,
		ErrorRateAlpha:         0.1,
		RateWindow:             5 * time.Second,
	}
}

// Validate reports settings the handler cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.BufferCapacity <= 0 {
		errs = append(errs, errors.New("buffer capacity must be positive"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("connect timeout must be positive"))
	}
	if c.ReadTimeout <= 0 {
		errs = append(errs, errors.New("read timeout must be positive"))
	}
	if c.MaxConsecutiveFailures < 1 {
		errs = append(errs, errors.New("max consecutive failures must be at least 1"))
	}
	if c.Backoff.Initial <= 0 || c.Backoff.Max < c.Backoff.Initial {
		errs = append(errs, errors.New("backoff needs 0 < initial <= max"))
	}
	if c.Backoff.Multiplier < 1 {
		errs = append(errs, errors.New("backoff multiplier must be >= 1"))
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter >= 1 {
		errs = append(errs, errors.New("backoff jitter must be in [0,1)"))
	}
	if c.ErrorRateAlpha <= 0 || c.ErrorRateAlpha > 1 {
		errs = append(errs, errors.New("error rate alpha must be in (0,1]"))
	}
	return errors.Join(errs...)
}
