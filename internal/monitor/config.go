package monitor

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/smazurov/camwatch/internal/diagnostics"
	"github.com/smazurov/camwatch/internal/media"
	"github.com/smazurov/camwatch/internal/stream"
)

var cameraIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// CameraConfig describes one monitored camera.
type CameraConfig struct {
	ID          string
	Name        string
	Stream      stream.Config
	Diagnostics diagnostics.Config
	Decoder     media.DecoderConfig
	// QualityFloor is the quality below which quality_low is raised.
	QualityFloor float64
	// NotificationCooldown suppresses repeats of the same notification key.
	NotificationCooldown time.Duration
	// AnalysisQueue is the monitoring subscription depth. Frames beyond it
	// are dropped and counted.
	AnalysisQueue int
}

// DefaultCameraConfig returns a config with every default filled in.
func DefaultCameraConfig(id, url string) CameraConfig {
	sc := stream.DefaultConfig()
	sc.URL = url
	return CameraConfig{
		ID:          id,
		Name:        id,
		Stream:      sc,
		Diagnostics: diagnostics.DefaultConfig(),
		Decoder: media.DecoderConfig{
			Binary:    "ffmpeg",
			Width:     320,
			Height:    180,
			Transport: "tcp",
		},
		QualityFloor:         0.4,
		NotificationCooldown: time.Minute,
		AnalysisQueue:        4,
	}
}

// Validate reports every problem with the camera config.
func (c CameraConfig) Validate() error {
	var errs []error
	if !cameraIDPattern.MatchString(c.ID) {
		errs = append(errs, fmt.Errorf("invalid camera id %q", c.ID))
	}
	if c.Stream.URL == "" {
		errs = append(errs, errors.New("url is required"))
	}
	if err := c.Stream.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Diagnostics.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Decoder.Width <= 0 || c.Decoder.Height <= 0 {
		errs = append(errs, errors.New("decode size must be positive"))
	}
	if c.QualityFloor < 0 || c.QualityFloor > 1 {
		errs = append(errs, errors.New("quality floor must be in [0,1]"))
	}
	if c.NotificationCooldown < 0 {
		errs = append(errs, errors.New("notification cooldown must not be negative"))
	}
	if c.AnalysisQueue < 1 {
		errs = append(errs, errors.New("analysis queue must be at least 1"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("camera %q: %w", c.ID, err)
	}
	return nil
}
